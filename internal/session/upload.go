package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// Non-video files below this size travel inline as data URLs, like
// the rest of the message payload. Larger ones and all videos go
// through the blob upload endpoint.
const defaultInlineLimit = 5 << 20

// UploadResult is what the blob endpoint hands back for a stored file.
type UploadResult struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// ProgressFunc receives upload progress as bytes sent so far out of
// the total.
type ProgressFunc func(sent, total int64)

// Uploader stores a file out of band and returns a URL to reference it
// from a chat message.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, data []byte, progress ProgressFunc) (UploadResult, error)
}

// HTTPUploader posts files to the relay's multipart upload endpoint.
type HTTPUploader struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type progressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

// Upload sends the file as multipart form data and decodes the stored
// file's metadata from the response.
func (u *HTTPUploader) Upload(ctx context.Context, name, mimeType string, data []byte, progress ProgressFunc) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build multipart: %w", err)
	}

	reader := &progressReader{r: &body, total: int64(body.Len()), progress: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.BaseURL+"/api/chat/upload", reader)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UploadResult{}, fmt.Errorf("upload %s: status %d", name, resp.StatusCode)
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return out, nil
}

// InlineDataURL encodes a file as a base64 data URL for inline
// delivery inside the message payload.
func InlineDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func isVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, "video/")
}

// SendFile relays a message carrying a file. Videos and oversized
// files are stored via the uploader and referenced by URL; everything
// else is embedded inline as a data URL. If the upload fails, no
// message is sent at all.
func (c *Controller) SendFile(ctx context.Context, text, name, mimeType string, data []byte, progress ProgressFunc) error {
	msg := c.newMessage(text)
	msg.FileName = name
	msg.FileType = mimeType

	if isVideo(mimeType) || int64(len(data)) > c.cfg.InlineLimit {
		if c.cfg.Uploader == nil {
			return fmt.Errorf("send %s: no uploader configured", name)
		}
		res, err := c.cfg.Uploader.Upload(ctx, name, mimeType, data, progress)
		if err != nil {
			return err
		}
		msg.FileURL = res.FileURL
		msg.FileName = res.FileName
		msg.FileType = res.FileType
	} else {
		msg.FileURL = InlineDataURL(mimeType, data)
	}

	return c.sendMessage(ctx, msg)
}
