package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deskhive/chat-server/internal/core"
	"github.com/deskhive/chat-server/internal/proto"
)

type fakeUploader struct {
	calls  int
	result UploadResult
	err    error
}

func (u *fakeUploader) Upload(_ context.Context, name, mimeType string, data []byte, _ ProgressFunc) (UploadResult, error) {
	u.calls++
	if u.err != nil {
		return UploadResult{}, u.err
	}
	res := u.result
	if res.FileName == "" {
		res.FileName = name
	}
	if res.FileType == "" {
		res.FileType = mimeType
	}
	res.FileSize = int64(len(data))
	return res, nil
}

func TestSendFileInlinesSmallNonVideo(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{}
	ctrl, _ := startController(t, Config{
		Identity: identity(core.RoleMember),
		Uploader: up,
	}, ft)
	mustSent(t, ft, proto.TypeRequestUserList)

	data := []byte("just a note")
	if err := ctrl.SendFile(context.Background(), "see attached", "note.txt", "text/plain", data, nil); err != nil {
		t.Fatal(err)
	}
	env := mustSent(t, ft, proto.TypeChatMessage)
	msg, err := env.DecodeChatMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg.FileURL, "data:text/plain;base64,") {
		t.Fatalf("expected inline data URL, got %q", msg.FileURL)
	}
	if up.calls != 0 {
		t.Fatal("small non-video file must not hit the uploader")
	}
}

func TestSendFileUploadsVideo(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{result: UploadResult{FileURL: "/api/chat/files/abc-clip.mp4"}}
	ctrl, _ := startController(t, Config{
		Identity: identity(core.RoleMember),
		Uploader: up,
	}, ft)
	mustSent(t, ft, proto.TypeRequestUserList)

	if err := ctrl.SendFile(context.Background(), "", "clip.mp4", "video/mp4", []byte{0, 1, 2}, nil); err != nil {
		t.Fatal(err)
	}
	env := mustSent(t, ft, proto.TypeChatMessage)
	msg, err := env.DecodeChatMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg.FileURL != "/api/chat/files/abc-clip.mp4" {
		t.Fatalf("expected uploaded file URL, got %q", msg.FileURL)
	}
	if up.calls != 1 {
		t.Fatalf("expected one upload call, got %d", up.calls)
	}
}

func TestSendFileUploadsLargeNonVideo(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{result: UploadResult{FileURL: "/api/chat/files/abc-big.pdf"}}
	ctrl, _ := startController(t, Config{
		Identity:    identity(core.RoleMember),
		Uploader:    up,
		InlineLimit: 8,
	}, ft)
	mustSent(t, ft, proto.TypeRequestUserList)

	if err := ctrl.SendFile(context.Background(), "", "big.pdf", "application/pdf", []byte("way over the limit"), nil); err != nil {
		t.Fatal(err)
	}
	env := mustSent(t, ft, proto.TypeChatMessage)
	if msg, _ := env.DecodeChatMessage(); msg.FileURL != "/api/chat/files/abc-big.pdf" {
		t.Fatalf("expected uploaded file URL, got %q", msg.FileURL)
	}
}

func TestSendFileFailedUploadSendsNothing(t *testing.T) {
	ft := newFakeTransport()
	up := &fakeUploader{err: errors.New("storage down")}
	ctrl, _ := startController(t, Config{
		Identity: identity(core.RoleMember),
		Uploader: up,
	}, ft)
	mustSent(t, ft, proto.TypeRequestUserList)

	err := ctrl.SendFile(context.Background(), "", "clip.mp4", "video/mp4", []byte{0}, nil)
	if err == nil {
		t.Fatal("expected upload error")
	}

	select {
	case env := <-ft.sent:
		t.Fatalf("nothing should reach the wire, got %s", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
	if len(ctrl.Cache().Messages()) != 0 {
		t.Fatal("failed send must not appear in the cache")
	}
}

func TestHTTPUploaderPostsMultipart(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fileUrl":"/api/chat/files/x-` + header.Filename + `","fileName":"` + header.Filename + `","fileType":"video/mp4","fileSize":3}`))
	}))
	defer srv.Close()

	var lastSent, total int64
	up := &HTTPUploader{BaseURL: srv.URL, Token: "tok"}
	res, err := up.Upload(context.Background(), "clip.mp4", "video/mp4", []byte{1, 2, 3}, func(sent, t int64) {
		lastSent, total = sent, t
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FileURL != "/api/chat/files/x-clip.mp4" || res.FileName != "clip.mp4" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if lastSent == 0 || lastSent != total {
		t.Fatalf("progress never completed: sent=%d total=%d", lastSent, total)
	}
}

func TestHTTPUploaderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	up := &HTTPUploader{BaseURL: srv.URL}
	if _, err := up.Upload(context.Background(), "f.txt", "text/plain", []byte("x"), nil); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
