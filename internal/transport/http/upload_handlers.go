package http

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// allowedMimeTypes limits chat uploads to images, video, and documents.
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"image/webp":         {},
	"image/svg+xml":      {},
	"video/mp4":          {},
	"video/webm":         {},
	"video/ogg":          {},
	"video/quicktime":    {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain": {},
}

var extMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".ogg":  "video/ogg",
	".mov":  "video/quicktime",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
}

// UploadHandlers is the blob-upload collaborator: it accepts a chat
// attachment and serves it back by name.
type UploadHandlers struct {
	dir     string
	maxSize int64
	log     *zerolog.Logger
}

// NewUploadHandlers creates upload handlers storing files under dir.
func NewUploadHandlers(dir string, maxSize int64, logger *zerolog.Logger) *UploadHandlers {
	return &UploadHandlers{dir: dir, maxSize: maxSize, log: logger}
}

// UploadResponse is what the chat client folds into a message attachment.
type UploadResponse struct {
	Success  bool   `json:"success"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Upload stores a multipart file and returns its serving URL.
// POST /api/chat/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no file uploaded"})
		return
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		return
	}

	mimeType := file.Header.Get("Content-Type")
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("file type not allowed: %s", mimeType),
		})
		return
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		h.log.Error().Err(err).Str("dir", h.dir).Msg("create upload dir")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store file"})
		return
	}

	storedName := uuid.NewString() + "-" + filepath.Base(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(h.dir, storedName)); err != nil {
		h.log.Error().Err(err).Str("file", storedName).Msg("save uploaded file")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to store file"})
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Success:  true,
		FileURL:  "/api/chat/files/" + storedName,
		FileName: file.Filename,
		FileType: mimeType,
		FileSize: file.Size,
	})
}

// Download streams a previously uploaded file, inline by default or as
// an attachment with ?download=true.
// GET /api/chat/files/:filename
func (h *UploadHandlers) Download(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))
	if filename == "." || filename == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid file name"})
		return
	}

	path := filepath.Join(h.dir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
		return
	}

	mimeType := "application/octet-stream"
	if m, ok := extMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		mimeType = m
	}

	disposition := "inline"
	if c.Query("download") == "true" {
		disposition = "attachment"
	}
	c.Header("Content-Type", mimeType)
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	c.Header("Accept-Ranges", "bytes")
	c.File(path)
}
