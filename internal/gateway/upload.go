package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UploadResult describes a stored file.
type UploadResult struct {
	// FileURL is the URL the stored file is reachable at.
	FileURL string
	// FileName is the original name of the uploaded file.
	FileName string
}

// Uploader stores uploaded radiograph images and returns a URL for them.
type Uploader interface {
	Upload(ctx context.Context, fileName, contentType string, r io.Reader) (*UploadResult, error)
}

// maxUploadBytes caps a single uploaded image at 25 MiB.
const maxUploadBytes = 25 << 20

// DiskUploader stores files on local disk under a content-addressed name and
// serves them under baseURL. Filenames are never trusted: the stored name is
// a fresh UUID with the original extension.
type DiskUploader struct {
	dir     string
	baseURL string
}

// NewDiskUploader creates a DiskUploader rooted at dir, serving files under
// baseURL (e.g. "http://localhost:8080/files"). The directory is created if
// missing.
func NewDiskUploader(dir, baseURL string) (*DiskUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &DiskUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory files are stored under.
func (u *DiskUploader) Dir() string { return u.dir }

// Upload implements Uploader.
func (u *DiskUploader) Upload(_ context.Context, fileName, _ string, r io.Reader) (*UploadResult, error) {
	ext := filepath.Ext(fileName)
	stored := uuid.NewString() + ext
	path := filepath.Join(u.dir, stored)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write upload file: %w", err)
	}
	if n > maxUploadBytes {
		os.Remove(path)
		return nil, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}

	name := fileName
	if name == "" {
		name = "upload"
	}
	return &UploadResult{
		FileURL:  u.baseURL + "/" + stored,
		FileName: name,
	}, nil
}

// DataURLUploader encodes the file as a base64 data URL instead of storing it
// anywhere. It is the fallback when no upload directory is configured; the
// resulting URL embeds the image bytes and can be sent to the model provider
// directly.
type DataURLUploader struct{}

// Upload implements Uploader.
func (DataURLUploader) Upload(_ context.Context, fileName, contentType string, r io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	name := fileName
	if name == "" {
		name = "upload"
	}
	return &UploadResult{
		FileURL:  "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
		FileName: name,
	}, nil
}
