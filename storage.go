package keepsake

import (
	"encoding/base64"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStorage persists the image bytes behind a record. The two variants
// mirror the two deployment shapes: stored-by-reference on disk, or
// stored-inline in the record itself. The variant is chosen once per
// deployment by Config.StorageMode, never per record.
type BlobStorage interface {
	// Save persists data and fills exactly one image-location field on img.
	Save(img *Image, originalName, mimeType string, data []byte) error
	// Remove deletes the backing bytes, best effort: an already-absent
	// file never fails a delete.
	Remove(img *Image)
}

// NewBlobStorage selects the storage variant for the configured mode.
func NewBlobStorage(cfg *Config) BlobStorage {
	if cfg.StorageMode == StorageDisk {
		return &DiskStorage{Dir: cfg.UploadsDir}
	}
	return &InlineStorage{}
}

// DiskStorage writes uploads under Dir/<category>/ with a random filename
// and records a /uploads/... URL path.
type DiskStorage struct {
	Dir string
}

func (d *DiskStorage) Save(img *Image, originalName, mimeType string, data []byte) error {
	dir := filepath.Join(d.Dir, string(img.Category))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(originalName))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	img.ImageURL = path.Join("/uploads", string(img.Category), name)
	return nil
}

func (d *DiskStorage) Remove(img *Image) {
	rel, ok := strings.CutPrefix(img.ImageURL, "/uploads/")
	if !ok || rel == "" || strings.Contains(rel, "..") {
		return
	}
	_ = os.Remove(filepath.Join(d.Dir, filepath.FromSlash(rel)))
}

// InlineStorage embeds the bytes as a base64 data URL, for hosts without a
// writable filesystem.
type InlineStorage struct{}

func (InlineStorage) Save(img *Image, _, mimeType string, data []byte) error {
	img.ImageData = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return nil
}

func (InlineStorage) Remove(*Image) {}

// imageExtensions are the upload types the gallery accepts.
var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// AllowedImageFile checks an upload's extension and declared mime type
// against the accepted image formats.
func AllowedImageFile(filename, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := imageExtensions[ext]
	if !ok {
		return false
	}
	return mimeType == "" || mimeType == want || mimeType == "image/jpg"
}

// MimeTypeForFile guesses a mime type from a filename, defaulting to JPEG.
func MimeTypeForFile(filename string) string {
	if mt, ok := imageExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return "image/jpeg"
}
