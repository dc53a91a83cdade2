// Package storage keeps uploaded images outside the database. Rows only hold
// the public URL and the provider key needed to delete the object again.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/google/uuid"

	"memoria/internal/config"
	"memoria/internal/errs"
)

// Object is a stored upload.
type Object struct {
	Key string `json:"-"`
	URL string `json:"url"`
}

// Provider is an object store.
type Provider interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// New picks the provider named in cfg.
func New(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return NewLocal(cfg.LocalDir, cfg.PublicURL)
	case "imgur":
		return NewImgur(cfg.ImgurBaseURL, cfg.ImgurClientID), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

// Upload is a validated image ready to be stored.
type Upload struct {
	Reader      io.Reader
	ContentType string
	Ext         string
	Size        int64
}

// OpenUpload validates a multipart image against the size limit and the
// allowed content types. The content type is sniffed from the bytes, the
// client-declared header is ignored.
func OpenUpload(fh *multipart.FileHeader, maxSize int64) (*Upload, io.Closer, error) {
	if fh == nil {
		return nil, nil, errs.Errorf(errs.Invalid, "image required")
	}
	if fh.Size > maxSize {
		return nil, nil, errs.Errorf(errs.Invalid, "image must be at most %d MB", maxSize>>20)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, errs.Upstreamf(err, "open upload")
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, nil, errs.Upstreamf(err, "read upload")
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	ext, ok := allowedTypes[contentType]
	if !ok {
		f.Close()
		return nil, nil, errs.Errorf(errs.Invalid, "only jpeg, png, gif and webp images are allowed")
	}

	return &Upload{
		Reader:      io.MultiReader(bytes.NewReader(head), f),
		ContentType: contentType,
		Ext:         ext,
		Size:        fh.Size,
	}, f, nil
}

// Key builds an object key: <kind>/<owner id>/<uuid><ext>.
func Key(kind string, ownerID uint, ext string) string {
	return path.Join(kind, fmt.Sprint(ownerID), uuid.NewString()+ext)
}
