// Package storage uploads question and option images to a public bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	ErrNotConfigured = errors.New("storage is not configured")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("object not found")
)

const (
	publicHost       = "https://storage.googleapis.com"
	defaultSignedTTL = time.Hour
	maxSignedTTL     = 7 * 24 * time.Hour
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)

// objectStore is the bucket surface the service needs.
type objectStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
	SignedURL(name, method string, expires time.Time) (string, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

type Object struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UpdatedAt   time.Time `json:"updatedAt"`
	URL         string    `json:"url"`
}

type UploadResult struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Service struct {
	store    objectStore
	bucket   string
	maxWidth int
}

// NewService returns a service that answers ErrNotConfigured when store
// is nil.
func NewService(store objectStore, bucket string, maxWidth int) *Service {
	return &Service{store: store, bucket: bucket, maxWidth: maxWidth}
}

func (s *Service) Enabled() bool {
	return s != nil && s.store != nil
}

// Upload stores r under folder/<uuid>-<name>. JPEG, PNG and GIF images
// wider than the configured width are scaled down first.
func (s *Service) Upload(ctx context.Context, folder, filename, contentType string, r io.Reader) (*UploadResult, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: only image uploads are accepted", ErrInvalidInput)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	data, err = downscale(data, contentType, s.maxWidth)
	if err != nil {
		return nil, err
	}

	name := objectName(folder, filename)
	if err := s.store.Put(ctx, name, contentType, data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return &UploadResult{Name: name, URL: s.publicURL(name)}, nil
}

// SignedURL defaults to a read URL valid for one hour.
func (s *Service) SignedURL(name, method string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	name = s.normalizeName(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "", "READ":
		method = "GET"
	case "WRITE":
		method = "PUT"
	case "GET", "PUT", "DELETE":
	default:
		return "", fmt.Errorf("%w: unsupported method %s", ErrInvalidInput, method)
	}
	if ttl <= 0 {
		ttl = defaultSignedTTL
	}
	if ttl > maxSignedTTL {
		ttl = maxSignedTTL
	}
	url, err := s.store.SignedURL(name, method, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return url, nil
}

// Delete accepts an object name or its public URL.
func (s *Service) Delete(ctx context.Context, nameOrURL string) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	name := s.normalizeName(nameOrURL)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.store.Delete(ctx, name)
}

func (s *Service) List(ctx context.Context, prefix string) ([]Object, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	items, err := s.store.List(ctx, strings.TrimLeft(strings.TrimSpace(prefix), "/"))
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	for i := range items {
		items[i].URL = s.publicURL(items[i].Name)
	}
	return items, nil
}

func (s *Service) publicURL(name string) string {
	return fmt.Sprintf("%s/%s/%s", publicHost, s.bucket, name)
}

func (s *Service) normalizeName(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, publicHost+"/"+s.bucket+"/")
	return strings.TrimLeft(v, "/")
}

func objectName(folder, filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	safe := unsafeName.ReplaceAllString(base, "_")
	if safe == "" || safe == "." || safe == "_" {
		safe = "file"
	}
	return fmt.Sprintf("%s/%s-%s", folder, uuid.NewString(), safe)
}

func downscale(data []byte, contentType string, maxWidth int) ([]byte, error) {
	var format imaging.Format
	switch contentType {
	case "image/jpeg", "image/jpg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	case "image/gif":
		format = imaging.GIF
	default:
		return data, nil
	}
	if maxWidth <= 0 {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image", ErrInvalidInput)
	}
	if cfg.Width <= maxWidth {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image", ErrInvalidInput)
	}
	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
