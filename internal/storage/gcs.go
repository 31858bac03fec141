package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Config struct {
	Bucket          string
	CredentialsFile string
	MaxImageWidth   int
}

type gcsStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

// Open connects to the configured bucket. Without a bucket the returned
// service is disabled and every call answers ErrNotConfigured.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return NewService(nil, "", cfg.MaxImageWidth), nil
	}
	store, err := openGCS(ctx, bucket, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return NewService(store, bucket, cfg.MaxImageWidth), nil
}

func openGCS(ctx context.Context, bucket, credentialsFile string) (*gcsStore, error) {
	var opts []option.ClientOption
	if f := strings.TrimSpace(credentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("open storage client: %w", err)
	}
	return &gcsStore{client: client, bucket: client.Bucket(bucket)}, nil
}

func (g *gcsStore) Close() error {
	return g.client.Close()
}

// Close releases the underlying client, if any.
func (s *Service) Close() error {
	if c, ok := s.store.(io.Closer); ok && c != nil {
		return c.Close()
	}
	return nil
}

func (g *gcsStore) Put(ctx context.Context, name, contentType string, data []byte) error {
	obj := g.bucket.Object(name)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return fmt.Errorf("make public: %w", err)
	}
	return nil
}

func (g *gcsStore) SignedURL(name, method string, expires time.Time) (string, error) {
	return g.bucket.SignedURL(name, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  method,
		Expires: expires,
	})
}

func (g *gcsStore) Delete(ctx context.Context, name string) error {
	if err := g.bucket.Object(name).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (g *gcsStore) List(ctx context.Context, prefix string) ([]Object, error) {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	out := make([]Object, 0)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Object{
			Name:        attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			UpdatedAt:   attrs.Updated,
		})
	}
	return out, nil
}
