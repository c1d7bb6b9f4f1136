package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storagego "github.com/supabase-community/storage-go"
)

// SupabaseStore writes objects to a public Supabase Storage bucket.
type SupabaseStore struct {
	client  *storagego.Client
	bucket  string
	baseURL string
}

// NewSupabaseStore builds a store for bucket on the project at supabaseURL.
func NewSupabaseStore(supabaseURL, serviceKey, bucket string) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(supabaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("storage: supabase url is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}
	client := storagego.NewClient(baseURL+"/storage/v1", serviceKey, nil)
	return &SupabaseStore{client: client, bucket: bucket, baseURL: baseURL}, nil
}

// Upload writes data at path. The storage-go client has no context support,
// so cancellation is only checked before the request is issued.
func (s *SupabaseStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := opts.Upsert
	fileOpts := storagego.FileOptions{Upsert: &upsert}
	if opts.ContentType != "" {
		contentType := opts.ContentType
		fileOpts.ContentType = &contentType
	}
	if opts.CacheControl != "" {
		cacheControl := opts.CacheControl
		fileOpts.CacheControl = &cacheControl
	}
	if _, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), fileOpts); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return ErrObjectExists
		}
		return fmt.Errorf("storage: upload %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the public object URL for path.
func (s *SupabaseStore) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, strings.TrimLeft(path, "/"))
}

var _ ObjectStore = (*SupabaseStore)(nil)
