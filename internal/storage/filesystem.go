package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore keeps objects in a local directory that the API serves under
// baseURL. Used when no Supabase project is configured.
type FileStore struct {
	root    string
	baseURL string
}

func NewFileStore(root, baseURL string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: base path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath is the directory objects are written under.
func (s *FileStore) BasePath() string {
	return s.root
}

// Upload writes data to a temporary file and moves it into place, so readers
// never observe a partial object. Without opts.Upsert an existing object is
// left alone and ErrObjectExists is returned.
func (s *FileStore) Upload(ctx context.Context, key string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(clean))
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("storage: chmod: %w", err)
	}

	if opts.Upsert {
		if err := os.Rename(tmp.Name(), dst); err != nil {
			return fmt.Errorf("storage: move into place: %w", err)
		}
		return nil
	}
	// Link fails when dst exists, which gives create-only semantics.
	if err := os.Link(tmp.Name(), dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrObjectExists
		}
		return fmt.Errorf("storage: link into place: %w", err)
	}
	return nil
}

func (s *FileStore) PublicURL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// sanitizeKey turns key into a slash separated path inside the root.
func sanitizeKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || escapes(key) {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

// escapes reports whether key climbs above its starting directory.
func escapes(key string) bool {
	depth := 0
	for _, part := range strings.Split(key, "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

var _ ObjectStore = (*FileStore)(nil)
