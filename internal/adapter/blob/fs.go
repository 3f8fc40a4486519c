// Package blob stores synthesized question audio on the local filesystem and
// serves it back by URL.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// FSStore implements domain.BlobStore on a local directory. Keys use forward
// slashes ("<session>/<question>.mp3") and map directly to paths under root;
// URLs are root-relative under baseURL so the HTTP server can serve the same
// directory statically.
type FSStore struct {
	root    string
	baseURL string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root, baseURL string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: blob root missing", domain.ErrConfiguration)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("op=blob.init: %w", err)
	}
	return &FSStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// cleanKey validates a storage key and converts it to a path relative to root.
func (s *FSStore) cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: bad blob key %q", domain.ErrInvalidArgument, key)
	}
	return filepath.FromSlash(key), nil
}

// Put writes data under key atomically and returns the playback URL.
func (s *FSStore) Put(ctx domain.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := s.cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("op=blob.put: %w", err)
	}

	// Write-then-rename so readers never observe a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("op=blob.put: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("op=blob.put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("op=blob.put: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("op=blob.put: %w", err)
	}

	slog.Debug("blob stored",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
		slog.String("content_type", contentType))
	return s.baseURL + "/" + key, nil
}

// Delete removes a single object. Missing objects are not an error.
func (s *FSStore) Delete(ctx domain.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := s.cleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("op=blob.delete: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every object whose key starts with prefix. A prefix
// ending in "/" drops the whole directory in one call.
func (s *FSStore) DeleteByPrefix(ctx domain.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := s.cleanKey(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, rel)

	if strings.HasSuffix(prefix, "/") {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("op=blob.delete_prefix: %w", err)
		}
		return nil
	}

	// Partial prefix: walk the parent directory and match by name.
	dir := filepath.Dir(target)
	base := filepath.Base(target)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("op=blob.delete_prefix: %w", err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), base) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("op=blob.delete_prefix: %w", err)
		}
	}
	return nil
}
