package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BodyStore keeps one content file per entry, addressed by slug.
type BodyStore struct {
	layout Layout
}

// NewBodyStore returns a BodyStore rooted at layout.BodyDir.
func NewBodyStore(layout Layout) *BodyStore {
	return &BodyStore{layout: layout}
}

// Read returns the body stored for slug. A missing file reads as empty.
func (b *BodyStore) Read(slug string) (string, error) {
	data, err := os.ReadFile(b.layout.BodyPath(slug))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("content: read body %s: %w", slug, err)
	}
	return string(data), nil
}

// Write replaces the body for slug. Each call writes its own temporary
// sibling, so concurrent saves of one slug never share a file.
func (b *BodyStore) Write(slug, body string) error {
	path := b.layout.BodyPath(slug)
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("content: create body dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("content: write body %s: %w", slug, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("content: write body %s: %w", slug, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("content: write body %s: %w", slug, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("content: write body %s: %w", slug, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("content: replace body %s: %w", slug, err)
	}
	return nil
}

// Rename moves the body of oldSlug to newSlug. It reports false when there
// was no body to move.
func (b *BodyStore) Rename(oldSlug, newSlug string) (bool, error) {
	if oldSlug == newSlug {
		return false, nil
	}
	from, to := b.layout.BodyPath(oldSlug), b.layout.BodyPath(newSlug)
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := os.Rename(from, to); err != nil {
		return false, fmt.Errorf("content: move body %s to %s: %w", oldSlug, newSlug, err)
	}
	return true, nil
}

// Remove deletes the body of slug. A missing file is not an error.
func (b *BodyStore) Remove(slug string) error {
	err := os.Remove(b.layout.BodyPath(slug))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("content: remove body %s: %w", slug, err)
	}
	return nil
}
