// ABOUTME: File-backed cart snapshot storage
// ABOUTME: One JSON file per cart key under a base directory

package cart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilePersister stores cart snapshots as JSON files under a base directory,
// one file per cart key.
type FilePersister struct {
	dir string
}

// NewFilePersister creates the base directory if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cart directory: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) path(key string) string {
	return filepath.Join(p.dir, key+".json")
}

// Save writes the snapshot, replacing any previous one for the key.
func (p *FilePersister) Save(key string, data []byte) error {
	tmp := p.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cart snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path(key)); err != nil {
		return fmt.Errorf("replacing cart snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or nil if none exists for the key.
func (p *FilePersister) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cart snapshot: %w", err)
	}
	return data, nil
}
