package studip

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BlobStore is the flat, file-id-keyed directory holding downloaded file
// content exactly once, shared by all views via hardlinks. Stale versions are
// kept next to the current blob under a numeric suffix; the store never
// deletes them.
type BlobStore struct {
	dir string
}

// NewBlobStore ensures dir exists and returns a store over it.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Dir returns the store's directory.
func (b *BlobStore) Dir() string { return b.dir }

// Path returns the path of the current blob for a file id: the plain id when
// no versioned siblings exist, otherwise the highest-suffixed sibling.
func (b *BlobStore) Path(id string) string {
	if v := b.latestVersion(id); v > 0 {
		return filepath.Join(b.dir, fmt.Sprintf("%s.%d", id, v))
	}
	return filepath.Join(b.dir, id)
}

// NextVersionPath returns a fresh sibling path for a new remote version of
// an already-fetched blob, preserving all older blobs.
func (b *BlobStore) NextVersionPath(id string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s.%d", id, b.latestVersion(id)+1))
}

// Exists reports whether any blob has been stored for the id.
func (b *BlobStore) Exists(id string) bool {
	_, err := os.Stat(filepath.Join(b.dir, id))
	return err == nil
}

// latestVersion scans for versioned siblings of id and returns the highest
// suffix, or 0 when only the plain blob (or nothing) exists.
func (b *BlobStore) latestVersion(id string) int {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0
	}
	latest := 0
	prefix := id + "."
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), prefix)); err == nil && v > latest {
			latest = v
		}
	}
	return latest
}
