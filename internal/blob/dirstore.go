package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirStore serves a flat local directory as a blob collection. Subdirectories
// and dotfiles are ignored.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (d *DirStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *DirStore) Download(ctx context.Context, name string) ([]byte, error) {
	// Reject path escapes; blob names are flat.
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid blob name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	return data, nil
}

var _ Store = (*DirStore)(nil)
