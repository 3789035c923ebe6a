package policystore

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

// File stores the snapshot as a single JSON document. Save writes a
// sibling temp file and renames it over the target, so a crash mid-write
// leaves the previous snapshot intact.
type File struct {
	FS   hackpadfs.FS
	Path string
	mu   sync.Mutex
}

// NewFile returns a store for name on fsys. name uses forward slashes and
// no leading slash, as hackpadfs expects.
func NewFile(fsys hackpadfs.FS, name string) *File {
	return &File{FS: fsys, Path: name}
}

// NewOSFile returns a store for a path on the host filesystem.
func NewOSFile(p string) (*File, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	abs = filepath.ToSlash(abs)
	if vol := filepath.VolumeName(abs); vol != "" {
		abs = strings.TrimPrefix(abs, vol)
	}
	return NewFile(osfs.NewFS(), strings.TrimPrefix(abs, "/")), nil
}

func (f *File) Save(snap bandit.Snapshot) error {
	b, err := encode(snap)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := path.Dir(f.Path); dir != "." {
		if err := hackpadfs.MkdirAll(f.FS, dir, 0o755); err != nil {
			return fmt.Errorf("create policy dir: %w", err)
		}
	}
	tmp := f.Path + ".tmp"
	if err := hackpadfs.WriteFullFile(f.FS, tmp, b, 0o644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := hackpadfs.Rename(f.FS, tmp, f.Path); err != nil {
		_ = hackpadfs.Remove(f.FS, tmp)
		return fmt.Errorf("replace policy: %w", err)
	}
	return nil
}

func (f *File) Load() (*bandit.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := hackpadfs.ReadFile(f.FS, f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, bandit.ErrNoSnapshot
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return decode(b)
}
