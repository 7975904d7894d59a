package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Filesystem is a Store over a directory tree. IDs are slash-separated paths
// relative to the root; the root itself has the empty ID. Names are unique
// per folder and CreateExclusive uses O_EXCL, so creation is atomic.
type Filesystem struct {
	fs afero.Fs
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem roots a store at dir on the OS filesystem.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Filesystem{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewFilesystemFs wraps an arbitrary afero filesystem (afero.NewMemMapFs in tests).
func NewFilesystemFs(fsys afero.Fs) *Filesystem {
	return &Filesystem{fs: fsys}
}

func (f *Filesystem) RootID() string { return "" }

func (f *Filesystem) objectPath(name, parentID string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("blob: invalid object name %q", name)
	}
	return path.Join("/", parentID, name), nil
}

func (f *Filesystem) Find(_ context.Context, name, parentID string) (Object, error) {
	p, err := f.objectPath(name, parentID)
	if err != nil {
		return Object{}, err
	}
	info, err := f.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	return Object{
		ID:        strings.TrimPrefix(p, "/"),
		Name:      name,
		ParentID:  parentID,
		Size:      info.Size(),
		IsFolder:  info.IsDir(),
		CreatedAt: info.ModTime(),
	}, nil
}

func (f *Filesystem) List(ctx context.Context, name, parentID string) ([]Object, error) {
	o, err := f.Find(ctx, name, parentID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []Object{o}, nil
}

func (f *Filesystem) Get(_ context.Context, id string) ([]byte, error) {
	b, err := afero.ReadFile(f.fs, path.Join("/", id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Put writes through a temporary file and renames it into place so readers
// never observe a half-written ledger.
func (f *Filesystem) Put(_ context.Context, name, parentID string, data []byte, existingID string) (string, error) {
	p, err := f.objectPath(name, parentID)
	if err != nil {
		return "", err
	}
	if existingID != "" {
		p = path.Join("/", existingID)
	}

	tmp := p + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(f.fs, tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := f.fs.Rename(tmp, p); err != nil {
		_ = f.fs.Remove(tmp)
		return "", err
	}
	return strings.TrimPrefix(p, "/"), nil
}

func (f *Filesystem) CreateExclusive(_ context.Context, name, parentID string, data []byte) (string, error) {
	p, err := f.objectPath(name, parentID)
	if err != nil {
		return "", err
	}
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", ErrExists
	}
	if err != nil {
		return "", err
	}
	_, werr := file.Write(data)
	cerr := file.Close()
	if werr != nil {
		return "", werr
	}
	if cerr != nil {
		return "", cerr
	}
	return strings.TrimPrefix(p, "/"), nil
}

func (f *Filesystem) Atomic() bool { return true }

func (f *Filesystem) Delete(_ context.Context, id string) error {
	err := f.fs.Remove(path.Join("/", id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (f *Filesystem) EnsureFolder(_ context.Context, name, parentID string) (string, error) {
	p, err := f.objectPath(name, parentID)
	if err != nil {
		return "", err
	}
	if err := f.fs.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	return strings.TrimPrefix(p, "/"), nil
}
