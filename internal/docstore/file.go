package docstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores each document as <dir>/<name>.age. Writes go to a
// temporary file that is renamed into place, so readers never see a partial
// document.
type FileBackend struct {
	dir string
}

// OpenFileBackend accepts "file:///abs/dir", "file://rel/dir" or a bare path.
func OpenFileBackend(location string) (Backend, error) {
	dir := location
	if strings.HasPrefix(location, "file:") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("parse location: %w", err)
		}
		dir = u.Host + u.Path
		if u.Opaque != "" {
			dir = u.Opaque
		}
	}
	if dir == "" {
		return nil, errors.New("file location needs a directory")
	}
	return NewFileBackend(dir)
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(name string) string {
	return filepath.Join(f.dir, name+".age")
}

func (f *FileBackend) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", name, err)
	}
	return body, nil
}

func (f *FileBackend) Write(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write document %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync document %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod document %s: %w", name, err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		return fmt.Errorf("replace document %s: %w", name, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
