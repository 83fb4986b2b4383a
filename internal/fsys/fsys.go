// Package fsys is the node's view of non-volatile storage: a directory that
// holds the cache document, the store-and-forward log and buffered images.
package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FS is the storage contract used by the cache and the log. Paths are
// slash-separated and relative to the root.
type FS interface {
	Exists(name string) bool
	ReadFile(name string) ([]byte, error)
	// WriteFile replaces name atomically: readers see the old or the new content, never a mix.
	WriteFile(name string, data []byte) error
	Remove(name string) error
	Rename(oldName, newName string) error
	// Path returns the host path of name.
	Path(name string) string
}

// Dir is an FS rooted at a host directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("data dir %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) Path(name string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	return filepath.Join(d.root, strings.TrimPrefix(clean, string(filepath.Separator)))
}

func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

func (d *Dir) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(d.Path(name))
}

func (d *Dir) WriteFile(name string, data []byte) error {
	path := d.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (d *Dir) Remove(name string) error {
	err := os.Remove(d.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Dir) Rename(oldName, newName string) error {
	return os.Rename(d.Path(oldName), d.Path(newName))
}

// Mount returns the first candidate directory that can be created and written
// to, mirroring the SD card first, internal flash second boot order.
func Mount(logger *slog.Logger, candidates ...string) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		d, err := NewDir(c)
		if err == nil {
			err = probe(d)
		}
		if err != nil {
			logger.Warn("storage: mount failed", "dir", c, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("storage: mounted", "dir", d.Root())
		return d, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("storage: no data directory configured")
	}
	return nil, fmt.Errorf("storage: no usable data directory: %w", errors.Join(errs...))
}

func probe(d *Dir) error {
	const name = ".mount-probe"
	if err := d.WriteFile(name, []byte("ok")); err != nil {
		return err
	}
	return d.Remove(name)
}
