package resourcecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	diskDirMode  = 0o700
	diskFileMode = 0o600
)

var ErrNotCached = errors.New("resource not cached on disk")

// Disk keeps one file per resource, named by the last path segment of its URL. The file's
// modification time is the fetch time; there is no manifest.
type Disk struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex
}

func NewDisk(fs afero.Fs, dir string) *Disk {
	return &Disk{fs: fs, dir: filepath.Clean(dir)}
}

func (d *Disk) Load(key string) (image.Image, time.Time, error) {
	p, err := d.pathForKey(key)
	if err != nil {
		return nil, time.Time{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	info, err := d.fs.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNotCached, key)
		}
		return nil, time.Time{}, fmt.Errorf("stat cache file %q: %w", p, err)
	}

	data, err := afero.ReadFile(d.fs, p)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read cache file %q: %w", p, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode cache file %q: %w", p, err)
	}
	return img, info.ModTime(), nil
}

func (d *Disk) Store(key string, data []byte) error {
	p, err := d.pathForKey(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fs.MkdirAll(d.dir, diskDirMode); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp := p + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, data, diskFileMode); err != nil {
		return fmt.Errorf("write cache file %q: %w", tmp, err)
	}
	if err := d.fs.Rename(tmp, p); err != nil {
		_ = d.fs.Remove(tmp)
		return fmt.Errorf("replace cache file %q: %w", p, err)
	}
	return nil
}

// Prune deletes cache files last written before cutoff.
func (d *Disk) Prune(cutoff time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list cache directory: %w", err)
	}

	var removed int
	var errs []error
	for _, info := range infos {
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := d.fs.Remove(filepath.Join(d.dir, info.Name())); err != nil {
			errs = append(errs, fmt.Errorf("remove cache file %q: %w", info.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (d *Disk) pathForKey(key string) (string, error) {
	u, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidKey, key)
	}
	return filepath.Join(d.dir, name), nil
}
