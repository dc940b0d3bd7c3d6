package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
)

// binaryCache manages a directory of downloaded compiler binaries, one file
// per (language, version, platform). A file lock guards each version's
// download so concurrent verification jobs never race to write the same
// binary.
type binaryCache struct {
	dir string
}

func newBinaryCache(dir string) *binaryCache {
	return &binaryCache{dir: dir}
}

func (c *binaryCache) ensureDir() error {
	return os.MkdirAll(c.dir, 0o755)
}

func (c *binaryCache) binaryName(prefix, version string) string {
	ext := ""
	if runtime.GOOS == "windows" {
		ext = ".exe"
	}
	return fmt.Sprintf("%s-%s-%s-%s%s", prefix, version, runtime.GOOS, runtime.GOARCH, ext)
}

func (c *binaryCache) path(prefix, version string) string {
	return filepath.Join(c.dir, c.binaryName(prefix, version))
}

func (c *binaryCache) has(prefix, version string) (bool, error) {
	_, err := os.Stat(c.path(prefix, version))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// fetch downloads into the cache if absent, serialized by a per-file lock so
// two workers racing to compile the same version only download it once.
func (c *binaryCache) fetch(ctx context.Context, prefix, version string, download func(ctx context.Context, dest string) error) (string, error) {
	if err := c.ensureDir(); err != nil {
		return "", fmt.Errorf("compiler: create bin dir: %w", err)
	}

	dest := c.path(prefix, version)
	lock := flock.New(dest + ".lock")
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("compiler: acquire cache lock: %w", err)
	}
	defer lock.Unlock()

	if ok, err := c.has(prefix, version); err != nil {
		return "", err
	} else if ok {
		return dest, nil
	}

	tmp := dest + ".part"
	if err := download(ctx, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("compiler: chmod downloaded binary: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("compiler: install downloaded binary: %w", err)
	}
	return dest, nil
}
