// Package fetcher materializes a single file from a tape into a local
// cache directory, on demand, for the virtual filesystem to serve reads
// from. A cache hit never touches the drive lock.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tapevault/tapevault/internal/models"
	"github.com/tapevault/tapevault/internal/vaulterrors"
)

// Orchestrator is the subset of tape.Orchestrator the fetcher needs.
type Orchestrator interface {
	Acquire(ctx context.Context, tag string, inv models.InventorySnapshot) (*models.MountHandle, error)
	Release(ctx context.Context, h *models.MountHandle)
}

// Prober is the subset of changer.Interface the fetcher needs to take a
// fresh inventory snapshot immediately before acquiring the drive.
type Prober interface {
	Probe(ctx context.Context) (models.InventorySnapshot, error)
}

// Fetcher copies tape content into a local, append-only cache.
type Fetcher struct {
	cacheRoot    string
	orchestrator Orchestrator
	prober       Prober
}

// New creates a Fetcher rooted at cacheRoot.
func New(cacheRoot string, orchestrator Orchestrator, prober Prober) *Fetcher {
	return &Fetcher{cacheRoot: cacheRoot, orchestrator: orchestrator, prober: prober}
}

// CachePath returns the local path a fetch of (volumeTag, relativePath)
// would produce, without touching the drive or the filesystem.
func (f *Fetcher) CachePath(volumeTag, relativePath string) string {
	return filepath.Join(f.cacheRoot, volumeTag, filepath.FromSlash(relativePath))
}

// Fetch returns the cache path for (volumeTag, relativePath), copying
// the file from the mounted tape first if it is not already cached. A
// cache hit returns immediately with zero subprocess invocations and
// without taking the drive lock. Concurrent fetches of the same file
// collapse naturally: the second caller blocks acquiring the drive
// lock, and on acquisition finds the cache file already present.
func (f *Fetcher) Fetch(ctx context.Context, volumeTag, relativePath string) (string, error) {
	cachePath := f.CachePath(volumeTag, relativePath)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	inv, err := f.prober.Probe(ctx)
	if err != nil {
		return "", err
	}

	handle, err := f.orchestrator.Acquire(ctx, volumeTag, inv)
	if err != nil {
		return "", err
	}
	defer f.orchestrator.Release(ctx, handle)

	// A second check after acquiring the lock catches the case where
	// another caller already fetched this exact file while we were
	// waiting for the drive.
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	sourcePath := filepath.Join(handle.MountPath, filepath.FromSlash(relativePath))
	if err := f.copyToCache(sourcePath, cachePath); err != nil {
		return "", &vaulterrors.CacheIOFailed{Path: relativePath, Cause: err}
	}

	return cachePath, nil
}

// copyToCache copies src to dst via a uniquely-named temporary file in
// dst's directory, renamed into place on success. The unique name means
// two concurrent fetches for two different files never collide on a
// shared partial-file name; a failed copy leaves no partial file at
// dst's final path, so a retry's cache-hit check is never fooled.
func (f *Fetcher) copyToCache(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp := dst + "." + uuid.NewString() + ".part"
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0444)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	info, err := in.Stat()
	if err == nil {
		os.Chtimes(tmp, info.ModTime(), info.ModTime())
	}

	return os.Rename(tmp, dst)
}
