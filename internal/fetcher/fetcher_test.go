package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tapevault/tapevault/internal/models"
)

type fakeOrchestrator struct {
	mu        sync.Mutex
	mountPath string
	acquires  int32
}

func (f *fakeOrchestrator) Acquire(ctx context.Context, tag string, inv models.InventorySnapshot) (*models.MountHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt32(&f.acquires, 1)
	return &models.MountHandle{VolumeTag: tag, MountPath: f.mountPath}, nil
}

func (f *fakeOrchestrator) Release(ctx context.Context, h *models.MountHandle) {}

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context) (models.InventorySnapshot, error) {
	return models.InventorySnapshot{}, nil
}

func TestFetchCopiesFileOnce(t *testing.T) {
	mountPath := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mountPath, "data"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(mountPath, "data", "a.bin"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	cacheRoot := t.TempDir()
	orch := &fakeOrchestrator{mountPath: mountPath}
	f := New(cacheRoot, orch, fakeProber{})

	path, err := f.Fetch(context.Background(), "VOL001", "data/a.bin")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil || string(contents) != "hello" {
		t.Fatalf("cached file contents = %q, %v", contents, err)
	}

	// Second fetch must be a cache hit: no further Acquire call.
	if _, err := f.Fetch(context.Background(), "VOL001", "data/a.bin"); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if atomic.LoadInt32(&orch.acquires) != 1 {
		t.Fatalf("Acquire called %d times, want 1 (second fetch should be a cache hit)", orch.acquires)
	}
}

func TestFetchMissingSourceFails(t *testing.T) {
	mountPath := t.TempDir()
	cacheRoot := t.TempDir()
	orch := &fakeOrchestrator{mountPath: mountPath}
	f := New(cacheRoot, orch, fakeProber{})

	if _, err := f.Fetch(context.Background(), "VOL001", "nope.bin"); err == nil {
		t.Fatal("expected error fetching a file absent from the mount")
	}

	// The cache entry must not exist after a failed copy, so a retry's
	// cache-hit check is not fooled by a partial file.
	if _, err := os.Stat(f.CachePath("VOL001", "nope.bin")); err == nil {
		t.Fatal("expected no cache file after a failed fetch")
	}
}

func TestCachePathLayout(t *testing.T) {
	f := New("/cache", nil, nil)
	got := f.CachePath("VOL001", "data/a.bin")
	want := filepath.Join("/cache", "VOL001", "data", "a.bin")
	if got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
}
