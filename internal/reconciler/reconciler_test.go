package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/tapevault/tapevault/internal/models"
)

type fakeProber struct {
	snap models.InventorySnapshot
	err  error
}

func (f *fakeProber) Probe(ctx context.Context) (models.InventorySnapshot, error) {
	return f.snap, f.err
}

type fakeCatalog struct {
	known   []string
	dropped []string
}

func (f *fakeCatalog) ListVolumeTags() ([]string, error) { return f.known, nil }

func (f *fakeCatalog) DropTape(tag string) error {
	f.dropped = append(f.dropped, tag)
	return nil
}

type fakeIndexer struct {
	indexed []string
	failFor map[string]bool
}

func (f *fakeIndexer) IndexTape(ctx context.Context, tag string, inv models.InventorySnapshot) error {
	if f.failFor[tag] {
		return errors.New("mount failed")
	}
	f.indexed = append(f.indexed, tag)
	return nil
}

func TestReconcileDropsVanishedAndIndexesNew(t *testing.T) {
	prober := &fakeProber{snap: models.InventorySnapshot{Slots: map[int]string{1: "VOL001", 2: "VOL003"}}}
	cat := &fakeCatalog{known: []string{"VOL001", "VOL002"}}
	idx := &fakeIndexer{failFor: map[string]bool{}}

	r := New(prober, cat, idx, nil)
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(cat.dropped) != 1 || cat.dropped[0] != "VOL002" {
		t.Fatalf("dropped = %v, want [VOL002]", cat.dropped)
	}
	if len(idx.indexed) != 1 || idx.indexed[0] != "VOL003" {
		t.Fatalf("indexed = %v, want [VOL003]", idx.indexed)
	}
}

func TestReconcileToleratesSingleTapeIndexFailure(t *testing.T) {
	prober := &fakeProber{snap: models.InventorySnapshot{Slots: map[int]string{1: "VOL001", 2: "VOL002"}}}
	cat := &fakeCatalog{known: nil}
	idx := &fakeIndexer{failFor: map[string]bool{"VOL002": true}}

	r := New(prober, cat, idx, nil)
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() should not fail the batch for one bad tape, got %v", err)
	}

	if len(idx.indexed) != 1 || idx.indexed[0] != "VOL001" {
		t.Fatalf("indexed = %v, want [VOL001]", idx.indexed)
	}
}

func TestReconcilePropagatesProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("changer missing")}
	cat := &fakeCatalog{}
	idx := &fakeIndexer{}

	r := New(prober, cat, idx, nil)
	if err := r.Reconcile(context.Background()); err == nil {
		t.Fatal("expected Reconcile() to surface a probe failure")
	}
}

func TestReconcileIdempotentWithNoChanges(t *testing.T) {
	prober := &fakeProber{snap: models.InventorySnapshot{Slots: map[int]string{1: "VOL001"}}}
	cat := &fakeCatalog{known: []string{"VOL001"}}
	idx := &fakeIndexer{}

	r := New(prober, cat, idx, nil)
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(cat.dropped) != 0 || len(idx.indexed) != 0 {
		t.Fatalf("expected no mutations on a no-op reconcile, dropped=%v indexed=%v", cat.dropped, idx.indexed)
	}
}
