// Package indexer walks a freshly mounted tape and records every file
// it finds into the catalog, replacing that tape's prior contents in
// one transaction.
package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/tapevault/tapevault/internal/models"
)

// Catalog is the subset of catalog.Store the indexer needs.
type Catalog interface {
	ReplaceTapeContents(tag string, now, total, free int64, entries []models.FileEntry) error
}

// Orchestrator is the subset of tape.Orchestrator the indexer needs.
type Orchestrator interface {
	Acquire(ctx context.Context, tag string, inv models.InventorySnapshot) (*models.MountHandle, error)
	Release(ctx context.Context, h *models.MountHandle)
}

// Indexer walks mounted tapes and writes their contents to the catalog.
type Indexer struct {
	orchestrator Orchestrator
	catalog      Catalog
	now          func() time.Time
}

// New creates an Indexer.
func New(orchestrator Orchestrator, catalog Catalog) *Indexer {
	return &Indexer{orchestrator: orchestrator, catalog: catalog, now: time.Now}
}

// IndexTape acquires tag, walks its mount tree for every regular file,
// replaces the catalog's record of tag's contents, and releases the
// mount. Paths are recorded relative to the mount root, forward-slash
// separated, with no leading slash; mtimes are truncated to whole
// seconds.
func (ix *Indexer) IndexTape(ctx context.Context, tag string, inv models.InventorySnapshot) error {
	handle, err := ix.orchestrator.Acquire(ctx, tag, inv)
	if err != nil {
		return err
	}
	defer ix.orchestrator.Release(ctx, handle)

	entries, err := walkMount(handle.MountPath)
	if err != nil {
		return err
	}

	return ix.catalog.ReplaceTapeContents(tag, ix.now().Unix(), handle.TotalSpace, handle.FreeSpace, entries)
}

func walkMount(mountPath string) ([]models.FileEntry, error) {
	var entries []models.FileEntry

	err := filepath.WalkDir(mountPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(mountPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, models.FileEntry{
			Path:  rel,
			Size:  info.Size(),
			MTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
