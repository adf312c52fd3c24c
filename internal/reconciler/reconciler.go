// Package reconciler diffs the changer's live inventory against the
// catalog at startup (and, optionally, on a cron schedule): tapes that
// have vanished from the library are dropped, tapes present but unknown
// are indexed. Individual tape failures are caught and logged so one
// bad tape never aborts the batch.
package reconciler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/tapevault/tapevault/internal/logging"
	"github.com/tapevault/tapevault/internal/models"
)

// Prober is the subset of changer.Interface the reconciler needs.
type Prober interface {
	Probe(ctx context.Context) (models.InventorySnapshot, error)
}

// Catalog is the subset of catalog.Store the reconciler needs.
type Catalog interface {
	ListVolumeTags() ([]string, error)
	DropTape(tag string) error
}

// TapeIndexer is the subset of indexer.Indexer the reconciler needs.
type TapeIndexer interface {
	IndexTape(ctx context.Context, tag string, inv models.InventorySnapshot) error
}

// Reconciler owns the startup (and optional periodic) inventory diff.
type Reconciler struct {
	prober  Prober
	catalog Catalog
	indexer TapeIndexer
	logger  *logging.Logger
	cron    *cron.Cron
}

// New creates a Reconciler.
func New(prober Prober, catalog Catalog, indexer TapeIndexer, logger *logging.Logger) *Reconciler {
	return &Reconciler{prober: prober, catalog: catalog, indexer: indexer, logger: logger}
}

// Reconcile probes the changer, drops catalog entries for tapes no
// longer present, and indexes tapes present but not yet catalogued.
// Errors indexing or dropping an individual tape are logged and do not
// abort the rest of the batch; only a failed probe or a failed catalog
// listing returns an error.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	inv, err := r.prober.Probe(ctx)
	if err != nil {
		return err
	}

	present := inv.Present()

	known, err := r.catalog.ListVolumeTags()
	if err != nil {
		return err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, tag := range known {
		knownSet[tag] = struct{}{}
	}

	for _, tag := range known {
		if _, stillPresent := present[tag]; !stillPresent {
			if err := r.catalog.DropTape(tag); err != nil {
				r.logf("failed to drop vanished tape", tag, err)
			}
		}
	}

	for tag := range present {
		if _, alreadyKnown := knownSet[tag]; alreadyKnown {
			continue
		}
		if err := r.indexer.IndexTape(ctx, tag, inv); err != nil {
			r.logf("failed to index tape during reconciliation", tag, err)
		}
	}

	return nil
}

func (r *Reconciler) logf(msg, tag string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(msg, map[string]interface{}{
		"volume_tag": tag,
		"error":      err.Error(),
	})
}

// StartPeriodic schedules Reconcile to run on the given cron expression
// (5-field, minute granularity), in addition to whatever the caller
// already ran at startup. An empty schedule is a no-op: reconciliation
// then only ever runs at startup, per the default design. The returned
// cron.Cron must be stopped by the caller on shutdown.
func (r *Reconciler) StartPeriodic(ctx context.Context, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := r.Reconcile(ctx); err != nil && r.logger != nil {
			r.logger.Error("periodic reconciliation failed", map[string]interface{}{"error": err.Error()})
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	r.cron = c
	return c, nil
}
