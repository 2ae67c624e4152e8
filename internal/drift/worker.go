// Package drift periodically re-reads every item and reports values that no
// longer match the state they were left in, e.g. after a vendor service or
// the user changed them outside parity.
package drift

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/parity/internal/reconcile"
)

// Source is the part of the engine the worker needs.
type Source interface {
	Refresh(ctx context.Context) error
	Items() []reconcile.Record
}

// Report is the outcome of one check.
type Report struct {
	// Drifted lists items that started drifting since the previous check.
	Drifted []string
	// Settled lists items that were drifting and no longer are.
	Settled []string
}

// Worker refreshes the engine on an interval and tracks drift between checks.
type Worker struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger

	drifting map[string]bool
}

// NewWorker creates a Worker. An interval <= 0 makes Run return immediately.
func NewWorker(src Source, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		src:      src,
		interval: interval,
		logger:   logger,
		drifting: make(map[string]bool),
	}
}

// Run checks once per interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("drift check failed", "error", err)
		}
	}
}

// RunOnce refreshes every item and reports changes in drift since the last
// call. Unsupported items and items with unknown live values never count as
// drifted.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	if err := w.src.Refresh(ctx); err != nil {
		return Report{}, err
	}

	var rep Report
	seen := make(map[string]bool)
	for _, r := range w.src.Items() {
		id := r.Item.ID
		if !r.Supported || !r.Drifted() {
			continue
		}
		seen[id] = true
		if !w.drifting[id] {
			rep.Drifted = append(rep.Drifted, id)
			w.logger.Warn("item drifted",
				"item", id,
				"state", r.State,
				"live", *r.LiveValue,
				"expected", r.Target(r.State),
			)
		}
	}
	for id := range w.drifting {
		if !seen[id] {
			rep.Settled = append(rep.Settled, id)
			w.logger.Info("item no longer drifted", "item", id)
		}
	}
	sort.Strings(rep.Settled)
	w.drifting = seen
	return rep, nil
}
