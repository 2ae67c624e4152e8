package api

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/reconcile"
	"github.com/kalambet/parity/internal/state"
	"github.com/kalambet/parity/internal/storage"
)

// fakeEngine is an in-memory Reconciler. Apply sets the live value to the
// target, or fails with applyErr.
type fakeEngine struct {
	mu       sync.Mutex
	cat      *catalog.Catalog
	records  map[string]*reconcile.Record
	mode     privileged.Mode
	applyErr error
	history  []storage.HistoryEntry
	refreshN int
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	f := &fakeEngine{cat: cat, records: make(map[string]*reconcile.Record), mode: privileged.ModeAuto}
	for _, it := range cat.Items() {
		live := it.PlatformDefault
		f.records[it.ID] = &reconcile.Record{
			Item:        it,
			LiveValue:   &live,
			CustomValue: &live,
			State:       state.Default,
			Supported:   true,
		}
	}
	return f
}

func (f *fakeEngine) Items() []reconcile.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []reconcile.Record
	for _, it := range f.cat.Items() {
		out = append(out, *f.records[it.ID])
	}
	return out
}

func (f *fakeEngine) Groups() []reconcile.Group {
	var groups []reconcile.Group
	for _, r := range f.Items() {
		if n := len(groups); n > 0 && groups[n-1].Category.ID == r.Item.Category.ID {
			groups[n-1].Records = append(groups[n-1].Records, r)
			continue
		}
		groups = append(groups, reconcile.Group{Category: r.Item.Category, Records: []reconcile.Record{r}})
	}
	return groups
}

func (f *fakeEngine) Record(id string) (reconcile.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return reconcile.Record{}, false
	}
	return *r, true
}

func (f *fakeEngine) Apply(_ context.Context, id string, target state.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", reconcile.ErrUnknownItem, id)
	}
	value := r.Target(target)
	h := storage.HistoryEntry{
		ID: fmt.Sprintf("h-%d", len(f.history)), ItemID: id,
		FromState: r.State.String(), ToState: target.String(), Value: value,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, len(f.history), 0, time.UTC),
	}
	if f.applyErr != nil {
		msg := f.applyErr.Error()
		r.LastError = &msg
		h.Error = msg
		f.history = append(f.history, h)
		return f.applyErr
	}
	r.State = target
	r.LiveValue = &value
	r.LastError = nil
	f.history = append(f.history, h)
	return nil
}

func (f *fakeEngine) SaveCurrentAsCustom(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", reconcile.ErrUnknownItem, id)
	}
	if r.LiveValue == nil {
		return fmt.Errorf("%w: %s", reconcile.ErrNoLiveValue, id)
	}
	r.CustomValue = r.LiveValue
	return nil
}

func (f *fakeEngine) Mode() privileged.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeEngine) SetMode(_ context.Context, m privileged.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
	return nil
}

func (f *fakeEngine) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshN++
	return nil
}

func (f *fakeEngine) Capabilities(context.Context) privileged.Capabilities {
	return privileged.Capabilities{Superuser: true, DirectWrite: true}
}

func (f *fakeEngine) History(id string, limit int) ([]storage.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "" {
		if _, ok := f.records[id]; !ok {
			return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownItem, id)
		}
	}
	var out []storage.HistoryEntry
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		if id == "" || f.history[i].ItemID == id {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}
