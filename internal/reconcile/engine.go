// Package reconcile keeps every catalog item's live value, custom baseline and
// reconciliation state, and applies state transitions through the available
// execution channel.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/direct"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/settings"
	"github.com/kalambet/parity/internal/state"
	"github.com/kalambet/parity/internal/storage"
)

var (
	ErrUnknownItem = errors.New("unknown item")
	ErrNoLiveValue = errors.New("live value unknown")
)

// StateStore persists custom values and states. Implemented by state.Store.
type StateStore interface {
	CustomValue(id string) (string, bool, error)
	SetCustomValue(id, value string) error
	State(id string) (state.State, error)
	SetState(id string, st state.State) error
}

// History journals apply attempts. Implemented by storage.Store.
type History interface {
	AppendHistory(h storage.HistoryEntry) error
	ListHistory(itemID string, limit int) ([]storage.HistoryEntry, error)
}

// Executor selects and runs privileged commands. Implemented by
// privileged.Executor.
type Executor interface {
	settings.Exec
	Select(caps privileged.Capabilities) (privileged.Backend, error)
	Usable(caps privileged.Capabilities) bool
	Mode() privileged.Mode
	SetMode(m privileged.Mode)
}

// Prober supplies capability snapshots. Implemented by privileged.Prober.
type Prober interface {
	Snapshot(ctx context.Context) privileged.Capabilities
	Invalidate()
}

// Config wires an Engine. History and Logger are optional.
type Config struct {
	Catalog  *catalog.Catalog
	State    StateStore
	History  History
	Direct   direct.Provider
	Executor Executor
	Prober   Prober
	// Hooks run after successful direct writes. Pass the executor's hooks
	// so every write path triggers them.
	Hooks  []privileged.PostWriteHook
	Logger *slog.Logger
	// Concurrency bounds parallel item reads during Load. Zero means 4.
	Concurrency int
}

// Engine is the single owner of reconciliation records for this device.
// Applies to the same item are serialized; different items are independent.
type Engine struct {
	catalog *catalog.Catalog
	store   StateStore
	history History
	direct  direct.Provider
	exec    Executor
	prober  Prober
	hooks   []privileged.PostWriteHook
	logger  *slog.Logger
	limit   int

	mu      sync.RWMutex
	records map[string]*Record

	// locks holds a one-slot semaphore per item.
	locks map[string]chan struct{}
}

// New creates an Engine with one record per catalog item. Call Load to
// populate live values.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 4
	}
	e := &Engine{
		catalog: cfg.Catalog,
		store:   cfg.State,
		history: cfg.History,
		direct:  cfg.Direct,
		exec:    cfg.Executor,
		prober:  cfg.Prober,
		hooks:   cfg.Hooks,
		logger:  logger,
		limit:   limit,
		records: make(map[string]*Record, cfg.Catalog.Len()),
		locks:   make(map[string]chan struct{}, cfg.Catalog.Len()),
	}
	for _, it := range cfg.Catalog.Items() {
		e.records[it.ID] = &Record{Item: it, State: state.Default}
		e.locks[it.ID] = make(chan struct{}, 1)
	}
	return e
}

func (e *Engine) channel(caps privileged.Capabilities) settings.Channel {
	return settings.Channel{Direct: e.direct, Exec: e.exec, Caps: caps, Hooks: e.hooks, Logger: e.logger}
}

func (e *Engine) supported(it catalog.Item, caps privileged.Capabilities) bool {
	if !it.RequiresElevation {
		return true
	}
	return e.exec.Usable(caps)
}

// Load reads every item's live value and persisted baseline. Read and
// persistence failures are logged and never abort the load.
func (e *Engine) Load(ctx context.Context) error {
	caps := e.prober.Snapshot(ctx)
	ch := e.channel(caps)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for _, it := range e.catalog.Items() {
		g.Go(func() error {
			e.loadItem(gctx, ch, it)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// loadItem holds the item's slot from the read to the commit, so an Apply
// cannot land in between and be overwritten with stale values.
func (e *Engine) loadItem(ctx context.Context, ch settings.Channel, it catalog.Item) {
	release, err := e.acquire(ctx, it.ID)
	if err != nil {
		return
	}
	defer release()

	var live *string
	if v, ok := ch.Read(ctx, it); ok {
		live = strPtr(v)
	}

	var custom *string
	v, ok, err := e.store.CustomValue(it.ID)
	switch {
	case err != nil:
		e.logger.Warn("loading custom value", "item", it.ID, "error", err)
	case ok:
		custom = strPtr(v)
	case live != nil:
		// First successful read becomes the custom baseline.
		if err := e.store.SetCustomValue(it.ID, *live); err != nil {
			e.logger.Warn("persisting initial custom value", "item", it.ID, "error", err)
		}
		custom = live
	}

	st, err := e.store.State(it.ID)
	if err != nil {
		e.logger.Warn("loading state", "item", it.ID, "error", err)
	}

	supported := e.supported(it, ch.Caps)

	e.mu.Lock()
	r := e.records[it.ID]
	r.LiveValue = live
	if custom != nil || r.CustomValue == nil {
		r.CustomValue = custom
	}
	r.State = st
	r.LastError = nil
	r.Supported = supported
	e.mu.Unlock()
}

func (e *Engine) acquire(ctx context.Context, id string) (func(), error) {
	lk, ok := e.locks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	select {
	case lk <- struct{}{}:
		return func() { <-lk }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Apply writes the value named by target and persists target as the item's
// state. On failure the state and live value are left unchanged, the error is
// recorded on the item, and returned.
func (e *Engine) Apply(ctx context.Context, id string, target state.State) error {
	release, err := e.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	e.mu.Lock()
	r := e.records[id]
	r.Applying = true
	r.LastError = nil
	prev := r.State
	value := r.Target(target)
	it := r.Item
	e.mu.Unlock()

	caps := e.prober.Snapshot(ctx)
	backend := e.backendName(it, caps)
	e.logger.Debug("applying", "item", id, "from", prev, "to", target, "value", value, "backend", backend)

	writeErr := e.channel(caps).Write(ctx, it, value)
	var saveErr error
	if writeErr == nil {
		if err := e.store.SetState(id, target); err != nil {
			saveErr = fmt.Errorf("saving state: %w", err)
		}
	}

	e.mu.Lock()
	r.Applying = false
	switch {
	case writeErr != nil:
		r.LastError = strPtr(writeErr.Error())
	default:
		r.State = target
		r.LiveValue = strPtr(value)
		if saveErr != nil {
			r.LastError = strPtr(saveErr.Error())
		}
	}
	e.mu.Unlock()

	e.journal(id, prev, target, value, backend, writeErr)

	if writeErr != nil {
		e.logger.Info("apply failed", "item", id, "to", target, "error", writeErr)
		return writeErr
	}
	return saveErr
}

func (e *Engine) backendName(it catalog.Item, caps privileged.Capabilities) string {
	if !it.RequiresElevation {
		return "direct"
	}
	b, err := e.exec.Select(caps)
	if err != nil {
		return ""
	}
	return b.Name()
}

func (e *Engine) journal(id string, from, to state.State, value, backend string, applyErr error) {
	if e.history == nil {
		return
	}
	h := storage.HistoryEntry{
		ID:        uuid.New().String(),
		ItemID:    id,
		FromState: from.String(),
		ToState:   to.String(),
		Value:     value,
		Backend:   backend,
		CreatedAt: time.Now(),
	}
	if applyErr != nil {
		h.Error = applyErr.Error()
	}
	if err := e.history.AppendHistory(h); err != nil {
		e.logger.Warn("recording apply history", "item", id, "error", err)
	}
}

// SaveCurrentAsCustom stores the live value as the item's custom baseline.
// The state is not changed.
func (e *Engine) SaveCurrentAsCustom(ctx context.Context, id string) error {
	release, err := e.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	e.mu.RLock()
	live := e.records[id].LiveValue
	e.mu.RUnlock()
	if live == nil {
		return fmt.Errorf("%w: %s", ErrNoLiveValue, id)
	}

	if err := e.store.SetCustomValue(id, *live); err != nil {
		return fmt.Errorf("saving custom value: %w", err)
	}

	e.mu.Lock()
	e.records[id].CustomValue = live
	e.mu.Unlock()
	return nil
}

// SetMode switches the backend selection mode and reloads every record.
func (e *Engine) SetMode(ctx context.Context, m privileged.Mode) error {
	e.exec.SetMode(m)
	e.prober.Invalidate()

	e.mu.Lock()
	for _, r := range e.records {
		r.LiveValue = nil
		r.Supported = false
	}
	e.mu.Unlock()

	e.logger.Info("backend mode changed", "mode", m)
	return e.Load(ctx)
}

// Refresh re-probes backends and reloads every record.
func (e *Engine) Refresh(ctx context.Context) error {
	e.prober.Invalidate()
	return e.Load(ctx)
}

func (e *Engine) Mode() privileged.Mode { return e.exec.Mode() }

func (e *Engine) Capabilities(ctx context.Context) privileged.Capabilities {
	return e.prober.Snapshot(ctx)
}

// Record returns a snapshot of one item's record.
func (e *Engine) Record(id string) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Items returns every record in catalog order.
func (e *Engine) Items() []Record {
	items := e.catalog.Items()
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Record, 0, len(items))
	for _, it := range items {
		out = append(out, *e.records[it.ID])
	}
	return out
}

// Groups returns records grouped by category in display order.
func (e *Engine) Groups() []Group {
	var groups []Group
	for _, r := range e.Items() {
		if n := len(groups); n > 0 && groups[n-1].Category.ID == r.Item.Category.ID {
			groups[n-1].Records = append(groups[n-1].Records, r)
			continue
		}
		groups = append(groups, Group{Category: r.Item.Category, Records: []Record{r}})
	}
	return groups
}

// History lists recent apply attempts, newest first. An empty id lists all
// items.
func (e *Engine) History(id string, limit int) ([]storage.HistoryEntry, error) {
	if e.history == nil {
		return nil, nil
	}
	if id != "" {
		if _, ok := e.catalog.Lookup(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
		}
	}
	return e.history.ListHistory(id, limit)
}
