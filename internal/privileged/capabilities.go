package privileged

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Capabilities is a point-in-time view of which execution channels are
// usable. It is passed explicitly to every operation that selects a backend.
type Capabilities struct {
	Superuser       bool      `json:"superuser"`
	BrokerReachable bool      `json:"broker_reachable"`
	BrokerPermitted bool      `json:"broker_permitted"`
	BridgePath      string    `json:"bridge_path,omitempty"`
	DirectWrite     bool      `json:"direct_write"`
	DirectElevated  bool      `json:"direct_elevated"`
	ProbedAt        time.Time `json:"probed_at"`
}

// DirectProbe reports what the in-process permission channel can do.
type DirectProbe interface {
	CanWrite(ctx context.Context) bool
	Elevated(ctx context.Context) bool
}

// probeTimeout bounds one full probe of every backend.
const probeTimeout = 10 * time.Second

// Prober probes every backend and caches the snapshot for a TTL. Snapshot is
// safe for concurrent use; concurrent probes are collapsed into one.
type Prober struct {
	superuser *Superuser
	broker    *Broker
	bridge    *Bridge
	direct    DirectProbe
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	cached *Capabilities
}

// NewProber creates a Prober. Any backend may be nil, in which case it is
// reported unavailable.
func NewProber(su *Superuser, broker *Broker, bridge *Bridge, direct DirectProbe, ttl time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		superuser: su,
		broker:    broker,
		bridge:    bridge,
		direct:    direct,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// Snapshot returns the cached capabilities, probing when the cache is empty
// or older than the TTL.
func (p *Prober) Snapshot(ctx context.Context) Capabilities {
	p.mu.RLock()
	if p.cached != nil && p.now().Sub(p.cached.ProbedAt) < p.ttl {
		c := *p.cached
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	v, _, _ := p.group.Do("probe", func() (any, error) {
		// The result is cached for every caller, so it must not depend on
		// whether the first caller gave up.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()
		c := p.probe(pctx)
		p.mu.Lock()
		p.cached = &c
		p.mu.Unlock()
		return c, nil
	})
	return v.(Capabilities)
}

// Invalidate drops the cached snapshot so the next Snapshot re-probes.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context) Capabilities {
	c := Capabilities{ProbedAt: p.now()}
	if p.superuser != nil {
		c.Superuser = p.superuser.Available(ctx)
	}
	if p.broker != nil {
		c.BrokerReachable = p.broker.Available(ctx)
		if c.BrokerReachable {
			c.BrokerPermitted = p.broker.Permitted(ctx)
		}
	}
	if p.bridge != nil {
		c.BridgePath = p.bridge.Path()
	}
	if p.direct != nil {
		c.DirectWrite = p.direct.CanWrite(ctx)
		c.DirectElevated = p.direct.Elevated(ctx)
	}
	p.logger.Debug("probed privileged channels",
		"superuser", c.Superuser,
		"broker_reachable", c.BrokerReachable,
		"broker_permitted", c.BrokerPermitted,
		"bridge", c.BridgePath,
		"direct_write", c.DirectWrite,
		"direct_elevated", c.DirectElevated,
	)
	return c
}
