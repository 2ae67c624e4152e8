package privileged

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode pins a backend or lets the executor pick one.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeRoot   Mode = "root"
	ModeBroker Mode = "broker"
	ModeBridge Mode = "bridge"
)

// Modes lists every valid mode.
var Modes = []Mode{ModeAuto, ModeRoot, ModeBroker, ModeBridge}

// ParseMode converts a config or user string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want auto, root, broker, or bridge)", s)
}

// RunFunc runs a follow-up command through the backend that just succeeded.
type RunFunc func(ctx context.Context, command string) (string, error)

// PostWriteHook runs after a command succeeds. Hooks are non-critical: their
// failures never reach the caller of Executor.Run.
type PostWriteHook interface {
	AfterWrite(ctx context.Context, command string, run RunFunc)
}

// strategy is one entry of the selection list. usable returns nil when the
// backend can serve a command under caps.
type strategy struct {
	name    string
	usable  func(Capabilities) error
	backend Backend
}

// Executor selects a backend from a capability snapshot and runs commands
// through it.
type Executor struct {
	superuser *Superuser
	broker    *Broker
	bridge    *Bridge
	timeout   time.Duration
	hooks     []PostWriteHook
	logger    *slog.Logger

	mu   sync.RWMutex
	mode Mode
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Superuser *Superuser
	Broker    *Broker
	Bridge    *Bridge
	Mode      Mode
	// Timeout bounds each command. Zero means no executor-imposed limit.
	Timeout time.Duration
	Hooks   []PostWriteHook
	Logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}
	return &Executor{
		superuser: cfg.Superuser,
		broker:    cfg.Broker,
		bridge:    cfg.Bridge,
		timeout:   cfg.Timeout,
		hooks:     cfg.Hooks,
		logger:    logger,
		mode:      mode,
	}
}

func (e *Executor) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *Executor) SetMode(m Mode) {
	e.mu.Lock()
	e.mode = m
	e.mu.Unlock()
}

func unavailable(name, detail string) func(Capabilities) error {
	return func(Capabilities) error {
		return newError(KindBackendUnavailable, name, detail, nil)
	}
}

func (e *Executor) superuserEntry() strategy {
	if e.superuser == nil {
		return strategy{name: NameSuperuser, usable: unavailable(NameSuperuser, "not configured")}
	}
	return strategy{
		name: NameSuperuser,
		usable: func(c Capabilities) error {
			if !c.Superuser {
				return newError(KindBackendUnavailable, NameSuperuser, "su binary not found", nil)
			}
			return nil
		},
		backend: e.superuser,
	}
}

func (e *Executor) brokerEntry() strategy {
	if e.broker == nil {
		return strategy{name: NameBroker, usable: unavailable(NameBroker, "not configured")}
	}
	return strategy{
		name: NameBroker,
		usable: func(c Capabilities) error {
			if !c.BrokerReachable {
				return newError(KindBackendUnavailable, NameBroker, "broker not running", nil)
			}
			if !c.BrokerPermitted {
				return Denied(NameBroker, "broker permission not granted")
			}
			return nil
		},
		backend: e.broker,
	}
}

func (e *Executor) bridgeEntry() strategy {
	if e.bridge == nil {
		return strategy{name: NameBridge, usable: unavailable(NameBridge, "not configured")}
	}
	return strategy{
		name: NameBridge,
		usable: func(c Capabilities) error {
			if c.BridgePath == "" {
				return newError(KindBackendUnavailable, NameBridge, "bridge shell not found", nil)
			}
			return nil
		},
		backend: e.bridge,
	}
}

// strategies returns the selection list for mode, in precedence order.
func (e *Executor) strategies(mode Mode) []strategy {
	switch mode {
	case ModeRoot:
		return []strategy{e.superuserEntry()}
	case ModeBroker:
		return []strategy{e.brokerEntry()}
	case ModeBridge:
		return []strategy{e.bridgeEntry()}
	default:
		return []strategy{e.superuserEntry(), e.brokerEntry(), e.bridgeEntry()}
	}
}

// Select returns the backend that would serve a command under caps and the
// current mode.
func (e *Executor) Select(caps Capabilities) (Backend, error) {
	mode := e.Mode()
	list := e.strategies(mode)
	for _, s := range list {
		if s.usable(caps) == nil {
			return s.backend, nil
		}
	}
	if len(list) == 1 {
		var pe *Error
		if err := list[0].usable(caps); errors.As(err, &pe) {
			pe.Detail = fmt.Sprintf("no privileged channel available (mode=%s): %s", mode, pe.Detail)
			return nil, pe
		}
	}
	return nil, newError(KindBackendUnavailable, "", fmt.Sprintf("no privileged channel available (mode=%s)", mode), nil)
}

// Usable reports whether any backend can serve commands under caps.
func (e *Executor) Usable(caps Capabilities) bool {
	_, err := e.Select(caps)
	return err == nil
}

// Run executes command through the selected backend and returns its trimmed
// stdout. On success every PostWriteHook runs against the same backend.
func (e *Executor) Run(ctx context.Context, caps Capabilities, command string) (string, error) {
	b, err := e.Select(caps)
	if err != nil {
		return "", err
	}

	out, err := e.runOn(ctx, b, command)
	if err != nil {
		e.logger.Debug("privileged command failed", "backend", b.Name(), "command", command, "error", err)
		return "", err
	}

	run := func(ctx context.Context, cmd string) (string, error) {
		return e.runOn(ctx, b, cmd)
	}
	for _, h := range e.hooks {
		h.AfterWrite(ctx, command, run)
	}
	return out, nil
}

func (e *Executor) runOn(ctx context.Context, b Backend, command string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err := b.Run(ctx, command)
	if err != nil && ctx.Err() != nil && KindOf(err) != KindBackendUnavailable {
		return "", newError(KindBackendUnavailable, b.Name(), "timed out", ctx.Err())
	}
	return out, err
}
