// Package vendorsync issues a corrective broadcast after settings writes on
// vendor builds whose shadow settings database drifts from the canonical one.
package vendorsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/parity/internal/privileged"
)

// Mode controls when the corrective broadcast is sent.
type Mode string

const (
	// ModeAuto sends it only when the device manufacturer is listed as affected.
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeOff    Mode = "off"
)

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeAlways, ModeOff:
		return m, nil
	}
	return "", fmt.Errorf("unknown vendor sync mode %q (want auto, always, or off)", s)
}

const (
	mutationMarker     = "settings put"
	manufacturerProp   = "getprop ro.product.manufacturer"
	reconcileBroadcast = "am broadcast -a android.intent.action.CONFIGURATION_CHANGED"
)

// DefaultVendors are the manufacturers known to need the broadcast.
var DefaultVendors = []string{"samsung"}

// Guard is a privileged.PostWriteHook. Its own failures are logged at debug
// level and dropped; a failed broadcast leaves the original write successful.
type Guard struct {
	mode    Mode
	vendors []string
	logger  *slog.Logger

	mu       sync.Mutex
	probed   bool
	affected bool
}

// New creates a Guard. An empty vendor list means DefaultVendors.
func New(mode Mode, vendors []string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if len(vendors) == 0 {
		vendors = DefaultVendors
	}
	norm := make([]string, 0, len(vendors))
	for _, v := range vendors {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			norm = append(norm, v)
		}
	}
	return &Guard{mode: mode, vendors: norm, logger: logger}
}

// Matches reports whether command has the settings-mutation shape.
func Matches(command string) bool {
	return strings.Contains(command, mutationMarker)
}

// AfterWrite sends the corrective broadcast through run when command mutated
// settings on an affected device.
func (g *Guard) AfterWrite(ctx context.Context, command string, run privileged.RunFunc) {
	if g.mode == ModeOff || !Matches(command) {
		return
	}
	if !g.isAffected(ctx, run) {
		return
	}
	if _, err := run(ctx, reconcileBroadcast); err != nil {
		g.logger.Debug("vendor sync broadcast failed", "error", err)
	}
}

// isAffected decides once per process whether this device needs the
// broadcast. A failed manufacturer probe is retried on the next write.
func (g *Guard) isAffected(ctx context.Context, run privileged.RunFunc) bool {
	if g.mode == ModeAlways {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.probed {
		return g.affected
	}
	out, err := run(ctx, manufacturerProp)
	if err != nil {
		g.logger.Debug("manufacturer probe failed", "error", err)
		return false
	}
	g.probed = true
	g.affected = g.listed(out)
	g.logger.Debug("vendor sync detection", "manufacturer", out, "affected", g.affected)
	return g.affected
}

func (g *Guard) listed(manufacturer string) bool {
	m := strings.ToLower(strings.TrimSpace(manufacturer))
	for _, v := range g.vendors {
		if m == v {
			return true
		}
	}
	return false
}
