// Package settings resolves a catalog item's accessor into concrete read and
// write operations on the direct or privileged channel.
package settings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/direct"
	"github.com/kalambet/parity/internal/privileged"
)

// Exec runs a command through a privileged backend.
type Exec interface {
	Run(ctx context.Context, caps privileged.Capabilities, command string) (string, error)
}

// Channel binds the two execution paths to one capability snapshot.
type Channel struct {
	Direct direct.Provider
	Exec   Exec
	Caps   privileged.Capabilities
	// Hooks run after a successful direct write, through the direct
	// channel. Privileged writes run their hooks inside the executor.
	Hooks  []privileged.PostWriteHook
	Logger *slog.Logger
}

func (c Channel) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Read returns the live value of item. Any failure yields ok=false; reads
// never return an error.
func (c Channel) Read(ctx context.Context, item catalog.Item) (string, bool) {
	res := catalog.Visit[readResult](item.Accessor, reader{ctx: ctx, ch: c})
	if res.err != nil {
		c.logger().Debug("read failed", "item", item.ID, "accessor", catalog.Describe(item.Accessor), "error", res.err)
		return "", false
	}
	return res.value, res.ok
}

// Write sets item to value. Items that require elevation go through the
// privileged executor; the rest use the direct channel, which only serves the
// system namespace.
func (c Channel) Write(ctx context.Context, item catalog.Item, value string) error {
	if item.RequiresElevation {
		cmd := catalog.Visit[string](item.Accessor, writeCommand{value: value})
		_, err := c.Exec.Run(ctx, c.Caps, cmd)
		return err
	}
	return catalog.Visit[error](item.Accessor, directWriter{ctx: ctx, ch: c, value: value})
}

type readResult struct {
	value string
	ok    bool
	err   error
}

type reader struct {
	ctx context.Context
	ch  Channel
}

func (r reader) direct(ns catalog.Namespace, key string) readResult {
	v, ok, err := r.ch.Direct.Get(r.ctx, ns, key)
	return readResult{value: v, ok: ok, err: err}
}

func (r reader) privileged(command string) readResult {
	out, err := r.ch.Exec.Run(r.ctx, r.ch.Caps, command)
	if err != nil {
		return readResult{err: err}
	}
	if out == "" || out == "null" {
		return readResult{}
	}
	return readResult{value: out, ok: true}
}

func (r reader) elevatedKey(ns catalog.Namespace, key string) readResult {
	if r.ch.Caps.DirectElevated {
		return r.direct(ns, key)
	}
	return r.privileged(getCommand(ns, key))
}

func (r reader) System(a catalog.System) readResult {
	return r.direct(catalog.NamespaceSystem, a.Key)
}

func (r reader) Secure(a catalog.Secure) readResult {
	return r.elevatedKey(catalog.NamespaceSecure, a.Key)
}

func (r reader) Global(a catalog.Global) readResult {
	return r.elevatedKey(catalog.NamespaceGlobal, a.Key)
}

func (r reader) Shell(a catalog.ShellPair) readResult {
	return r.privileged(a.Read)
}

type writeCommand struct{ value string }

func (w writeCommand) System(a catalog.System) string {
	return putCommand(catalog.NamespaceSystem, a.Key, w.value)
}

func (w writeCommand) Secure(a catalog.Secure) string {
	return putCommand(catalog.NamespaceSecure, a.Key, w.value)
}

func (w writeCommand) Global(a catalog.Global) string {
	return putCommand(catalog.NamespaceGlobal, a.Key, w.value)
}

func (w writeCommand) Shell(a catalog.ShellPair) string {
	return a.Render(w.value)
}

type directWriter struct {
	ctx   context.Context
	ch    Channel
	value string
}

func (w directWriter) System(a catalog.System) error {
	if !w.ch.Caps.DirectWrite {
		return privileged.Denied("direct", "WRITE_SETTINGS permission not granted")
	}
	ack, err := w.ch.Direct.Put(w.ctx, catalog.NamespaceSystem, a.Key, w.value)
	if err != nil {
		return &privileged.Error{Kind: privileged.KindIOFailure, Backend: "direct", Detail: "writing " + a.Key, Err: err}
	}
	if !ack {
		return privileged.Failed("direct", 0, fmt.Sprintf("write of system/%s was not acknowledged", a.Key))
	}
	cmd := putCommand(catalog.NamespaceSystem, a.Key, w.value)
	for _, h := range w.ch.Hooks {
		h.AfterWrite(w.ctx, cmd, w.ch.Direct.Shell)
	}
	return nil
}

func (w directWriter) Secure(a catalog.Secure) error {
	return privileged.Unsupported("secure/" + a.Key + " requires elevation")
}

func (w directWriter) Global(a catalog.Global) error {
	return privileged.Unsupported("global/" + a.Key + " requires elevation")
}

func (w directWriter) Shell(a catalog.ShellPair) error {
	return privileged.Unsupported("shell commands require elevation")
}

func getCommand(ns catalog.Namespace, key string) string {
	return fmt.Sprintf("settings get %s %s", ns, key)
}

func putCommand(ns catalog.Namespace, key, value string) string {
	return fmt.Sprintf("settings put %s %s %s", ns, key, value)
}
