// Package direct reads and writes structured settings with the process's own
// permissions, without going through a privilege-elevation backend.
package direct

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/privileged"
)

// Provider is the in-process permission channel.
type Provider interface {
	// CanWrite reports whether the lesser, grantable write permission is held.
	CanWrite(ctx context.Context) bool
	// Elevated reports whether the elevated permission is already held, so
	// secure and global keys can be read without a privileged backend.
	Elevated(ctx context.Context) bool
	// Get returns the value of key, with ok=false when it is unset.
	Get(ctx context.Context, ns catalog.Namespace, key string) (value string, ok bool, err error)
	// Put writes key and returns the write acknowledgement.
	Put(ctx context.Context, ns catalog.Namespace, key, value string) (bool, error)
	// Shell runs a follow-up command with the same permissions, for post-write
	// hooks after a direct write.
	Shell(ctx context.Context, command string) (string, error)
}

const nameDirect = "direct"

const (
	uidRoot  = 0
	uidShell = 2000
)

// CLIProvider drives the device's settings tool as the current user.
type CLIProvider struct {
	Runner privileged.Runner
	// Tool is the settings binary. Empty means look it up on PATH.
	Tool string

	geteuid func() int
}

// NewCLIProvider returns a CLIProvider that spawns processes with runner.
func NewCLIProvider(runner privileged.Runner, tool string) *CLIProvider {
	return &CLIProvider{Runner: runner, Tool: tool, geteuid: os.Geteuid}
}

func (p *CLIProvider) tool() string {
	if p.Tool != "" {
		return p.Tool
	}
	return privileged.LookPath("settings")
}

func (p *CLIProvider) CanWrite(_ context.Context) bool {
	return p.tool() != ""
}

func (p *CLIProvider) Elevated(ctx context.Context) bool {
	if !p.CanWrite(ctx) {
		return false
	}
	euid := os.Geteuid
	if p.geteuid != nil {
		euid = p.geteuid
	}
	uid := euid()
	return uid == uidRoot || uid == uidShell
}

func (p *CLIProvider) Get(ctx context.Context, ns catalog.Namespace, key string) (string, bool, error) {
	tool := p.tool()
	if tool == "" {
		return "", false, fmt.Errorf("settings tool not found")
	}
	out, err := p.Runner.Run(ctx, "", tool, "get", string(ns), key)
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s: %w", ns, key, err)
	}
	if out.ExitCode != 0 {
		return "", false, fmt.Errorf("reading %s/%s: exit %d: %s", ns, key, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	v := strings.TrimSpace(out.Stdout)
	if v == "" || v == "null" {
		return "", false, nil
	}
	return v, true, nil
}

func (p *CLIProvider) Put(ctx context.Context, ns catalog.Namespace, key, value string) (bool, error) {
	tool := p.tool()
	if tool == "" {
		return false, fmt.Errorf("settings tool not found")
	}
	out, err := p.Runner.Run(ctx, "", tool, "put", string(ns), key, value)
	if err != nil {
		return false, fmt.Errorf("writing %s/%s: %w", ns, key, err)
	}
	return out.ExitCode == 0 && strings.TrimSpace(out.Stderr) == "", nil
}

func (p *CLIProvider) Shell(ctx context.Context, command string) (string, error) {
	out, err := p.Runner.Run(ctx, "", "sh", "-c", command)
	return privileged.Interpret(nameDirect, out, err)
}
