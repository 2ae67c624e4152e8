package privileged

import (
	"context"
	"errors"
	"os"
)

// Backend is one mechanism for running a shell command with elevated
// privileges.
type Backend interface {
	Name() string

	// Available reports whether the backend can be used right now. It is
	// cheap, has no side effects, and never panics.
	Available(ctx context.Context) bool

	// Run executes command and returns its trimmed stdout, or a *Error.
	Run(ctx context.Context, command string) (string, error)
}

const (
	NameSuperuser = "superuser"
	NameBroker    = "broker"
	NameBridge    = "bridge"
)

// Superuser runs commands through a root shell. The command is written to
// the shell's stdin followed by an exit instruction.
type Superuser struct {
	Runner Runner
	// Path is the su binary. Empty means look it up on PATH.
	Path string
}

func (s *Superuser) Name() string { return NameSuperuser }

func (s *Superuser) binary() string {
	if s.Path != "" {
		if fileExists(s.Path) {
			return s.Path
		}
		return ""
	}
	return LookPath("su")
}

func (s *Superuser) Available(_ context.Context) bool {
	return s.binary() != ""
}

func (s *Superuser) Run(ctx context.Context, command string) (string, error) {
	bin := s.binary()
	if bin == "" {
		return "", newError(KindBackendUnavailable, NameSuperuser, "su binary not found", nil)
	}
	out, err := s.Runner.Run(ctx, command+"\nexit\n", bin)
	return Interpret(NameSuperuser, out, err)
}

// Bridge runs commands through a privileged debug shell found at one of a
// set of well-known paths. The first existing path wins.
type Bridge struct {
	Runner Runner
	Paths  []string
}

// DefaultBridgePaths are probed in order when none are configured.
var DefaultBridgePaths = []string{
	"/data/data/com.termux/files/home/rish",
	"/data/local/tmp/rish",
}

func (b *Bridge) Name() string { return NameBridge }

// Path returns the first existing bridge binary, or "".
func (b *Bridge) Path() string {
	paths := b.Paths
	if len(paths) == 0 {
		paths = DefaultBridgePaths
	}
	for _, p := range paths {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func (b *Bridge) Available(_ context.Context) bool {
	return b.Path() != ""
}

func (b *Bridge) Run(ctx context.Context, command string) (string, error) {
	bin := b.Path()
	if bin == "" {
		return "", newError(KindBackendUnavailable, NameBridge, "bridge shell not found", nil)
	}
	out, err := b.Runner.Run(ctx, "", bin, "-c", command)
	return Interpret(NameBridge, out, err)
}

// BrokerClient is the subset of the broker daemon client the Broker backend
// needs.
type BrokerClient interface {
	Ping(ctx context.Context) bool
	Permitted(ctx context.Context) (bool, error)
	Exec(ctx context.Context, command string) (Output, error)
}

// Broker runs commands as a remote privileged process owned by a running
// permission broker daemon.
type Broker struct {
	Client BrokerClient
}

func (b *Broker) Name() string { return NameBroker }

// Available reports daemon reachability only. Permission is probed
// separately so callers can tell the two failures apart.
func (b *Broker) Available(ctx context.Context) bool {
	return b.Client != nil && b.Client.Ping(ctx)
}

// Permitted reports whether this client holds the broker's permission.
func (b *Broker) Permitted(ctx context.Context) bool {
	if b.Client == nil {
		return false
	}
	ok, err := b.Client.Permitted(ctx)
	return err == nil && ok
}

func (b *Broker) Run(ctx context.Context, command string) (string, error) {
	if b.Client == nil {
		return "", newError(KindBackendUnavailable, NameBroker, "broker not configured", nil)
	}
	out, err := b.Client.Exec(ctx, command)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			return "", pe
		}
		if ctx.Err() != nil {
			return "", newError(KindBackendUnavailable, NameBroker, "timed out", err)
		}
		return "", newError(KindBackendUnavailable, NameBroker, "broker not reachable", err)
	}
	return Interpret(NameBroker, out, nil)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
