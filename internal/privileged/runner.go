package privileged

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// Output is the captured result of one subprocess.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts subprocess execution so backends can be tested without
// spawning anything.
type Runner interface {
	// Run executes name with args, feeding stdin when non-empty. A non-nil
	// error means the process could not be started or its streams could not
	// be read; a nonzero exit is reported through Output.ExitCode.
	Run(ctx context.Context, stdin, name string, args ...string) (Output, error)
}

// ExecRunner runs commands on the local host. The process is killed when ctx
// is cancelled.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	out.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		out.ExitCode = 127
	}
	return out, err
}

// LookPath reports the resolved path of a binary on PATH, or "" when absent.
func LookPath(name string) string {
	p, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return p
}

// Interpret applies the shared failure rule to a finished subprocess: only a
// nonzero exit accompanied by non-blank stderr fails. Some superuser shells
// exit nonzero on benign conditions with nothing on stderr.
func Interpret(backend string, out Output, err error) (string, error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", newError(KindBackendUnavailable, backend, "timed out", err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			return "", newError(KindIOFailure, backend, "reading output", err)
		}
		return "", newError(KindIOFailure, backend, "spawning process", err)
	}
	if out.ExitCode != 0 && strings.TrimSpace(out.Stderr) != "" {
		return "", Failed(backend, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return strings.TrimSpace(out.Stdout), nil
}
