package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parity/internal/config"
)

const crashLogName = "latest_crash.log"

func crashLogPath(dataDir string) string {
	return filepath.Join(dataDir, crashLogName)
}

// recordCrash must be deferred directly. It writes the panic and stack to the
// crash log, then re-panics.
func recordCrash(dataDir string) {
	r := recover()
	if r == nil {
		return
	}
	if err := writeCrashLog(dataDir, r, debug.Stack(), time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: writing crash log: %v\n", err)
	}
	panic(r)
}

// goWithCrashLog starts fn in a goroutine that records a crash report before
// the panic takes the process down.
func goWithCrashLog(dataDir string, fn func()) {
	go runWithCrashLog(dataDir, fn)
}

func runWithCrashLog(dataDir string, fn func()) {
	defer recordCrash(dataDir)
	fn()
}

func writeCrashLog(dataDir string, cause any, stack []byte, at time.Time) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	report := fmt.Sprintf("parity %s crashed at %s\n\npanic: %v\n\n%s",
		version, at.UTC().Format(time.RFC3339), cause, stack)
	return os.WriteFile(crashLogPath(dataDir), []byte(report), 0o600)
}

var crashCmd = &cobra.Command{
	Use:   "crash",
	Short: "Inspect the last crash report",
}

var crashShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last crash report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(crashLogPath(cfg.Storage.DataDir))
		if errors.Is(err, fs.ErrNotExist) {
			printSuccess("No crash report")
			return nil
		}
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var crashClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the last crash report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		err = os.Remove(crashLogPath(cfg.Storage.DataDir))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		printSuccess("Crash report cleared")
		return nil
	},
}

func init() {
	crashCmd.AddCommand(crashShowCmd)
	crashCmd.AddCommand(crashClearCmd)
}
