package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/parity/internal/api"
	"github.com/kalambet/parity/internal/broker"
	"github.com/kalambet/parity/internal/catalog"
	"github.com/kalambet/parity/internal/config"
	"github.com/kalambet/parity/internal/direct"
	"github.com/kalambet/parity/internal/drift"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/reconcile"
	"github.com/kalambet/parity/internal/state"
	"github.com/kalambet/parity/internal/storage"
	"github.com/kalambet/parity/internal/vendorsync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the parity server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running parity server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and privileged backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "parity.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.LoadFile(cfg.Catalog.Path)
	}
	return catalog.Default()
}

// backends holds the privileged channels built from config.
type backends struct {
	superuser *privileged.Superuser
	broker    *privileged.Broker
	bridge    *privileged.Bridge
	direct    *direct.CLIProvider
	prober    *privileged.Prober
}

func newBackends(cfg config.Config, logger *slog.Logger) backends {
	runner := privileged.ExecRunner{}
	b := backends{
		superuser: &privileged.Superuser{Runner: runner, Path: cfg.Exec.SuPath},
		bridge:    &privileged.Bridge{Runner: runner, Paths: cfg.Exec.BridgePaths},
		direct:    direct.NewCLIProvider(runner, cfg.Exec.SettingsTool),
	}
	if cfg.Broker.URL != "" {
		b.broker = &privileged.Broker{Client: broker.NewClient(cfg.Broker.URL, cfg.Broker.Token)}
	}
	b.prober = privileged.NewProber(b.superuser, b.broker, b.bridge, b.direct, cfg.Probe.CacheTTL, logger)
	return b
}

func newEngine(cfg config.Config, cat *catalog.Catalog, store *storage.Store, logger *slog.Logger) *reconcile.Engine {
	b := newBackends(cfg, logger)
	hooks := []privileged.PostWriteHook{vendorsync.New(cfg.VendorSyncMode(), cfg.VendorSync.Vendors, logger)}
	exec := privileged.NewExecutor(privileged.ExecutorConfig{
		Superuser: b.superuser,
		Broker:    b.broker,
		Bridge:    b.bridge,
		Mode:      cfg.ExecMode(),
		Timeout:   cfg.Exec.Timeout,
		Hooks:     hooks,
		Logger:    logger,
	})
	return reconcile.New(reconcile.Config{
		Catalog:  cat,
		State:    state.NewStore(store, logger),
		History:  store,
		Direct:   b.direct,
		Executor: exec,
		Prober:   b.prober,
		Hooks:    hooks,
		Logger:   logger,
	})
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "parity version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	defer recordCrash(cfg.Storage.DataDir)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("parity is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("parity is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	eng := newEngine(cfg, cat, store, logger)
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("loading items: %w", err)
	}
	slog.Info("items loaded", "count", cat.Len(), "mode", eng.Mode())

	// Only exec.mode is applied live; other keys need a restart.
	watcher := config.NewWatcher(config.FilePath(), func(next config.Config) {
		if m := next.ExecMode(); m != eng.Mode() {
			if err := eng.SetMode(ctx, m); err != nil {
				slog.Warn("applying reloaded backend mode", "mode", m, "error", err)
			}
		}
	}, logger)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	worker := drift.NewWorker(eng, cfg.Refresh.Interval, logger)
	goWithCrashLog(cfg.Storage.DataDir, func() { worker.Run(ctx) })

	handler := api.NewAppHandler(api.AppDeps{
		Engine: eng,
		Token:  apiToken,
		Logger: logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(eng, version))
		goWithCrashLog(cfg.Storage.DataDir, func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		})
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "parity listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("parity is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop parity (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to parity (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	var caps privileged.Capabilities
	mode := cfg.Exec.Mode
	fetched := false
	if running {
		if c, err := newAPIClient(); err == nil {
			if r, err := c.get(ctx, "/capabilities"); err == nil && decodeJSON(r, &caps) == nil {
				fetched = true
			}
			var m struct {
				Mode string `json:"mode"`
			}
			if r, err := c.get(ctx, "/mode"); err == nil && decodeJSON(r, &m) == nil {
				mode = m.Mode
			}
		}
	}
	if !fetched {
		printStep("Server not reachable, probing backends locally")
		caps = newBackends(cfg, slog.Default()).prober.Snapshot(ctx)
	}

	printStatus("Mode", "%s", mode)
	printCapabilities(caps)
	printStatus("Vendor sync", "%s (%s)", cfg.VendorSync.Mode, strings.Join(cfg.VendorSync.Vendors, ", "))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printCapabilities(c privileged.Capabilities) {
	printStatus("Root", "%s", yesNo(c.Superuser))
	switch {
	case c.BrokerPermitted:
		printStatus("Broker", "running, permission granted")
	case c.BrokerReachable:
		printStatus("Broker", "running, permission not granted")
	default:
		printStatus("Broker", "not running")
	}
	if c.BridgePath != "" {
		printStatus("Bridge", "%s", c.BridgePath)
	} else {
		printStatus("Bridge", "not found")
	}
	printStatus("Direct write", "%s", yesNo(c.DirectWrite))
}

func yesNo(b bool) string {
	if b {
		return colorize(okStyle, "yes")
	}
	return colorize(failStyle, "no")
}
