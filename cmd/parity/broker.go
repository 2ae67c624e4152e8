package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parity/internal/broker"
	"github.com/kalambet/parity/internal/config"
	"github.com/kalambet/parity/internal/privileged"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run or connect to the privileged broker daemon",
}

var brokerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker daemon (start it as a privileged user)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBroker()
	},
}

var brokerTokenCmd = &cobra.Command{
	Use:   "token <token>",
	Short: "Store the token this client presents to the broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetBrokerToken(config.NewKeychain(), args[0]); err != nil {
			return err
		}
		printSuccess("Broker token stored")
		return nil
	},
}

func init() {
	brokerCmd.AddCommand(brokerServeCmd)
	brokerCmd.AddCommand(brokerTokenCmd)
}

func runBroker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))

	if len(cfg.Broker.Tokens) == 0 {
		printWarning("broker.tokens is empty: every client will be refused permission")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr: cfg.Broker.Listen,
		Handler: broker.NewHandler(broker.ServerDeps{
			Runner: privileged.ExecRunner{},
			Tokens: cfg.Broker.Tokens,
			Logger: logger,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "parity broker listening on %s (uid %d)\n", cfg.Broker.Listen, os.Geteuid())
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
			return fmt.Errorf("broker error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
