package cli

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

	"github.com/driftdb/driftdb/internal/engine"
	"github.com/driftdb/driftdb/internal/hlc"
	"github.com/driftdb/driftdb/internal/oplog"
	"github.com/driftdb/driftdb/internal/registry"
	"github.com/driftdb/driftdb/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
	// SyncAll republishes the whole history on startup so peers that
	// were offline catch up.
	SyncAll bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a replica node",
		Long: `Start a driftdb replica node.

Loads the node config, the CUE table declarations, and the replica
database (creating it if it doesn't exist), connects the transport,
and replicates writes with the configured peers until interrupted.

Example:
  driftdb run --config ./node.yaml
  driftdb run --config ./node.yaml --sync-all --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to node config YAML (required)")
	cmd.Flags().BoolVar(&opts.SyncAll, "sync-all", false, "republish full history on startup")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runNode(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	slog.Info("loading schema", "dir", cfg.SchemaDir)
	decls, err := LoadTables(cfg.SchemaDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load table declarations", err)
	}
	slog.Info("schema loaded", "tables", len(decls))

	nodeID, err := hlc.LoadOrCreateNodeID(cfg.NodeIDFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load node identity", err)
	}

	slog.Info("opening database", "path", cfg.Database)
	log, err := oplog.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	reg := registry.New()
	for _, decl := range decls {
		if decl.Create != "" {
			if _, err := log.DB().Exec(decl.Create); err != nil {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("failed to create table %s", decl.Name), err)
			}
		}
		if decl.Synced {
			reg.Register(decl.Meta())
		} else {
			reg.RegisterLocal(decl.Meta())
		}
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up transport", err)
	}
	defer tr.Close()

	eng := engine.New(log, reg, tr, nodeID,
		engine.WithTopic(cfg.Topic),
		engine.WithQueueSize(cfg.Dispatch.QueueSize),
		engine.WithOverflowPolicy(cfg.OverflowPolicy()),
		engine.WithRetryBudget(cfg.Dispatch.RetryBudget),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	if err := eng.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "engine failed to start", err)
	}

	if opts.SyncAll {
		if n, err := eng.SyncAll(ctx); err != nil {
			slog.Error("history republish failed", "published", n, "error", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Replica running. Press Ctrl-C to stop.")
	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	// Close while ctx is still live so the dispatch queue can flush over
	// the transport; the deferred cancel tears the transport down after.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := eng.Close(closeCtx); err != nil {
		return WrapExitError(ExitFailure, "engine shutdown error", err)
	}

	slog.Info("replica stopped gracefully")
	return nil
}

// buildTransport constructs the configured transport, optionally serving
// a websocket hub so this node can be the rendezvous point.
func buildTransport(ctx context.Context, cfg *Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "memory":
		// Loopback bus: useful for single-node demos and tests.
		return transport.NewBus().Node(), nil
	case "ws":
		hubURL := cfg.Transport.Hub
		if cfg.Transport.Listen != "" {
			hub := transport.NewHub(slog.Default())
			mux := http.NewServeMux()
			mux.Handle("/sync", hub)
			srv := &http.Server{Addr: cfg.Transport.Listen, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("hub server stopped", "error", err)
				}
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			if hubURL == "" {
				hubURL = "ws://localhost" + cfg.Transport.Listen + "/sync"
			}
		}
		return transport.DialWS(ctx, hubURL, slog.Default())
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}
