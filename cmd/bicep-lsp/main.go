package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/biceplsp/completion"
	"github.com/akhenakh/biceplsp/config"
	"github.com/akhenakh/biceplsp/logging"
	"github.com/akhenakh/biceplsp/observability"
	"github.com/akhenakh/biceplsp/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath  string
	verbose     bool
	metricsAddr string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bicep-lsp",
	Short: "Bicep language server: snippet completion and diagnostic suppression",
	Long: `bicep-lsp speaks the Language Server Protocol over stdin/stdout.

It offers context-aware Bicep snippets, "Disable <rule>" quick fixes for
diagnostics, and reports each accepted snippet or quick fix to the client
as one telemetry/event notification.

Logs go to stderr (or log.file); stdout carries the protocol.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.Metrics.Addr = metricsAddr
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the language server protocol over stdio",
	RunE:  runServe,
}

var snippetsCmd = &cobra.Command{
	Use:   "snippets",
	Short: "List the snippet catalog per completion context",
	RunE:  listSnippets,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.Server.Name, version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	// Editors launch language servers with --stdio; stdio is the only transport.
	rootCmd.PersistentFlags().Bool("stdio", true, "Use stdin/stdout (always on)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snippetsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadCatalog(path string) (*completion.Catalog, error) {
	if path == "" {
		return completion.Builtin()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snippet catalog: %w", err)
	}
	defer f.Close()
	return completion.LoadCatalog(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, observability.Config{
		ServiceName:    cfg.Server.Name,
		ServiceVersion: version,
		TraceExporter:  cfg.Metrics.TraceExporter,
		Prometheus:     cfg.Metrics.Addr != "",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("observability shutdown", zap.Error(err))
		}
	}()

	catalog, err := loadCatalog(cfg.Completion.Snippets)
	if err != nil {
		return err
	}
	sess, err := newSession(cfg, catalog, logger, server.WithServerInfo(cfg.Server.Name, version))
	if err != nil {
		return err
	}

	logger.Info("starting language server",
		zap.String("version", version),
		zap.Int("snippets", catalog.Len()),
		zap.String("metrics", cfg.Metrics.Addr))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The metrics endpoint lives as long as the session.
		defer cancel()
		return sess.run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func listSnippets(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog(cfg.Completion.Snippets)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tLABEL\tRESTRICTED TO\tDETAIL")
	for _, kind := range completion.Kinds {
		for _, d := range catalog.All() {
			if d.Kind != kind {
				continue
			}
			restriction := "-"
			switch {
			case d.ResourceType != "":
				restriction = d.ResourceType
			case d.ParentType != "":
				restriction = "parent " + d.ParentType
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, d.Label, restriction, d.Detail)
		}
	}
	return w.Flush()
}
