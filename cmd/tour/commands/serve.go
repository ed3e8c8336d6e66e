package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a-synchronous/tour/internal/config"
	"github.com/a-synchronous/tour/internal/server"
	"github.com/a-synchronous/tour/internal/store"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	configPath string
	port       int
	host       string
	watch      bool
	share      bool
	db         string
}

func newServeCommand(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Serve the tours in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a, opts, dirArg(args))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: <directory>/tour.yaml)")
	flags.IntVarP(&opts.port, "port", "p", 8080, "Port to listen on")
	flags.StringVar(&opts.host, "host", "localhost", "Host to bind")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "Reload pages when files change")
	flags.BoolVar(&opts.share, "share", false, "Enable snippet sharing")
	flags.StringVar(&opts.db, "db", "", "Share database path (default: <directory>/tour.db)")
	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts serveOptions, dir string) error {
	out := cmd.OutOrStdout()
	logger := a.logger

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Fprintf(out, "📝 Using config: %s\n", opts.configPath)
	} else {
		cfg, err = config.LoadFromDir(absDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	// CLI flags override config
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("watch") {
		cfg.Features.HotReload = opts.watch
	}
	if flags.Changed("share") {
		cfg.Share.Enabled = opts.share
	}
	if flags.Changed("db") {
		cfg.Share.DB = opts.db
	}
	if a.debug {
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	serverOpts := []server.Option{server.WithLogger(logger)}
	if cfg.Share.Enabled {
		st, err := store.Open(cfg.Share.GetDB(absDir), logger)
		if err != nil {
			return fmt.Errorf("failed to open share store: %w", err)
		}
		defer st.Close()
		serverOpts = append(serverOpts, server.WithStore(st))
	}

	srv := server.New(absDir, cfg, serverOpts...)
	defer srv.Close()

	if err := srv.Discover(); err != nil {
		return fmt.Errorf("failed to discover pages: %w", err)
	}

	fmt.Fprintf(out, "📚 %s\n\n", cfg.Title)
	fmt.Fprintf(out, "Serving: %s\n", absDir)
	fmt.Fprintf(out, "\nPages discovered:\n")
	for _, route := range srv.Routes() {
		fmt.Fprintf(out, "  %-30s %s (%d runners)\n", route.Pattern, route.FilePath, len(route.Page.Runners))
	}

	if cfg.Features.HotReload {
		if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
		fmt.Fprintf(out, "\n👀 Watch mode enabled - pages reload when files change\n")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, limiterDone := srv.Handler(ctx)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	fmt.Fprintf(out, "\n🌐 Server running at http://%s\n", ln.Addr())
	if cfg.Share.Enabled {
		fmt.Fprintf(out, "🔗 Sharing enabled at %s\n", server.SharePath)
	}
	fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			return httpServer.Close()
		}
		return nil
	})

	err = g.Wait()
	stop()
	<-limiterDone
	return err
}
