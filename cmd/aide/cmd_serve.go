package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aide/internal/appversion"
	"aide/internal/tracing"
	"aide/pkg/config"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

type serveConfig struct {
	listen  string
	noWatch bool
	noSweep bool
}

// newServeCmd creates the "aide serve" subcommand.
func newServeCmd(e *env) *cobra.Command {
	var sc serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the approval sweeper and the config watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listen := e.cfg.Listen
			if sc.listen != "" {
				listen = sc.listen
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "aide listening on http://%s\n", ln.Addr())
			return serve(ctx, e, ln, sc)
		},
	}

	cmd.Flags().StringVar(&sc.listen, "listen", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&sc.noWatch, "no-watch", false, "do not reload the config file on change")
	cmd.Flags().BoolVar(&sc.noSweep, "no-sweep", false, "do not expire approvals in the background")

	return cmd
}

// serve runs until ctx ends or one of its loops fails.
func serve(ctx context.Context, e *env, ln net.Listener, sc serveConfig) error {
	stopTracing, err := tracing.Setup(ctx, tracing.Options{
		Endpoint: e.cfg.Tracing.Endpoint,
		Insecure: e.cfg.Tracing.Insecure,
		Version:  appversion.String(),
	}, e.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := stopTracing(flushCtx); err != nil {
			e.logger.Warn("flush spans", zap.Error(err))
		}
	}()

	rt, err := openRuntime(ctx, e.paths.StateDB, e.cfg, true, e.logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = rt.Close() }()

	srv := &http.Server{
		Handler:           newServer(rt, e.logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Open SSE streams end with the publisher, not with Shutdown.
		rt.publisher.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if !sc.noSweep {
		g.Go(func() error { return rt.sup.RunSweeper(gctx) })
	}
	if !sc.noWatch {
		g.Go(func() error {
			return config.Watch(gctx, e.paths.ConfigFile, e.logger, func(cfg config.Config) {
				applyConfig(rt.sup, cfg, e.logger)
			})
		})
	}

	e.logger.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("db", e.paths.StateDB))
	return g.Wait()
}
