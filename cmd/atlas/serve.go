package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/atlas/internal/adapters/http/api"
	"github.com/okian/atlas/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCommand(f *flags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one scoring pass and serve the ranking over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(cmd, f)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			if cmd.Flags().Changed("addr") {
				e.cfg.Addr = addr
			}

			res, err := e.svc.Run(ctx, e.inputs)
			if err != nil {
				return err
			}
			if f.output != "" || f.traceOut != "" || f.posteriorTrace != "" {
				if err := writeOutputs(cmd, f, e.log, res); err != nil {
					return err
				}
			}

			apiServer := api.NewServer(e.svc,
				api.WithMaxLimit(e.cfg.MaxLeaderboardLimit),
				api.WithLogger(e.log.Named("api")))
			srv := &http.Server{
				Addr:              e.cfg.Addr,
				Handler:           apiServer.Handler(),
				ReadTimeout:       readTimeout,
				WriteTimeout:      writeTimeout,
				IdleTimeout:       idleTimeout,
				ReadHeaderTimeout: readHeaderTimeout,
			}
			return listen(ctx, srv, e.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config addr)")
	return cmd
}

// listen serves until ctx is cancelled, then shuts down gracefully.
func listen(ctx context.Context, srv *http.Server, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info(ctx, "server stopped")
	return nil
}
