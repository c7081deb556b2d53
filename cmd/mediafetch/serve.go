package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/vm-affekt/mediafetch/internal/config"
	"github.com/vm-affekt/mediafetch/internal/dialogs"
	"github.com/vm-affekt/mediafetch/internal/httpapi"
	"github.com/vm-affekt/mediafetch/internal/logging"
	"github.com/vm-affekt/mediafetch/internal/telegram"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(e *env) *cobra.Command {
	var withBot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP download API",
		Long: `Serve the HTTP download API.

  POST /api/downloads   url, kind (audio|video), collection (bool)
  GET  /healthz

With --bot the Telegram bot runs in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if withBot {
				if err := e.cfg.RequireTelegram(); err != nil {
					return err
				}
			}
			p := e.pipeline()
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return runHTTP(ctx, e.cfg.HTTPAddr, httpapi.New(p.service, e.cfg.RequestTimeout).Handler())
			})
			if withBot {
				g.Go(func() error {
					return runBot(ctx, e.cfg, p)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	cmd.Flags().BoolVar(&withBot, "bot", false, "Also run the Telegram bot")
	bindFlags(e.v, cmd, map[string]string{"addr": config.KeyHTTPAddr})
	return cmd
}

func newBotCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.cfg.RequireTelegram(); err != nil {
				return err
			}
			return runBot(cmd.Context(), e.cfg, e.pipeline())
		},
	}
	cmd.Flags().Int64("max-upload-mb", 0, "Largest file the bot sends, in MB")
	bindFlags(e.v, cmd, map[string]string{"max-upload-mb": config.KeyMaxUploadSizeMB})
	return cmd
}

// runHTTP serves until ctx is done, then shuts down gracefully.
func runHTTP(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return serveHTTP(ctx, ln, handler)
}

// serveHTTP serves on ln. Request contexts derive from ctx, so shutdown
// cancels the downloads still in flight.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	log := logging.FromContextS(ctx)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info("Shutdown HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("HTTP server stopped")
	return nil
}

func runBot(ctx context.Context, cfg config.Config, p pipeline) error {
	container := dialogs.NewContainer(p.registry, p.service, cfg.RequestTimeout, cfg.MaxUploadSizeMB)
	msgProc := telegram.NewMsgProcessor(cfg.TelegramAPIKey, cfg.Debug(), container)
	if err := msgProc.Run(ctx, cfg.TelegramLongPollingTimeout); err != nil {
		return fmt.Errorf("failed to run telegram bot: %w", err)
	}
	logging.FromContextS(ctx).Info("Shutdown work is over. Bye :-)")
	return nil
}
