package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/kycscan/internal/app"
)

const readHeaderTimeout = 10 * time.Second

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screening HTTP API",
	Long: `Serve exposes screening over HTTP:

  POST   /api/search              stream a run as server-sent events
  POST   /api/search-fallback     raw web search without analysis
  GET    /api/searches            run history
  GET    /api/searches/{id}       one run with results and sources
  DELETE /api/searches/{id}       delete a run
  GET    /api/searches/{id}/diagram, /report
  GET    /api/keywords            keyword dictionary and categories
  GET    /healthz, /readyz, /metrics

Runs continue and are saved even if the client disconnects.

Example:
  kycscan serve
  kycscan serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		cfg := a.Config.Server
		addr := cfg.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Server().Routes(),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.Logger.Info("kycscan listening", "addr", addr, "version", version)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.Logger.Info("shutting down, waiting for open streams")
			// In-flight runs finish on their own; only the wait is bounded
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			return err
		}
		a.Logger.Info("kycscan stopped")
		return nil
	})
}
