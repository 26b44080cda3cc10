package cli

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
	"golang.org/x/sync/errgroup"

	"github.com/YoshitsuguKoike/mdtxn/internal/adapter/gateway/remote"
	"github.com/YoshitsuguKoike/mdtxn/internal/infrastructure/di"
)

func newServeCmd() *cobra.Command {
	var addr string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local devices to remote coordinators over HTTP",
		Long: `Serve every configured local device (file, sqlite, s3, memory) so that
coordinators on other hosts can attach it as a "remote" device.

Handles not stopped within --handle-ttl are aborted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = globalConfig.ListenAddr()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withContainer(ctx, true, func(c *di.Container) error {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("listen on %s: %w", addr, err)
				}
				return serve(ctx, ln, remote.NewServer(c.LocalDevices(), ttl), ttl)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default: listen_addr setting)")
	cmd.Flags().DurationVar(&ttl, "handle-ttl", remote.DefaultHandleTTL, "abort handles left open longer than this")
	return cmd
}

// serve runs srv on ln until ctx is done, then aborts the handles still open
func serve(ctx context.Context, ln net.Listener, srv *remote.Server, ttl time.Duration) error {
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	Info("Serving devices addr=%s handle_ttl=%s", ln.Addr(), ttl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.RunReaper(gctx, reaperInterval(ttl))
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	err := g.Wait()

	if n := srv.Close(context.Background()); n > 0 {
		Warn("Aborted open handles on shutdown count=%d", n)
	}
	return err
}

func reaperInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
