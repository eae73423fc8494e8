package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/punt/api"
	"github.com/xraph/punt/shutdown"
	"github.com/xraph/punt/stream"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var (
		addr       string
		withWorker bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if !cfg.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			eng, err := a.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			coord := shutdown.New(shutdown.WithLogger(eng.Logger()))
			stop := coord.Notify()
			defer stop()
			ctx, cancel := coord.Context(cmd.Context())
			defer cancel()

			feed := stream.NewFeed(eng.Logger())
			eng.Extensions().Register(feed)

			ln, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           api.New(eng, api.WithFeed(feed)).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			eng.Logger().Info("admin api listening", slog.String("addr", ln.Addr().String()))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				_ = feed.OnShutdown(gctx)
				sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer scancel()
				return srv.Shutdown(sctx)
			})
			if withWorker {
				g.Go(func() error {
					if err := eng.StartUp(gctx); err != nil {
						return err
					}
					return eng.Run(gctx)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default \":8080\")")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run the dispatch loop and retry scheduler")
	return cmd
}
