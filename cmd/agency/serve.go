package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/agency/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agency over HTTP and WebSocket and run scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := start(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg := a.Config.Server
			if port != 0 {
				cfg.Port = port
			}
			a.RegisterHealthChecks()
			srv := server.New(a.Agency, cfg, a.Logger)

			g, gctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error {
				a.Scheduler.Start(gctx)
				<-gctx.Done()
				a.Scheduler.Stop()
				return nil
			})
			if err := g.Wait(); err != nil && err != context.Canceled {
				return err
			}
			a.Logger.Info("agency stopped")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config and PORT)")
	return cmd
}
