package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/api"
)

const (
	httpShutdownTimeout = 10 * time.Second
	runDrainTimeout     = time.Minute
)

func serveCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled mailbox sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			if addr == "" {
				addr = e.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := e.service.Start(); err != nil {
				return err
			}

			srv := api.NewServer(e.service, e.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case <-ctx.Done():
				e.logger.Info().Msg("shutting down")
			case err = <-errCh:
				if err != nil {
					e.logger.Error().Err(err).Msg("http server failed")
				}
			}

			httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(httpCtx); serr != nil {
				e.logger.Error().Err(serr).Msg("http shutdown")
			}

			drainCtx, cancelDrain := context.WithTimeout(context.Background(), runDrainTimeout)
			defer cancelDrain()
			if serr := e.service.Stop(drainCtx); serr != nil {
				e.logger.Warn().Err(serr).Msg("sync run still in flight at exit")
			}

			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
