package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/netguard/observe"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy health scheduler and the status server",
		Long: `serve probes every proxy immediately and then every
proxy.health_check_interval, and serves the status endpoints until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Service.ListenAddr = listen
			}

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Service.ShutdownTimeout)
				defer cancel()
				if err := a.Close(shutdownCtx); err != nil {
					a.logger.Error(shutdownCtx, "shutdown", observe.Err(err))
				}
			}()

			a.logger.Info(ctx, "starting netguard",
				observe.F("version", cfg.Service.Version),
				observe.F("proxies", a.pool.Len()),
				observe.F("auth", cfg.Auth.Enabled()),
			)
			a.pool.Start()
			return a.statusServer().Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override service.listen_addr")
	return cmd
}
