package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/netguard/proxypool"
)

type checkReport struct {
	Sweep proxypool.SweepResult `json:"sweep"`
	Pool  proxypool.Stats       `json:"pool"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var requireHealthy bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every proxy once and print the pool statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load(ctx)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			sweep, err := a.pool.CheckHealth(ctx)
			if err != nil {
				return err
			}
			report := checkReport{Sweep: sweep, Pool: a.pool.Stats()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if requireHealthy && report.Pool.Unhealthy > 0 {
				return fmt.Errorf("%d of %d proxies unhealthy", report.Pool.Unhealthy, report.Pool.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&requireHealthy, "require-healthy", false, "Exit non-zero when any proxy fails its probe")
	return cmd
}
