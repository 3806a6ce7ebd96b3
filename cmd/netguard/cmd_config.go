package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/netguard/config"
	"github.com/jonwraymond/netguard/proxypool"
)

const redacted = "REDACTED"

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := opts.load(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d proxies\n", len(cfg.Proxy.Specs))
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := opts.load(cmd.Context())
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(redact(cfg)); err != nil {
					return err
				}
				return enc.Close()
			},
		},
	)
	return cmd
}

// redact returns a copy of cfg without proxy passwords or credentials.
func redact(cfg *config.Config) *config.Config {
	out := *cfg

	out.Proxy.Specs = make([]string, 0, len(cfg.Proxy.Specs))
	for _, s := range cfg.Proxy.Specs {
		e, err := proxypool.ParseSpec(s)
		if err != nil {
			out.Proxy.Specs = append(out.Proxy.Specs, redacted)
			continue
		}
		out.Proxy.Specs = append(out.Proxy.Specs,
			fmt.Sprintf("%s://%s:%s:%s", e.Protocol, e.Address(), e.Username, redacted))
	}

	out.Auth.APIKeys = make([]config.APIKeyConfig, len(cfg.Auth.APIKeys))
	for i, k := range cfg.Auth.APIKeys {
		k.Key = redacted
		out.Auth.APIKeys[i] = k
	}
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = redacted
	}
	return &out
}
