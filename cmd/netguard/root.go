package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/netguard/config"
	"github.com/jonwraymond/netguard/secret"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "netguard",
		Short: "Resilient outbound HTTP through a rotating proxy pool",
		Long: `netguard sends HTTP requests through a pool of forward proxies, rotating
between healthy endpoints, demoting failing ones and retrying under circuit
breakers and rate limits.

Examples:
  # Serve the status endpoints and keep the pool health-checked
  netguard serve --config netguard.yaml

  # Probe every proxy once and print the result
  netguard check

  # Fetch a page through the pool
  netguard fetch https://example.com/`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("NETGUARD_CONFIG"), "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newFetchCmd(opts),
		newTokenCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// newResolver resolves ${ENV} references and secretref:env / secretref:file
// values. Relative file refs resolve against the config file's directory.
func (o *rootOptions) newResolver() *secret.Resolver {
	dir := ""
	if o.configPath != "" {
		dir = filepath.Dir(o.configPath)
	}
	return secret.NewResolver(true, secret.EnvProvider{}, secret.FileProvider{Dir: dir})
}

func (o *rootOptions) load(ctx context.Context) (*config.Config, error) {
	resolver := o.newResolver()
	defer resolver.Close()

	cfg, err := config.Load(ctx, o.configPath, resolver)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
