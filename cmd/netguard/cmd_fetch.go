package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/netguard/proxypool"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		headers  map[string]string
		showBody bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "GET a URL through the proxy pool",
		Long: `fetch waits on the "fetch" rate limit, then issues a GET through the
pool under the "fetch" circuit breaker and retry policy. It prints the status
code, body size and serving proxy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if u, err := url.Parse(target); err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid url %q", target)
			}

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

			resp, err := a.fetch(ctx, target, &proxypool.RequestOptions{Headers: headers})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status=%d bytes=%d proxy=%s attempts=%d duration=%s\n",
				resp.StatusCode, len(resp.Body), resp.Proxy, resp.Attempts, resp.Duration.Round(time.Millisecond))
			if showBody {
				_, err = out.Write(resp.Body)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "Extra request header as name=value (repeatable)")
	cmd.Flags().BoolVar(&showBody, "body", false, "Print the response body after the summary line")
	return cmd
}
