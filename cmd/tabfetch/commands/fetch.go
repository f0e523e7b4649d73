package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Fetch one or more URLs",
	Long: `Fetch pages through the remote browser and print one result per URL.

A single URL is printed as one object; several URLs are fetched in order
in one tab, exactly like a batch. Without a URL the configured
fetch.default_url is fetched.

Examples:
  tabfetch fetch https://example.com
  tabfetch fetch -u https://a.example -u https://b.example --format yaml
  tabfetch fetch https://example.com --mode stealth --text`,
	PreRunE: bindFetchFlags,
	RunE:    runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceP("url", "u", nil, "URL(s) to fetch (can be repeated)")
	addFetchFlags(fetchCmd.Flags())
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	urls, _ := cmd.Flags().GetStringSlice("url")
	urls = append(urls, args...)
	if len(urls) == 0 {
		if cfg.Fetch.DefaultURL == "" {
			return cmd.Help()
		}
		logger.Info("no URL given, using default", "url", cfg.Fetch.DefaultURL)
		// The client substitutes the default for an empty request.
		urls = []string{""}
	}
	logger.Debug("URLs to fetch", "count", len(urls), "urls", urls)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	reqs := make([]fetcher.Request, len(urls))
	for i, u := range urls {
		reqs[i] = fetcher.Request{URL: u}
	}

	start := time.Now()
	var results []fetcher.Result
	if len(reqs) == 1 {
		results = []fetcher.Result{client.Fetch(ctx, reqs[0])}
	} else {
		results = client.FetchBatch(ctx, reqs)
	}

	if err := emitResults(cmd, results, time.Since(start), len(reqs) > 1); err != nil {
		return err
	}
	if strict, _ := cmd.Flags().GetBool("strict"); strict && anyFailed(results) {
		return errItemsFailed
	}
	return nil
}
