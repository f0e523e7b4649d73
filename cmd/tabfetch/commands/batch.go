package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tabfetch/internal/input"
	"github.com/jmylchreest/tabfetch/internal/logger"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fetch a list of URLs in one tab",
	Long: `Read a list of requests and fetch them in order in one browser tab.

The input can be JSON, JSONL, YAML or plain text with one URL per line.
Entries are URL strings or objects with "url" and an optional
"passthrough" value that is copied into the matching result.

Examples:
  tabfetch batch -i urls.txt
  tabfetch batch -i requests.jsonl --format jsonl -o results.jsonl
  cat urls.yaml | tabfetch batch -i - --input-format yaml`,
	PreRunE: bindFetchFlags,
	RunE:    runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	flags := batchCmd.Flags()
	flags.StringP("input", "i", "-", "request list file, or - for stdin")
	flags.String("input-format", "", "input format: json, jsonl, yaml, text (default: from extension or content)")
	addFetchFlags(flags)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	inPath, _ := cmd.Flags().GetString("input")
	format := input.FormatFromPath(inPath)
	if f, _ := cmd.Flags().GetString("input-format"); f != "" {
		format = input.Format(f)
	}

	var in io.Reader = os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath) //#nosec G304 -- CLI tool reads user-specified input file
		if err != nil {
			logger.Error("failed to open input", "path", inPath, "error", err)
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	reqs, err := input.Read(in, format)
	if err != nil {
		logger.Error("failed to read requests", "path", inPath, "error", err)
		return err
	}
	logger.Info("starting batch", "requests", len(reqs), "mode", cfg.Mode)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	results := client.FetchBatch(ctx, reqs)

	if err := emitResults(cmd, results, time.Since(start), true); err != nil {
		return err
	}
	if strict, _ := cmd.Flags().GetBool("strict"); strict && anyFailed(results) {
		return errItemsFailed
	}
	return nil
}
