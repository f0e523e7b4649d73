// Package commands implements the CLI commands for tabfetch.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tabfetch/internal/config"
	"github.com/jmylchreest/tabfetch/internal/logger"
	"github.com/jmylchreest/tabfetch/internal/output"
	"github.com/jmylchreest/tabfetch/pkg/fetcher"
	"github.com/jmylchreest/tabfetch/pkg/tabfetch"
)

var rootCmd = &cobra.Command{
	Use:   "tabfetch",
	Short: "Fetch rendered pages through a remote Chrome",
	Long: `Tabfetch drives an already running Chrome over the DevTools protocol
and returns the rendered HTML of each page.

Every batch runs in one fresh tab. The first visit to a host waits longer
than repeat visits, and in stealth mode the tab is disguised as a desktop
browser before the first navigation.

Start a browser with remote debugging enabled first, for example:
  chromium --headless=new --remote-debugging-port=9222

Examples:
  # Fetch a single page
  tabfetch fetch https://example.com

  # Fetch a list of URLs in one tab with the stealth preset
  tabfetch batch -i urls.yaml --mode stealth --format jsonl

  # Render an HTML file to PNG
  tabfetch screenshot -f card.html -o card.png`,
	SilenceUsage: true,
}

// errItemsFailed is returned in strict mode when any item failed.
var errItemsFailed = errors.New("one or more fetches failed")

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.tabfetch.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "log as JSON")

	// Browser endpoint
	flags.String("host", "localhost", "DevTools host of the remote browser")
	flags.Int("port", 9222, "DevTools port of the remote browser")
	flags.String("mode", "simple", "wait preset: simple, stealth")

	// Output
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("endpoint.host", flags.Lookup("host"))
	_ = viper.BindPFlag("endpoint.port", flags.Lookup("port"))
	_ = viper.BindPFlag("mode", flags.Lookup("mode"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".tabfetch")
		viper.SetConfigType("yaml")
	}

	// Defaults and TABFETCH_* environment variables
	config.SetDefaults(viper.GetViper())

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup initialises logging and loads the validated configuration.
func setup() (config.Config, error) {
	if err := logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		Level: viper.GetString("log.level"),
		JSON:  viper.GetBool("log.json"),
	}); err != nil {
		return config.Config{}, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("config file loaded", "path", used)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return config.Config{}, err
	}
	logger.Debug("configuration loaded",
		"endpoint", fmt.Sprintf("%s:%d", cfg.Endpoint.Host, cfg.Endpoint.Port),
		"mode", cfg.Mode,
		"stealth", cfg.Stealth.Enabled)
	return cfg, nil
}

// addFetchFlags registers the flags shared by fetch and batch.
func addFetchFlags(flags *pflag.FlagSet) {
	flags.Bool("stealth", true, "disguise the tab as a desktop browser before navigating")
	flags.Bool("text", false, "include visible text and absolute links in results")
	flags.Duration("timeout", 30*time.Second, "navigation timeout per page")
	flags.Duration("delay", 500*time.Millisecond, "pause between pages of a batch")
	flags.Duration("batch-timeout", 0, "overall batch deadline (0=none)")
	flags.Bool("strict", false, "exit non-zero when any page fails")
}

// bindFetchFlags binds the shared flags of the running command. Binding
// happens at run time because fetch and batch share viper keys.
func bindFetchFlags(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"stealth.enabled":    "stealth",
		"extract.text":       "text",
		"navigation.timeout": "timeout",
		"batch.delay":        "delay",
		"batch.timeout":      "batch-timeout",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// newClient builds a tabfetch client from cfg.
func newClient(cfg config.Config) (*tabfetch.Client, error) {
	client, err := tabfetch.New(cfg.Options()...)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		return nil, err
	}
	return client, nil
}

// openOutput returns the --output destination, or stdout.
func openOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	outPath, _ := cmd.Flags().GetString("output")
	if outPath == "" || outPath == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
	if err != nil {
		logger.Error("failed to create output file", "path", outPath, "error", err)
		return nil, nil, err
	}
	return f, f.Close, nil
}

// emitResults writes results in the selected format and logs a summary.
func emitResults(cmd *cobra.Command, results []fetcher.Result, elapsed time.Duration, array bool) error {
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		logger.Error("invalid output format", "format", formatStr, "error", err)
		return err
	}

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()

	writer, err := output.NewWriter(out, format, output.WithArray(array))
	if err != nil {
		logger.Error("failed to create output writer", "format", formatStr, "error", err)
		return err
	}
	if err := output.WriteResults(writer, results); err != nil {
		logger.Error("failed to write output", "error", err)
		return err
	}

	summarize(results, elapsed)
	return nil
}

// summarize logs counts and sizes for a finished run.
func summarize(results []fetcher.Result, elapsed time.Duration) {
	var ok, failed, challenged int
	var size uint64
	for _, r := range results {
		switch v := r.(type) {
		case *fetcher.Success:
			ok++
			size += uint64(len(v.HTML))
			if v.StillChallenged {
				challenged++
			}
		case *fetcher.Failure:
			failed++
			logger.Warn("fetch failed", "url", v.OriginalURL, "kind", v.Kind(), "error", v.Error())
		}
	}
	logger.Info("fetch complete",
		"ok", ok,
		"failed", failed,
		"challenged", challenged,
		"html", humanize.Bytes(size),
		"elapsed", elapsed.Round(time.Millisecond))
}

// anyFailed reports whether results holds a Failure.
func anyFailed(results []fetcher.Result) bool {
	for _, r := range results {
		if !fetcher.IsSuccess(r) {
			return true
		}
	}
	return false
}
