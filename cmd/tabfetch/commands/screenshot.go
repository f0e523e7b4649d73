package commands

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/tabfetch/internal/logger"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Render an HTML document to PNG",
	Long: `Load an HTML document into a fresh tab and capture it as PNG.

The viewport is fixed at the given width and grown to the full height
of the rendered content.

Examples:
  tabfetch screenshot -f card.html -o card.png
  cat card.html | tabfetch screenshot -f - -o card.png --width 1200 --scale 1`,
	RunE: runScreenshot,
}

func init() {
	rootCmd.AddCommand(screenshotCmd)

	flags := screenshotCmd.Flags()
	flags.StringP("file", "f", "-", "HTML file to render, or - for stdin")
	flags.Int64("width", 800, "viewport width in CSS pixels")
	flags.Float64("scale", 2.5, "device scale factor")
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outPath, _ := cmd.Flags().GetString("output")
	if outPath == "" || outPath == "-" {
		return errors.New("screenshot needs an output file (-o)")
	}

	inPath, _ := cmd.Flags().GetString("file")
	var in io.Reader = os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath) //#nosec G304 -- CLI tool reads user-specified input file
		if err != nil {
			logger.Error("failed to open HTML file", "path", inPath, "error", err)
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	markup, err := io.ReadAll(in)
	if err != nil {
		logger.Error("failed to read HTML", "path", inPath, "error", err)
		return err
	}

	width, _ := cmd.Flags().GetInt64("width")
	scale, _ := cmd.Flags().GetFloat64("scale")

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	png, err := client.Screenshot(ctx, string(markup), width, scale)
	if err != nil {
		logger.Error("screenshot failed", "error", err)
		return err
	}

	if err := os.WriteFile(outPath, png, 0o644); err != nil { //#nosec G306 -- output image is not sensitive
		logger.Error("failed to write screenshot", "path", outPath, "error", err)
		return err
	}
	logger.Info("screenshot saved", "path", outPath, "size", humanize.Bytes(uint64(len(png))))
	return nil
}
