package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/pipeline"
)

const usage = `Usage: normativa [-config path] [-verbose] <command> [flags]

Commands:
  index     rebuild the regulatory corpus index from a folder of PDFs
  process   turn a scanned request (image, PDF or text) into a request record
  respond   answer a saved request record from the indexed corpus
  chat      answer requests typed on the terminal
  serve     expose the pipeline over WebSocket
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		fmt.Fprintln(flag.CommandLine.Output(), "\nGlobal flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		reportError(err)
		stop()
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger, command string, args []string) error {
	var cmd func(context.Context, *application, []string) error
	switch command {
	case "index":
		cmd = runIndex
	case "process":
		cmd = runProcess
	case "respond":
		cmd = runRespond
	case "chat":
		cmd = runChat
	case "serve":
		cmd = runServe
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	app, err := newApplication(configPath, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd(ctx, app, args)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func reportError(err error) {
	var cfgErr *faults.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		color.Red("Configuration error: %v", err)
	case pipeline.IsUserError(err):
		color.Yellow("Invalid input: %v", err)
	default:
		color.Red("Error: %v", err)
	}
}

func exitCode(err error) int {
	var cfgErr *faults.ConfigurationError
	if errors.As(err, &cfgErr) || pipeline.IsUserError(err) {
		return 2
	}
	return 1
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// withSpinner animates a spinner on stderr while fn runs.
func withSpinner[T any](description string, fn func() (T, error)) (T, error) {
	spinner := getSpinner(description)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()

	result, err := fn()
	close(done)
	spinner.Finish()
	fmt.Fprint(os.Stderr, "\r")
	return result, err
}
