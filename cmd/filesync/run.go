package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/filesync/internal/hasher"
	"github.com/chmdznr/filesync/internal/progress"
	"github.com/chmdznr/filesync/internal/sync"
	"github.com/chmdznr/filesync/pkg/models"
	"github.com/chmdznr/filesync/pkg/utils"
)

// Exit codes besides 0 (success, including runs with per-file errors).
const (
	exitFatal       = 1
	exitInvalidArgs = 2
	exitInterrupted = 130
)

func runSync(c *cli.Context) error {
	if c.NArg() > 0 {
		return cli.Exit(fmt.Sprintf("unexpected argument %q (sources are given with --source)", c.Args().First()), exitInvalidArgs)
	}

	cfg := sync.DefaultSyncerConfig()
	cfg.Sources = c.StringSlice("source")
	cfg.Destination = c.String("destination")
	cfg.KeepDB = c.Bool("keep-db")
	cfg.NumWorkers = c.Int("workers")
	cfg.BatchSize = c.Int("batch")
	cfg.PreserveTree = c.Bool("preserve-tree")
	cfg.Algorithm = hasher.Algorithm(c.String("hash"))
	cfg.Rehash = c.Bool("rehash")
	cfg.ScanDestination = c.Bool("scan-destination")
	cfg.MaxWriteErrors = c.Int("max-write-errors")
	cfg.Verbose = c.Bool("verbose")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("interactive") {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stopKeys, err := watchKeys(cancel)
		if err != nil {
			log.Printf("Warning: interactive mode unavailable: %v", err)
		} else {
			defer stopKeys()
		}
	}

	reporter := progress.Auto(os.Stdout, c.Bool("quiet"))
	report, err := sync.Run(ctx, cfg, reporter)
	if report != nil {
		printSummary(c.App.Writer, report)
		if path := c.String("report"); path != "" {
			if werr := writeReport(path, report); werr != nil {
				log.Printf("Warning: %v", werr)
			}
		}
	}
	return exitError(err)
}

// exitError converts a sync error into a cli.ExitCoder with the matching status.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	switch sync.KindOf(err) {
	case sync.KindInvalidArgument:
		return cli.Exit(err.Error(), exitInvalidArgs)
	case sync.KindCanceled:
		return cli.Exit("sync interrupted", exitInterrupted)
	}
	return cli.Exit(err.Error(), exitFatal)
}

func printSummary(w io.Writer, r *models.SyncReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "\nSync Summary (%s):\n", r.State)
	if r.Indexed > 0 {
		fmt.Fprintf(w, "- Indexed in destination: %d\n", r.Indexed)
	}
	fmt.Fprintf(w, "- Files scanned: %d\n", r.Scanned)
	fmt.Fprintf(w, "- Copied: %s (%s)\n", green(r.Copied), utils.FormatSize(r.BytesCopied))
	fmt.Fprintf(w, "- Duplicates skipped: %s\n", yellow(r.Skipped))
	if r.Errored > 0 {
		fmt.Fprintf(w, "- Errors: %s\n", red(r.Errored))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "    %s: %s: %s\n", e.Kind, e.Path, e.Message)
		}
	} else {
		fmt.Fprintf(w, "- Errors: 0\n")
	}

	elapsed := r.Duration.Seconds()
	fmt.Fprintf(w, "- Time taken: %s", utils.FormatDuration(r.Duration))
	if elapsed > 0 && r.BytesCopied > 0 {
		fmt.Fprintf(w, " (%s)", utils.FormatSpeed(float64(r.BytesCopied)/elapsed))
	}
	fmt.Fprintln(w)
}

func writeReport(path string, r *models.SyncReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0644), "writing report %s", path)
}
