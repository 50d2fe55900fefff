package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/filesync/internal/db"
	"github.com/chmdznr/filesync/pkg/models"
	"github.com/chmdznr/filesync/pkg/utils"
)

func openIndex(c *cli.Context) (*db.DB, error) {
	dest := c.String("destination")
	if dest == "" {
		return nil, cli.Exit("destination directory is required", exitInvalidArgs)
	}
	store, err := db.OpenExisting(c.Context, dest)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("failed to open index (was the last run made with --keep-db?): %v", err), exitFatal)
	}
	return store, nil
}

// showStatus prints the index totals and the most recent session.
func showStatus(c *cli.Context) error {
	store, err := openIndex(c)
	if err != nil {
		return err
	}
	defer store.Close(true)

	stats, err := store.GetStats(c.Context)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to get stats: %v", err), exitFatal)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Index: %s\n", store.Path())
	fmt.Fprintf(w, "Total Files: %d (Size: %s)\n", stats.TotalFiles, utils.FormatSize(stats.TotalSize))
	fmt.Fprintf(w, "Tracked Sources: %d\n", stats.TrackedSources)
	fmt.Fprintf(w, "Sessions: %d\n", stats.Sessions)

	last, err := store.LastSession(c.Context)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to get last session: %v", err), exitFatal)
	}

	fmt.Fprintf(w, "Last Session: %s (%s)\n", last.ID, last.State)
	fmt.Fprintf(w, "  Started: %s\n", last.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !last.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Took: %s\n", utils.FormatDuration(last.FinishedAt.Sub(last.StartedAt)))
	}
	fmt.Fprintf(w, "  Scanned: %d, Copied: %d, Skipped: %d, Errors: %d\n", last.Scanned, last.Copied, last.Skipped, last.Errored)
	return nil
}

// listRecords prints every canonical copy in path order.
func listRecords(c *cli.Context) error {
	store, err := openIndex(c)
	if err != nil {
		return err
	}
	defer store.Close(true)

	w := c.App.Writer
	if !c.Bool("json") {
		err = store.ListRecords(c.Context, func(rec models.FileRecord) error {
			_, err := fmt.Fprintf(w, "%s  %s\n", rec.Fingerprint, rec.CanonicalPath)
			return err
		})
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to list records: %v", err), exitFatal)
		}
		return nil
	}

	records := []models.FileRecord{}
	err = store.ListRecords(c.Context, func(rec models.FileRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to list records: %v", err), exitFatal)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
