package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/filesync/internal/db"
	"github.com/chmdznr/filesync/internal/hasher"
	"github.com/chmdznr/filesync/pkg/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	return &cli.App{
		Name:                 "filesync",
		Usage:                "Copy files from source directories into one destination, storing each distinct content once",
		UsageText:            "filesync --source DIR [--source DIR ...] --destination DIR [options]",
		Version:              version.Version,
		EnableBashCompletion: true,
		// Source paths may contain commas.
		DisableSliceFlagSeparator: true,
		Flags:                     syncFlags(),
		Action:                    runSync,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprint(c.App.Writer, version.Info())
					return err
				},
			},
			{
				Name:  "status",
				Usage: "Show what a retained index knows about a destination",
				Flags: []cli.Flag{
					destinationFlag(),
				},
				Action: showStatus,
			},
			{
				Name:  "list",
				Usage: "List the canonical copies recorded in a retained index",
				Flags: []cli.Flag{
					destinationFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print records as a JSON array",
					},
				},
				Action: listRecords,
			},
		},
	}
}

func destinationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "destination",
		Aliases: []string{"d"},
		Usage:   "Destination directory",
		EnvVars: []string{"FILESYNC_DESTINATION"},
	}
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "source",
			Aliases: []string{"s"},
			Usage:   "Source directory (repeatable; earlier sources win when content repeats)",
			EnvVars: []string{"FILESYNC_SOURCE"},
		},
		destinationFlag(),
		&cli.BoolFlag{
			Name:    "keep-db",
			Usage:   fmt.Sprintf("Keep the index at <destination>/%s after the run", db.FileName),
			EnvVars: []string{"FILESYNC_KEEP_DB"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of parallel workers for hashing files",
			Value:   runtime.NumCPU(),
			EnvVars: []string{"FILESYNC_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "batch",
			Usage:   "Batch size for indexing existing destination files",
			Value:   100,
			EnvVars: []string{"FILESYNC_BATCH"},
		},
		&cli.BoolFlag{
			Name:    "preserve-tree",
			Usage:   "Keep each file's directory relative to its source instead of flattening",
			EnvVars: []string{"FILESYNC_PRESERVE_TREE"},
		},
		&cli.StringFlag{
			Name:    "hash",
			Usage:   fmt.Sprintf("Fingerprint algorithm (%s or %s)", hasher.SHA256, hasher.BLAKE2b),
			Value:   string(hasher.SHA256),
			EnvVars: []string{"FILESYNC_HASH"},
		},
		&cli.BoolFlag{
			Name:    "rehash",
			Usage:   "Hash every source file even if a retained index remembers it",
			EnvVars: []string{"FILESYNC_REHASH"},
		},
		&cli.BoolFlag{
			Name:    "scan-destination",
			Usage:   "Index files already in the destination before syncing",
			Value:   true,
			EnvVars: []string{"FILESYNC_SCAN_DESTINATION"},
		},
		&cli.IntFlag{
			Name:    "max-write-errors",
			Usage:   "Abort after this many consecutive write failures (0 = never)",
			Value:   3,
			EnvVars: []string{"FILESYNC_MAX_WRITE_ERRORS"},
		},
		&cli.StringFlag{
			Name:    "report",
			Usage:   "Write the sync report as JSON to this file",
			EnvVars: []string{"FILESYNC_REPORT"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Do not show progress",
			EnvVars: []string{"FILESYNC_QUIET"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Log the decision made for every file",
			EnvVars: []string{"FILESYNC_VERBOSE"},
		},
		&cli.BoolFlag{
			Name:  "interactive",
			Usage: "Press q or Esc to stop after the current file",
		},
	}
}
