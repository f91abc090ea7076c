package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/desertwitch/minixfs/internal/importer"
	"github.com/desertwitch/minixfs/internal/queue"
	"github.com/desertwitch/minixfs/internal/schema"
	"github.com/desertwitch/minixfs/internal/ui"
	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

func importCommand(logs *SlogManager) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "copy a host directory tree into the image and verify it",
		ArgsUsage: "<hostdir> [dir]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ui",
				Value: true,
				Usage: "show the progress interface",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: runtime.NumCPU(),
				Usage: "files copied or verified at once",
			},
			&cli.BoolFlag{
				Name:  "ascii",
				Usage: "transliterate names to lowercase ASCII",
			},
		},
		Action: func(c *cli.Context) error {
			if err := args(c, 1, 2); err != nil {
				return err
			}

			imageDir := c.Args().Get(1)
			if imageDir == "" {
				imageDir = "."
			}

			return withSession(c, func(s *session) error {
				im := importer.New(&schema.OS{}, s.k, s.task, c.Int("workers"))
				im.ASCIINames = c.Bool("ascii")
				m := queue.NewManager()

				if err := im.Prepare(m, c.Args().First(), imageDir); err != nil {
					return err
				}

				var err error
				if c.Bool("ui") {
					err = runWithUI(c, logs, s, im, m)
				} else {
					err = im.Run(c.Context, m)
				}

				printSummary(c, m)

				return err
			})
		},
	}
}

// runWithUI runs the import while the progress interface owns the terminal.
// Logs go to the interface's log panel until it closes.
func runWithUI(c *cli.Context, logs *SlogManager, s *session, im *importer.Importer, m *queue.Manager) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	uiHandler := ui.NewHandler(ctx, cancel, m)

	logs.AddHandler(terminalHandler, tint.NewHandler(uiHandler.LogWriter, &tint.Options{
		Level:      s.cfg.LogLevel,
		TimeFormat: time.Kitchen,
		NoColor:    true,
	}))
	defer setupLogging(logs, c.App.ErrWriter, s.cfg.LogLevel)

	return uiHandler.Run(func() error {
		return im.Run(ctx, m)
	}, func(err error) {
		setupLogging(logs, c.App.ErrWriter, s.cfg.LogLevel)
		slog.Error("UI failure: falling back to terminal.", "err", err)
	})
}

func printSummary(c *cli.Context, m *queue.Manager) {
	dirs := m.Directories.Progress()
	files := m.Files.Progress()
	verify := m.Verify.Progress()

	fmt.Fprintf(c.App.Writer, "directories: %d created, %d skipped, %d failed\n",
		dirs.SuccessItems, dirs.SkippedItems, dirs.FailedItems)
	fmt.Fprintf(c.App.Writer, "files:       %d copied (%s), %d skipped, %d failed\n",
		files.SuccessItems, humanize.IBytes(files.Bytes), files.SkippedItems, files.FailedItems)
	fmt.Fprintf(c.App.Writer, "verified:    %d of %d (%s)\n",
		verify.SuccessItems, verify.TotalItems, humanize.IBytes(verify.Bytes))
}
