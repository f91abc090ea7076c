// Command minixctl creates, inspects and fills Minix v1 filesystem images.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

const (
	stackTraceBufMax = 1 << 24
	terminalHandler  = "terminal"
)

//nolint:gochecknoglobals
var Version = "dev"

// setupLogging installs logs as the default logger with a terminal handler
// at level.
func setupLogging(logs *SlogManager, w io.Writer, level slog.Leveler) {
	logs.AddHandler(terminalHandler, tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(slog.New(logs))
}

func setupSignalHandlers(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()

	sigChan2 := make(chan os.Signal, 1)
	signal.Notify(sigChan2, syscall.SIGUSR1)

	go func() {
		for range sigChan2 {
			buf := make([]byte, stackTraceBufMax)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandlers(cancel)

	logs := NewSlogManager()
	setupLogging(logs, os.Stderr, slog.LevelInfo)

	app := newApp(logs, os.Stdout, os.Stderr)

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "minixctl:", err)
		cancel()
		os.Exit(1)
	}
}

func newApp(logs *SlogManager, stdout, stderr io.Writer) *cli.App {
	var profile *cpuProfile

	return &cli.App{
		Name:      "minixctl",
		Usage:     "work with Minix v1 filesystem images",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path of the image file (default from MINIXFS_IMAGE)",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "configuration `FILE` with MINIXFS_ settings",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (default from MINIXFS_LOG_LEVEL)",
			},
			&cli.UintFlag{
				Name:  "uid",
				Usage: "user id to act as (default from MINIXFS_UID)",
			},
			&cli.UintFlag{
				Name:  "gid",
				Usage: "group id to act as (default from MINIXFS_GID)",
			},
			&cli.StringFlag{
				Name:  "cpuprofile",
				Usage: "write a CPU profile to `FILE`",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			setupLogging(logs, stderr, cfg.LogLevel)

			if path := c.String("cpuprofile"); path != "" {
				if profile, err = startCPUProfile(path); err != nil {
					return err
				}
			}

			return nil
		},
		After: func(*cli.Context) error {
			profile.Stop()
			profile = nil

			return nil
		},
		Commands: commands(logs),
	}
}
