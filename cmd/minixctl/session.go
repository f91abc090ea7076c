package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/desertwitch/minixfs/internal/configuration"
	"github.com/desertwitch/minixfs/internal/device"
	"github.com/desertwitch/minixfs/internal/kernel"
	"github.com/desertwitch/minixfs/internal/schema"
	"github.com/urfave/cli/v2"
)

var errNoImage = errors.New("no image given (use --image or MINIXFS_IMAGE)")

// session is one mounted image and the task the command acts as.
type session struct {
	cfg  configuration.Config
	reg  *device.Registry
	dev  int
	k    *kernel.Kernel
	task *kernel.Task
}

// loadConfig reads the configuration files named by --env and the
// environment, then applies the global flags over them.
func loadConfig(c *cli.Context) (configuration.Config, error) {
	cfg, err := configuration.NewHandler(&configuration.GodotenvProvider{}).Load(c.StringSlice("env")...)
	if err != nil {
		return configuration.Config{}, err
	}

	if v := c.String("image"); v != "" {
		cfg.Image = v
	}

	if v := c.String("log-level"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return configuration.Config{}, fmt.Errorf("%w: log-level %q", configuration.ErrInvalidValue, v)
		}
	}

	if c.IsSet("uid") {
		cfg.UID = uint16(c.Uint("uid")) //nolint:gosec
	}

	if c.IsSet("gid") {
		cfg.GID = uint8(c.Uint("gid")) //nolint:gosec
	}

	return cfg, nil
}

// withSession mounts the configured image, runs fn and then unmounts the
// image and flushes it to the host.
func withSession(c *cli.Context, fn func(s *session) error) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if cfg.Image == "" {
		return errNoImage
	}

	disk, err := device.OpenFileDisk(&schema.OS{}, &schema.Unix{}, cfg.Image, 0, false)
	if err != nil {
		return err
	}

	s := &session{cfg: cfg, reg: device.NewRegistry()}
	s.dev = s.reg.Install(cfg.Image, disk)

	defer func() {
		if cerr := s.reg.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	s.k = kernel.New(cfg, s.reg)

	if err := s.k.MountRoot(s.dev); err != nil {
		return err
	}

	defer func() {
		if uerr := s.k.Unmount(); uerr != nil {
			err = errors.Join(err, uerr)

			return
		}
		if serr := s.reg.Sync(s.dev); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	s.task, err = s.k.NewTask(cfg.UID, cfg.GID)
	if err != nil {
		return err
	}
	defer s.k.ExitTask(s.task)

	slog.Debug("Session started", "image", cfg.Image, "uid", cfg.UID, "gid", cfg.GID)

	return fn(s)
}
