// Package configuration loads the engine and tool settings from optional
// KEY=VALUE files and the environment. Every key carries the [Prefix];
// environment variables win over file values, missing keys keep their
// defaults.
package configuration

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Prefix is prepended to every configuration key.
const Prefix = "MINIXFS_"

// Configuration keys, without [Prefix].
const (
	KeyImage    = "IMAGE"
	KeyBuffers  = "BUFFERS"
	KeyInodes   = "INODES"
	KeySupers   = "SUPERS"
	KeyHalt     = "HALT_ON_EXHAUSTION"
	KeyLogLevel = "LOG_LEVEL"
	KeyUmask    = "UMASK"
	KeyUID      = "UID"
	KeyGID      = "GID"
)

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

// Config holds the capacities of the engine arenas and the identity and
// defaults of the tasks the tools run as.
type Config struct {
	Image string

	Buffers int
	Inodes  int
	Supers  int

	// HaltOnExhaustion makes running out of zones, inodes or table slots
	// panic instead of returning an error.
	HaltOnExhaustion bool

	LogLevel slog.Level
	Umask    uint16
	UID      uint16
	GID      uint8
}

// Default returns the configuration used for every key not set.
func Default() Config {
	return Config{
		Buffers:          64, //nolint:mnd
		Inodes:           64, //nolint:mnd
		Supers:           16, //nolint:mnd
		HaltOnExhaustion: true,
		LogLevel:         slog.LevelInfo,
		Umask:            0o022, //nolint:mnd
	}
}

// Handler reads a [Config] from files and the environment.
type Handler struct {
	GenericConfigReader genericConfigProvider
	LookupEnv           func(key string) (string, bool)
}

// NewHandler returns a pointer to a new [Handler] reading files with reader
// and the process environment.
func NewHandler(reader genericConfigProvider) *Handler {
	return &Handler{
		GenericConfigReader: reader,
		LookupEnv:           os.LookupEnv,
	}
}

// Load returns the configuration from filenames, if any, overlaid with the
// environment.
func (h *Handler) Load(filenames ...string) (Config, error) {
	values := make(map[string]string)

	if len(filenames) > 0 {
		envMap, err := h.GenericConfigReader.Read(filenames...)
		if err != nil {
			return Config{}, fmt.Errorf("(config-load) %w", err)
		}
		for k, v := range envMap {
			values[k] = v
		}
	}

	keys := []string{KeyImage, KeyBuffers, KeyInodes, KeySupers, KeyHalt, KeyLogLevel, KeyUmask, KeyUID, KeyGID}
	for _, k := range keys {
		if v, ok := h.LookupEnv(Prefix + k); ok {
			values[Prefix+k] = v
		}
	}

	cfg := Default()

	if err := apply(&cfg, values); err != nil {
		return Config{}, fmt.Errorf("(config-load) %w", err)
	}

	slog.Debug("Loaded configuration", "buffers", cfg.Buffers, "inodes", cfg.Inodes, "supers", cfg.Supers, "halt", cfg.HaltOnExhaustion)

	return cfg, nil
}

func apply(cfg *Config, values map[string]string) error {
	var err error

	if v, ok := lookup(values, KeyImage); ok {
		cfg.Image = v
	}

	if cfg.Buffers, err = positive(values, KeyBuffers, cfg.Buffers); err != nil {
		return err
	}

	if cfg.Inodes, err = positive(values, KeyInodes, cfg.Inodes); err != nil {
		return err
	}

	if cfg.Supers, err = positive(values, KeySupers, cfg.Supers); err != nil {
		return err
	}

	if v, ok := lookup(values, KeyHalt); ok {
		if cfg.HaltOnExhaustion, err = strconv.ParseBool(v); err != nil {
			return invalid(KeyHalt, v)
		}
	}

	if v, ok := lookup(values, KeyLogLevel); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return invalid(KeyLogLevel, v)
		}
	}

	if v, ok := lookup(values, KeyUmask); ok {
		n, err := strconv.ParseUint(v, 8, 16) //nolint:mnd
		if err != nil || n > 0o777 {
			return invalid(KeyUmask, v)
		}
		cfg.Umask = uint16(n)
	}

	if v, ok := lookup(values, KeyUID); ok {
		n, err := strconv.ParseUint(v, 10, 16) //nolint:mnd
		if err != nil {
			return invalid(KeyUID, v)
		}
		cfg.UID = uint16(n)
	}

	if v, ok := lookup(values, KeyGID); ok {
		n, err := strconv.ParseUint(v, 10, 8) //nolint:mnd
		if err != nil {
			return invalid(KeyGID, v)
		}
		cfg.GID = uint8(n)
	}

	return nil
}

func lookup(values map[string]string, key string) (string, bool) {
	v, ok := values[Prefix+key]
	if !ok {
		return "", false
	}

	v = strings.TrimSpace(v)

	return v, v != ""
}

func positive(values map[string]string, key string, def int) (int, error) {
	v, ok := lookup(values, key)
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, invalid(key, v)
	}

	return n, nil
}

func invalid(key, value string) error {
	return fmt.Errorf("%w: %s%s=%q", ErrInvalidValue, Prefix, key, value)
}
