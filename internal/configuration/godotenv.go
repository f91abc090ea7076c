package configuration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// GodotenvProvider reads configuration files in dotenv syntax.
type GodotenvProvider struct{}

// Read merges the KEY=VALUE files into one map. Later files do not
// override keys set by earlier ones.
func (*GodotenvProvider) Read(filenames ...string) (map[string]string, error) {
	data, err := godotenv.Read(filenames...)
	if err != nil {
		return nil, fmt.Errorf("(config-godotenv) %w", err)
	}

	return data, nil
}

// Marshal renders cfg as a dotenv file that [Handler.Load] reads back to the
// same configuration.
func Marshal(cfg Config) (string, error) {
	env := map[string]string{
		Prefix + KeyBuffers:  strconv.Itoa(cfg.Buffers),
		Prefix + KeyInodes:   strconv.Itoa(cfg.Inodes),
		Prefix + KeySupers:   strconv.Itoa(cfg.Supers),
		Prefix + KeyHalt:     strconv.FormatBool(cfg.HaltOnExhaustion),
		Prefix + KeyLogLevel: strings.ToLower(cfg.LogLevel.String()),
		Prefix + KeyUmask:    fmt.Sprintf("%04o", cfg.Umask),
		Prefix + KeyUID:      strconv.FormatUint(uint64(cfg.UID), 10),
		Prefix + KeyGID:      strconv.FormatUint(uint64(cfg.GID), 10),
	}

	if cfg.Image != "" {
		env[Prefix+KeyImage] = cfg.Image
	}

	out, err := godotenv.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("(config-marshal) %w", err)
	}

	return out + "\n", nil
}
