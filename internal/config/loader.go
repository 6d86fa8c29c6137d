// Package config loads the line-oriented key=value server configuration.
// Unparsable or missing entries fall back to documented defaults, and a
// missing file is replaced by a generated default rather than a failure.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultPath is the config file looked for when no --config flag is given.
const DefaultPath = "relayd.conf"

// Load reads the key=value config file at path. Precedence: defaults <
// config file < caller-applied flag overrides. When the file is absent a
// commented default file is written in its place.
func Load(logger zerolog.Logger, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if writeErr := writeDefault(path); writeErr != nil {
			logger.Warn().Err(writeErr).Str("path", path).Msg("failed to write default config")
		} else {
			logger.Info().Str("path", path).Msg("created default config")
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetDefault("Address", cfg.Address)
	v.SetDefault("Port", cfg.Port)
	v.SetDefault("DatabasePath", cfg.DatabasePath)
	v.SetDefault("LogFile", cfg.LogFile)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Values are read one key at a time so a single unparsable entry falls
	// back to its default instead of aborting startup.
	cfg.Address = v.GetString("Address")
	cfg.DatabasePath = v.GetString("DatabasePath")
	cfg.LogFile = v.GetString("LogFile")
	if raw := strings.TrimSpace(v.GetString("Port")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn().Str("port", raw).Int("default", cfg.Port).Msg("unparsable port in config, using default")
		} else {
			cfg.Port = port
		}
	}

	cfg.sanitize(logger)
	return cfg, nil
}

// sanitize replaces unparsable values with defaults, loudly.
func (c *Config) sanitize(logger zerolog.Logger) {
	def := Default()
	if c.Port < 1 || c.Port > 65535 {
		logger.Warn().Int("port", c.Port).Int("default", def.Port).Msg("invalid port in config, using default")
		c.Port = def.Port
	}
	if c.Address != "" && net.ParseIP(strings.TrimSpace(c.Address)) == nil {
		logger.Warn().Str("address", c.Address).Msg("invalid address in config, using any")
		c.Address = def.Address
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
}

func writeDefault(path string) error {
	content := fmt.Sprintf(`# Default configuration file for the relay server.
# Comment out lines with a '#' to prevent them from being read. Defaults will be used for missing values.

# Local IP address and port that the server will run on. Defaults to any local address and port %d.
#Address=
Port=%d

# Path of the sqlite database holding issued identities and bans.
DatabasePath=%s

# Log output is written to the console and appended to this file.
LogFile=%s
`, DefaultPort, DefaultPort, Default().DatabasePath, Default().LogFile)

	return os.WriteFile(path, []byte(content), 0o644)
}
