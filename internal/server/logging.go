package server

import (
	"fmt"
	"strings"
	"time"

	"mdview/internal/logging"
	"mdview/internal/version"
)

// LogStartupFlags logs the settings that were given on the command line.
func LogStartupFlags(logger *logging.Logger, cfg Config) {
	if logger == nil || cfg.Sources == nil {
		return
	}
	var flags []string
	if cfg.Sources["config"] == sourceFlag {
		flags = append(flags, formatStringFlag("--config", cfg.ConfigFile))
	}
	if cfg.Sources["host"] == sourceFlag {
		flags = append(flags, formatStringFlag("--host", cfg.Host))
	}
	if cfg.Sources["port"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--port %d", cfg.Port))
	}
	if cfg.Sources["token"] == sourceFlag {
		flags = append(flags, formatTokenFlag(cfg.AuthToken))
	}
	if cfg.Sources["log-level"] == sourceFlag {
		flags = append(flags, formatStringFlag("--log-level", string(cfg.LogLevel)))
	}
	if cfg.Sources["debounce-ms"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--debounce-ms %d", cfg.Debounce/time.Millisecond))
	}
	if cfg.Sources["watch"] == sourceFlag {
		for _, dir := range cfg.WatchDirs {
			flags = append(flags, formatStringFlag("--watch", dir))
		}
	}
	if cfg.Sources["allowed-origin"] == sourceFlag {
		for _, origin := range cfg.AllowedOrigins {
			flags = append(flags, formatStringFlag("--allowed-origin", origin))
		}
	}

	if len(flags) == 0 {
		return
	}
	logger.Debug("starting with flags", map[string]string{
		"flags": strings.Join(flags, " "),
	})
}

func LogVersionInfo(logger *logging.Logger) {
	if logger == nil {
		return
	}
	logger.Info(version.Current().String(), nil)
}

func formatStringFlag(name, value string) string {
	if strings.TrimSpace(value) == "" {
		return fmt.Sprintf("%s=\"\"", name)
	}
	return fmt.Sprintf("%s %s", name, value)
}

func formatTokenFlag(token string) string {
	if strings.TrimSpace(token) == "" {
		return "--token=\"\""
	}
	return "--token [set]"
}
