package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"
)

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
	ColorFlagName  = "log.color"
)

// CLIFlags creates the flag definitions for the logging utils.
// Warning: flags are not safe to reuse between cli apps.
func CLIFlags(envPrefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    LevelFlagName,
			Usage:   "The lowest log level that will be output",
			Value:   "info",
			EnvVars: []string{envPrefix + "_LOG_LEVEL"},
		},
		&cli.GenericFlag{
			Name:    FormatFlagName,
			Usage:   "Format the log output. Supported formats: 'text', 'terminal', 'logfmt', 'json'",
			Value:   func() *FormatType { f := FormatText; return &f }(),
			EnvVars: []string{envPrefix + "_LOG_FORMAT"},
		},
		&cli.BoolFlag{
			Name:    ColorFlagName,
			Usage:   "Color the log output if in terminal mode",
			EnvVars: []string{envPrefix + "_LOG_COLOR"},
		},
	}
}

type CLIConfig struct {
	Level  slog.Level
	Color  bool
	Format FormatType
}

// DefaultCLIConfig is used for tests and tools that do not read flags.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Level:  log.LevelInfo,
		Format: FormatText,
		Color:  isatty.IsTerminal(os.Stdout.Fd()),
	}
}

// ReadCLIConfig reads the logger config from the cli context.
func ReadCLIConfig(ctx *cli.Context) (CLIConfig, error) {
	cfg := DefaultCLIConfig()
	lvl, err := LevelFromString(ctx.String(LevelFlagName))
	if err != nil {
		return cfg, err
	}
	cfg.Level = lvl
	if f, ok := ctx.Generic(FormatFlagName).(*FormatType); ok && f != nil {
		cfg.Format = *f
	}
	if ctx.IsSet(ColorFlagName) {
		cfg.Color = ctx.Bool(ColorFlagName)
	}
	return cfg, nil
}

// LevelFromString parses a geth-style level name.
func LevelFromString(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("unknown level: %q", s)
	}
}

// NewLogger creates a logger writing to wr, and sets it as the geth root logger.
func NewLogger(wr io.Writer, cfg CLIConfig) log.Logger {
	logger := log.NewLogger(cfg.Format.Handler(wr, cfg.Level, cfg.Color))
	log.SetDefault(logger)
	return logger
}
