// Package logging builds the zap logger shared by every component.
//
// The terminal belongs to the UI while the explorer runs, so the usual
// destination is a file. File output is rotated with lumberjack.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // json, console
	// Output is "stderr", "stdout", "none", or a file path.
	Output string `toml:"output" yaml:"output"`

	// Rotation limits for file output.
	MaxSizeMB  int `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig logs info and above as JSON to nowhere until an output is
// chosen.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Output:     "none",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Validate checks level, format and rotation values.
func (c Config) Validate() []error {
	var errs []error
	if _, err := ParseLevel(c.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Format))
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("logging: rotation limits must not be negative"))
	}
	return errs
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("logging.level: unknown level %q", s)
	}
	return l, nil
}

// Logger is a built logger with its adjustable level.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
	close func() error
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(level)

	if cfg.Output == "none" {
		return &Logger{Logger: zap.NewNop(), Level: atom, close: func() error { return nil }}, nil
	}

	var encCfg zapcore.EncoderConfig
	if cfg.Format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	closeFn := func() error { return nil }
	switch cfg.Output {
	case "", "stderr":
		ws = zapcore.Lock(os.Stderr)
	case "stdout":
		ws = zapcore.Lock(os.Stdout)
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		ws = zapcore.AddSync(lj)
		closeFn = lj.Close
	}

	core := zapcore.NewCore(enc, ws, atom)
	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: l, Level: atom, close: closeFn}, nil
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.Level.SetLevel(lvl)
	return nil
}

// Close flushes buffered entries and closes a log file.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	return l.close()
}

// Field helpers for common fields.

// Path is the filesystem path a log entry concerns.
func Path(p string) zap.Field { return zap.String("path", p) }

// Panel names the panel a log entry concerns.
func Panel(id string) zap.Field { return zap.String("panel", id) }

// Topic names an event bus topic.
func Topic(t string) zap.Field { return zap.String("topic", t) }

// Tab identifies a tab page.
func Tab(id int) zap.Field { return zap.Int("tab", id) }
