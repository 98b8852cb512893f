// Package logging sets up structured, rotating logging for devbackup.
//
// It mirrors the ergonomics of the org-internal logger the teacher codebase
// builds on (a package-level SetupLog plus a WithFunc(name) helper chained
// with Infof/Warnf/Errorf(ctx, format, args...)) but is implemented directly
// on zerolog + lumberjack so the module has no dependency on tooling scoped
// to an unrelated organization.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors Configuration.logging from the data model.
type Config struct {
	Level        string `json:"level"         yaml:"level"         mapstructure:"level"`
	LogFile      string `json:"log_file"      yaml:"log_file"      mapstructure:"log_file"`
	ErrorLogFile string `json:"error_log_file" yaml:"error_log_file" mapstructure:"error_log_file"`
	MaxSizeMB    int    `json:"max_size_mb"   yaml:"max_size_mb"   mapstructure:"max_size_mb"`
	BackupCount  int    `json:"backup_count"  yaml:"backup_count"  mapstructure:"backup_count"`
}

var base zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Setup builds the global logger from cfg. Safe to call more than once
// (e.g., after config reload); subsequent WithFunc calls pick up the change.
func Setup(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		if cfg.Level != "" {
			return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	console := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !isatty.IsTerminal(os.Stderr.Fd())}
	writers = append(writers, console)

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSizeOrDefault(cfg.MaxSizeMB),
			MaxBackups: cfg.BackupCount,
			Compress:   true,
		})
	}

	if cfg.ErrorLogFile != "" {
		writers = append(writers, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: &lumberjack.Logger{
				Filename:   cfg.ErrorLogFile,
				MaxSize:    maxSizeOrDefault(cfg.MaxSizeMB),
				MaxBackups: cfg.BackupCount,
				Compress:   true,
			}},
			Level: zerolog.ErrorLevel,
		})
	}

	// MultiLevelWriter hands each record's level to the FilteredLevelWriter,
	// which a plain io.MultiWriter would not.
	out := zerolog.MultiLevelWriter(writers...)
	base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

func maxSizeOrDefault(mb int) int {
	if mb <= 0 {
		return 100 //nolint:mnd
	}
	return mb
}

// FuncLogger is a logger scoped to one function/component name.
type FuncLogger struct {
	logger zerolog.Logger
}

// WithFunc returns a FuncLogger tagging every record with the given name,
// matching the call-site shape `log.WithFunc("gc").Infof(ctx, "...", args...)`.
func WithFunc(name string) FuncLogger {
	return FuncLogger{logger: base.With().Str("func", name).Logger()}
}

func (f FuncLogger) Debugf(ctx context.Context, format string, args ...any) {
	f.logger.Debug().Ctx(ctx).Msg(fmt.Sprintf(format, args...))
}

func (f FuncLogger) Infof(ctx context.Context, format string, args ...any) {
	f.logger.Info().Ctx(ctx).Msg(fmt.Sprintf(format, args...))
}

func (f FuncLogger) Warnf(ctx context.Context, format string, args ...any) {
	f.logger.Warn().Ctx(ctx).Msg(fmt.Sprintf(format, args...))
}

func (f FuncLogger) Errorf(ctx context.Context, format string, args ...any) {
	f.logger.Error().Ctx(ctx).Msg(fmt.Sprintf(format, args...))
}
