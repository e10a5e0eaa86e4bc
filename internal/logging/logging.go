// Package logging builds the process logger. The terminal belongs to the UI, so logs go to a
// JSON lines file unless verbose console output was requested.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/chatshell/internal/config"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

type Options struct {
	Level   string
	Path    string
	Verbose bool
	Console io.Writer
	Fs      afero.Fs
}

func New(opts Options) (zerolog.Logger, io.Closer, error) {
	if err := ApplyLevel(opts.Level); err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	if opts.Verbose {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		out := zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}
		return zerolog.New(out).With().Timestamp().Logger(), nopCloser{}, nil
	}

	if opts.Path == "" {
		return zerolog.Nop(), nopCloser{}, nil
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
	}
	file, err := fs.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
	}

	return zerolog.New(file).With().Timestamp().Int("pid", os.Getpid()).Logger(), file, nil
}

func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

func ApplyLevel(raw string) error {
	level, err := ParseLevel(raw)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// WatchLevel re-applies log.level whenever file changes. Bad values keep the previous level.
func WatchLevel(v *viper.Viper, file string, log zerolog.Logger) {
	if file == "" {
		return
	}
	v.OnConfigChange(reloadLevel(v, log))
	v.WatchConfig()
}

func reloadLevel(v *viper.Viper, log zerolog.Logger) func(fsnotify.Event) {
	return func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		raw := v.GetString(config.KeyLogLevel)
		if err := ApplyLevel(raw); err != nil {
			log.Warn().Err(err).Str("file", event.Name).Msg("log level not reloaded")
			return
		}
		log.Info().Str("level", zerolog.GlobalLevel().String()).Msg("log level reloaded")
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
