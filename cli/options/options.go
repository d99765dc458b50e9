/*
Package options contains a set of common CLI options and helper functions to use them.
*/
package options

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigFile is a flag for commands that use configuration and provide
// path to the specific config file.
var ConfigFile = cli.StringFlag{
	Name:  "config-file",
	Usage: "path to the configuration file (" + config.DefaultConfigPath + " by default)",
}

// RelativePath is a flag for commands that use configuration and provide
// a prefix to all relative paths in config files.
var RelativePath = cli.StringFlag{
	Name:  "relative-path",
	Usage: "a prefix to all relative paths in the configuration file",
}

// Debug is a flag for commands that allow debug mode usage.
var Debug = cli.BoolFlag{
	Name:  "debug, d",
	Usage: "enable debug logging (LOTS of output, overrides configuration)",
}

// GetConfigFromContext looks at the config file flags in the given context and
// returns an appropriate config.
func GetConfigFromContext(ctx *cli.Context) (config.Config, error) {
	var (
		configFile   = ctx.String("config-file")
		relativePath = ctx.String("relative-path")
	)
	if len(configFile) == 0 {
		configFile = config.DefaultConfigPath
	}
	return config.Load(configFile, relativePath)
}

// lumberjackScheme is the zap sink URL scheme of rotated log files.
const lumberjackScheme = "lumberjack"

var (
	_lumberjackSinkOnce    sync.Once
	_lumberjackSinkErr     error
	_lumberjackSinkLock    sync.Mutex
	_lumberjackSinkClosers []func() error
)

type lumberjackSink struct {
	*lumberjack.Logger
}

// Sync implements the zap.Sink interface, lumberjack writes are unbuffered.
func (lumberjackSink) Sync() error {
	return nil
}

// newLumberjackSink creates a rotated file sink from the URL of
// lumberjack:///path?maxsize=N&maxbackups=N&maxage=N&compress=true form.
func newLumberjackSink(u *url.URL) (zap.Sink, error) {
	if u.User != nil || u.Host != "" || u.Fragment != "" {
		return nil, fmt.Errorf("only path and query are allowed in %s URLs: got %v", lumberjackScheme, u)
	}
	l := &lumberjack.Logger{Filename: u.Path}
	if l.Filename == "" {
		l.Filename = u.Opaque
	}
	if l.Filename == "" {
		return nil, errors.New("no log file name")
	}
	q := u.Query()
	for name, dst := range map[string]*int{
		"maxsize":    &l.MaxSize,
		"maxbackups": &l.MaxBackups,
		"maxage":     &l.MaxAge,
	} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bad %s: %w", name, err)
			}
			*dst = n
		}
	}
	l.Compress = q.Get("compress") == "true"

	_lumberjackSinkLock.Lock()
	_lumberjackSinkClosers = append(_lumberjackSinkClosers, l.Close)
	_lumberjackSinkLock.Unlock()
	return lumberjackSink{l}, nil
}

// closeLumberjackSinks closes all log files opened so far.
func closeLumberjackSinks() error {
	_lumberjackSinkLock.Lock()
	closers := _lumberjackSinkClosers
	_lumberjackSinkClosers = nil
	_lumberjackSinkLock.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// LogFileURL returns the sink URL for the given log file and rotation
// settings.
func LogFileURL(logPath string, r config.LogRotation) (string, error) {
	abs, err := filepath.Abs(logPath)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("maxsize", strconv.Itoa(r.MaxSizeMB))
	q.Set("maxbackups", strconv.Itoa(r.MaxBackups))
	q.Set("maxage", strconv.Itoa(r.MaxAgeDays))
	if r.Compress {
		q.Set("compress", "true")
	}
	u := url.URL{Scheme: lumberjackScheme, Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// GetLogLevel returns the log level from the configuration, debug flag
// overrides it.
func GetLogLevel(debug bool, cfg config.ApplicationConfiguration) (zapcore.Level, error) {
	var level = zapcore.InfoLevel
	if debug {
		return zapcore.DebugLevel, nil
	}
	if len(cfg.LogLevel) > 0 {
		var err error
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return level, fmt.Errorf("log setting: %w", err)
		}
	}
	return level, nil
}

// HandleLoggingParams reads logging parameters.
// If a user selected debug level -- function enables it.
// If logPath is configured -- function creates a dir and a rotated file for
// logging and returns closer to be able to close it.
func HandleLoggingParams(debug bool, cfg config.ApplicationConfiguration) (*zap.Logger, *zap.AtomicLevel, func() error, error) {
	level, err := GetLogLevel(debug, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	if cfg.LogEncoding != "" {
		cc.Encoding = cfg.LogEncoding
	}
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	var closer func() error
	if logPath := cfg.LogPath; logPath != "" {
		if err := io.MakeDirForFile(logPath, "logger"); err != nil {
			return nil, nil, nil, err
		}
		_lumberjackSinkOnce.Do(func() {
			_lumberjackSinkErr = zap.RegisterSink(lumberjackScheme, newLumberjackSink)
		})
		if _lumberjackSinkErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to register log rotation sink: %w", _lumberjackSinkErr)
		}
		sinkURL, err := LogFileURL(logPath, cfg.LogRotation)
		if err != nil {
			return nil, nil, nil, err
		}
		cc.OutputPaths = []string{sinkURL}
		closer = closeLumberjackSinks
	}

	log, err := cc.Build()
	return log, &cc.Level, closer, err
}
