package options

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"go.uber.org/zap/zapcore"
)

func TestGetConfigFromContext(t *testing.T) {
	t.Run("config file", func(t *testing.T) {
		set := flag.NewFlagSet("flagSet", flag.ExitOnError)
		set.String("config-file", "../../config/chainmux.yml", "")
		set.String("relative-path", "/tmp/chainmux", "")
		ctx := cli.NewContext(cli.NewApp(), set, nil)
		cfg, err := GetConfigFromContext(ctx)
		require.NoError(t, err)
		require.Equal(t, filepath.Join("/tmp/chainmux", "chains", "traces"),
			cfg.ApplicationConfiguration.TraceStore.DBConfiguration.LevelDBOptions.DataDirectoryPath)
	})
	t.Run("missing file", func(t *testing.T) {
		set := flag.NewFlagSet("flagSet", flag.ExitOnError)
		set.String("config-file", filepath.Join(t.TempDir(), "none.yml"), "")
		ctx := cli.NewContext(cli.NewApp(), set, nil)
		_, err := GetConfigFromContext(ctx)
		require.Error(t, err)
	})
}

func TestGetLogLevel(t *testing.T) {
	l, err := GetLogLevel(false, config.ApplicationConfiguration{})
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, l)

	l, err = GetLogLevel(false, config.ApplicationConfiguration{LogLevel: "warn"})
	require.NoError(t, err)
	require.Equal(t, zapcore.WarnLevel, l)

	l, err = GetLogLevel(true, config.ApplicationConfiguration{LogLevel: "warn"})
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, l)

	_, err = GetLogLevel(false, config.ApplicationConfiguration{LogLevel: "loud"})
	require.Error(t, err)
}

func TestLogFileURL(t *testing.T) {
	u, err := LogFileURL("/var/log/chainmux.log", config.LogRotation{MaxSizeMB: 10, MaxBackups: 2, MaxAgeDays: 1, Compress: true})
	require.NoError(t, err)
	require.Equal(t, "lumberjack:///var/log/chainmux.log?compress=true&maxage=1&maxbackups=2&maxsize=10", u)
}

func TestHandleLoggingParams(t *testing.T) {
	t.Run("stderr", func(t *testing.T) {
		log, level, closer, err := HandleLoggingParams(false, config.ApplicationConfiguration{LogLevel: "error"})
		require.NoError(t, err)
		require.NotNil(t, log)
		require.Nil(t, closer)
		require.Equal(t, zapcore.ErrorLevel, level.Level())
	})
	t.Run("bad level", func(t *testing.T) {
		_, _, _, err := HandleLoggingParams(false, config.ApplicationConfiguration{LogLevel: "loud"})
		require.Error(t, err)
	})
	t.Run("file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "sub", "chainmux.log")
		cfg := config.ApplicationConfiguration{
			LogPath:     logPath,
			LogEncoding: "json",
			LogRotation: config.LogRotation{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
		}
		log, level, closer, err := HandleLoggingParams(true, cfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		require.Equal(t, zapcore.DebugLevel, level.Level())

		log.Debug("debug message")
		level.SetLevel(zapcore.InfoLevel)
		log.Debug("hidden message")
		log.Info("info message")
		require.NoError(t, log.Sync())
		require.NoError(t, closer())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 2)
		require.Contains(t, lines[0], `"msg":"debug message"`)
		require.Contains(t, lines[1], `"level":"INFO"`)
	})
}
