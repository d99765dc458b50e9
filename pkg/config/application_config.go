package config

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/core/storage/dbconfig"
)

// Defaults for the corresponding configuration sections.
const (
	DefaultFeedCapacity   = 64
	DefaultTraceCacheSize = 128
	DefaultWSMaxClients   = 16
)

type (
	// ApplicationConfiguration contains settings of the multiplexer, its
	// consumers and logging.
	ApplicationConfiguration struct {
		LogLevel    string      `yaml:"LogLevel"`
		LogPath     string      `yaml:"LogPath"`
		LogEncoding string      `yaml:"LogEncoding"`
		LogRotation LogRotation `yaml:"LogRotation"`

		SignalMux  SignalMux    `yaml:"SignalMux"`
		Feed       Feed         `yaml:"Feed"`
		TraceStore TraceStore   `yaml:"TraceStore"`
		Monitor    Monitor      `yaml:"Monitor"`
		WSFeed     WSFeed       `yaml:"WSFeed"`
		Prometheus BasicService `yaml:"Prometheus"`
		Pprof      BasicService `yaml:"Pprof"`
	}

	// LogRotation configures rotation of the log file specified by LogPath.
	LogRotation struct {
		MaxSizeMB  int  `yaml:"MaxSizeMB"`
		MaxBackups int  `yaml:"MaxBackups"`
		MaxAgeDays int  `yaml:"MaxAgeDays"`
		Compress   bool `yaml:"Compress"`
	}

	// SignalMux is the multiplexer configuration.
	SignalMux struct {
		// AlternateInterface enables direct mode where every signal is
		// forwarded to subscribers as is, without per-block aggregation.
		AlternateInterface bool `yaml:"AlternateInterface"`
	}

	// Feed configures the asynchronous event feed.
	Feed struct {
		Enabled  bool `yaml:"Enabled"`
		Capacity int  `yaml:"Capacity"`
	}

	// TraceStore configures persistent storage of transaction batches.
	TraceStore struct {
		Enabled         bool                     `yaml:"Enabled"`
		CacheSize       int                      `yaml:"CacheSize"`
		DBConfiguration dbconfig.DBConfiguration `yaml:"DBConfiguration"`
	}

	// Monitor configures chain progress metrics.
	Monitor struct {
		Enabled bool `yaml:"Enabled"`
	}

	// WSFeed configures the WebSocket event server, it requires Feed to be
	// enabled.
	WSFeed struct {
		BasicService `yaml:",inline"`
		MaxClients   int `yaml:"MaxClients"`
	}
)

// Validate checks ApplicationConfiguration for internal consistency. It
// returns an error if the configuration is invalid.
func (a ApplicationConfiguration) Validate() error {
	switch a.LogEncoding {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log encoding: %s", a.LogEncoding)
	}
	if a.LogRotation.MaxSizeMB < 0 || a.LogRotation.MaxBackups < 0 || a.LogRotation.MaxAgeDays < 0 {
		return errors.New("negative log rotation settings")
	}
	if a.Feed.Capacity < 0 {
		return fmt.Errorf("negative feed capacity: %d", a.Feed.Capacity)
	}
	if a.TraceStore.Enabled {
		if a.TraceStore.CacheSize < 0 {
			return fmt.Errorf("negative trace store cache size: %d", a.TraceStore.CacheSize)
		}
		switch a.TraceStore.DBConfiguration.Type {
		case dbconfig.LevelDB, dbconfig.BoltDB, dbconfig.InMemoryDB:
		default:
			return fmt.Errorf("unknown DB type: %s", a.TraceStore.DBConfiguration.Type)
		}
	}
	if a.WSFeed.Enabled {
		if !a.Feed.Enabled {
			return errors.New("WSFeed requires Feed")
		}
		if a.WSFeed.MaxClients < 0 {
			return fmt.Errorf("negative WSFeed client limit: %d", a.WSFeed.MaxClients)
		}
	}
	for name, s := range map[string]BasicService{
		"WSFeed":     a.WSFeed.BasicService,
		"Prometheus": a.Prometheus,
		"Pprof":      a.Pprof,
	} {
		if s.Enabled && len(s.Addresses) == 0 {
			return fmt.Errorf("%s is enabled, but no addresses are configured", name)
		}
	}
	return nil
}
