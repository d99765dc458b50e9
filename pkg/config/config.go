package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nspcc-dev/chainmux/pkg/core/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default path to the config file.
const DefaultConfigPath = "./config/chainmux.yml"

// Version is the version of the program, set at build time.
var Version string

// Config is the top level struct representing the configuration of the
// multiplexer, its consumers and the simulated engine.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
	Simulation               Simulation               `yaml:"Simulation"`
}

// Load attempts to load the config from the given file. If relativePath is
// not empty, relative paths in the config are prefixed with it.
func Load(configPath string, relativePath ...string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	cfg, err := Unmarshal(data)
	if err != nil {
		return Config{}, err
	}
	if len(relativePath) == 1 && relativePath[0] != "" {
		updateRelativePaths(relativePath[0], &cfg)
	}
	return cfg, nil
}

// Unmarshal decodes YAML configuration data on top of the defaults and
// validates the result. Unknown fields are rejected.
func Unmarshal(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used for the values not specified in
// the config file.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			LogEncoding: "console",
			LogRotation: LogRotation{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
			Feed: Feed{
				Capacity: DefaultFeedCapacity,
			},
			TraceStore: TraceStore{
				CacheSize: DefaultTraceCacheSize,
				DBConfiguration: dbconfig.DBConfiguration{
					Type: dbconfig.InMemoryDB,
				},
			},
			WSFeed: WSFeed{
				MaxClients: DefaultWSMaxClients,
			},
		},
		Simulation: Simulation{
			Blocks:     100,
			TxPerBlock: 5,
		},
	}
}

// Validate checks Config for internal consistency. It returns an error if
// the configuration is invalid.
func (c Config) Validate() error {
	if err := c.ApplicationConfiguration.Validate(); err != nil {
		return err
	}
	return c.Simulation.Validate()
}

func updateRelativePaths(relativePath string, cfg *Config) {
	updateRelativePath := func(path *string) {
		if *path != "" && !filepath.IsAbs(*path) {
			*path = filepath.Join(relativePath, *path)
		}
	}

	updateRelativePath(&cfg.ApplicationConfiguration.LogPath)
	updateRelativePath(&cfg.ApplicationConfiguration.TraceStore.DBConfiguration.LevelDBOptions.DataDirectoryPath)
	updateRelativePath(&cfg.ApplicationConfiguration.TraceStore.DBConfiguration.BoltDBOptions.FilePath)
}
