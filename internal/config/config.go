// Package config loads the cloudserverd YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	// ListenAddress is the UDP address the QUIC relay binds to.
	ListenAddress string `yaml:"listenAddress"`
	// DataPath is where the relay's badger store lives.
	DataPath string `yaml:"dataPath"`
	// MinimumFreeGB refuses startup when the data volume has less
	// free space than this.
	MinimumFreeGB float64 `yaml:"minimumFreeGB"`
}

func defaults() Config {
	return Config{
		ListenAddress: "0.0.0.0:4850",
		DataPath:      "./tidemark-relay",
		MinimumFreeGB: 1,
	}
}

// Load reads the config file at path. A missing file yields defaults;
// a malformed one is an error.
func Load(path string) (Config, error) {
	config := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return config, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}

	if config.ListenAddress == "" {
		config.ListenAddress = defaults().ListenAddress
	}
	if config.DataPath == "" {
		config.DataPath = defaults().DataPath
	}
	if config.MinimumFreeGB == 0 {
		config.MinimumFreeGB = defaults().MinimumFreeGB
	}

	return config, nil
}
