package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI settings. A YAML file fills it first, then command
// line flags override individual fields.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CallingAETitle string        `yaml:"calling_ae_title"`
	CalledAETitle  string        `yaml:"called_ae_title"`
	MaxPDULength   uint32        `yaml:"max_pdu_length"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PDUTimeout     time.Duration `yaml:"pdu_timeout"`
	Parallel       int           `yaml:"parallel"`
	OutputDir      string        `yaml:"output_dir"`
	Verbose        bool          `yaml:"verbose"`
}

func defaultConfig() *Config {
	return &Config{
		Port:           104,
		CallingAETitle: "DICOMSCU",
		CalledAETitle:  "ANY-SCP",
		Parallel:       1,
		OutputDir:      ".",
	}
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if config.Parallel < 1 {
		config.Parallel = 1
	}
	return config, nil
}

func (c *Config) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
