package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration. All fields have working defaults; a
// config file and command-line flags only override them.
type Config struct {
	BluetoothctlPath string `yaml:"bluetoothctl_path" default:"bluetoothctl"`
	XwiishowPath     string `yaml:"xwiishow_path" default:"xwiishow"`
	ScanSeconds      int    `yaml:"scan_seconds" default:"30"`
	IdleSeconds      int    `yaml:"idle_seconds" default:"300"`
	Debug            bool   `yaml:"debug"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// loadConfig returns the default configuration, overlaid with the YAML file
// at path when one is given.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BluetoothctlPath == "" {
		return fmt.Errorf("bluetoothctl path must not be empty")
	}
	if c.XwiishowPath == "" {
		return fmt.Errorf("xwiishow path must not be empty")
	}
	if c.ScanSeconds <= 0 {
		return fmt.Errorf("scan_seconds must be positive, got %d", c.ScanSeconds)
	}
	if c.IdleSeconds <= 0 {
		return fmt.Errorf("idle_seconds must be positive, got %d", c.IdleSeconds)
	}
	return nil
}

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleSeconds) * time.Second
}
