package robot

import (
	"encoding/json"
	"os"

	"github.com/gwillem/lekiwi/pkg/base"
	"github.com/gwillem/lekiwi/pkg/lift"
)

const DefaultConfigFile = "lekiwi.json"

// Config holds the robot configuration
type Config struct {
	Port string      `json:"port"`
	Base base.Config `json:"base"`
	Lift lift.Config `json:"lift"`
}

// DefaultConfig returns a configuration with LeKiwi defaults and no port
func DefaultConfig() *Config {
	return &Config{
		Base: base.DefaultConfig(),
		Lift: lift.DefaultConfig(),
	}
}

// IsConfigured returns true if a serial port has been set
func (c *Config) IsConfigured() bool {
	return c.Port != ""
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
