// Package config provides configuration management for ccrouter.
// It uses Viper for flexible configuration loading with support for:
// - JSON config files (Save also writes YAML or TOML, chosen by extension)
// - Environment variables
// - Hot-reload
// - Default values
package config

import (
	"sync"
)

// Config represents the complete ccrouter configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" json:"logger"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Providers  []ProviderConfig `mapstructure:"providers" json:"providers"`
	Router     RouterConfig     `mapstructure:"router" json:"router"`
	HTTPSProxy string           `mapstructure:"https_proxy" json:"https_proxy"`
	mu         sync.RWMutex
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	OutputPath string `mapstructure:"output_path" json:"output_path"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// ServerConfig contains the caller-facing HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// APIKey, when set, is a static shared secret required on inbound requests
	// via the x-api-key or Authorization header.
	APIKey string `mapstructure:"api_key" json:"api_key"`
}

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	// Name identifies the provider. When Transformer is empty, Name is also
	// the registered transformer name ("gemini", "google" or "openai"); any
	// other name needs Transformer set.
	Name string `mapstructure:"name" json:"name"`

	// Transformer overrides the transformer to use; defaults to Name.
	Transformer string `mapstructure:"transformer" json:"transformer"`

	APIBase string   `mapstructure:"api_base" json:"api_base"`
	APIKey  string   `mapstructure:"api_key" json:"api_key"`
	Models  []string `mapstructure:"models" json:"models"`
}

// RouterConfig holds the routing rules mapping request classes to
// "provider,model" pairs.
type RouterConfig struct {
	Default    string `mapstructure:"default" json:"default"`
	Background string `mapstructure:"background" json:"background"`
	Think      string `mapstructure:"think" json:"think"`
	WebSearch  string `mapstructure:"web_search" json:"web_search"`

	// LongContext is used when the estimated prompt size exceeds
	// LongContextThreshold tokens.
	LongContext          string `mapstructure:"long_context" json:"long_context"`
	LongContextThreshold int    `mapstructure:"long_context_threshold" json:"long_context_threshold"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3456,
		},
		Router: RouterConfig{
			LongContextThreshold: 60000,
		},
	}
}

// Provider returns the provider configuration with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Update replaces the mutable sections of the configuration in place.
// Used by the hot-reload watcher.
func (c *Config) Update(newCfg *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Providers = newCfg.Providers
	c.Router = newCfg.Router
	c.HTTPSProxy = newCfg.HTTPSProxy
}

// RouterRules returns a snapshot of the current routing rules.
func (c *Config) RouterRules() RouterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Router
}
