// Package config handles gatesh configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (GATESH_*)
//  2. Config file (~/.config/gatesh/config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultBackendCommand launches the AI backend helper.
	DefaultBackendCommand = "gatesh-backend"
	// DefaultGatewayCommand launches the security gateway helper.
	DefaultGatewayCommand = "gatesh-guard"
	// DefaultSandboxShell is the subshell used for dry runs.
	DefaultSandboxShell = "/bin/bash"
	// DefaultProvider is the AI provider the backend talks to.
	DefaultProvider = "openai"
	// DefaultModel is the reasoning model used for disambiguation.
	DefaultModel = "gpt-4o-mini"
	// DefaultSandboxTimeout is the sandbox dry-run budget in seconds.
	DefaultSandboxTimeout = 5
	// DefaultGatewayTimeout is the validation budget in seconds.
	DefaultGatewayTimeout = 5
)

// Config holds the gatesh configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	v := viper.New()

	// Set defaults
	v.SetDefault("backend.command", DefaultBackendCommand)
	v.SetDefault("backend.socket", defaultSocket(".gatesh.sock"))
	v.SetDefault("gateway.command", DefaultGatewayCommand)
	v.SetDefault("gateway.socket", defaultSocket(".gatesh-gateway.sock"))
	v.SetDefault("gateway.timeout", DefaultGatewayTimeout)
	v.SetDefault("sandbox.shell", DefaultSandboxShell)
	v.SetDefault("sandbox.timeout", DefaultSandboxTimeout)
	v.SetDefault("ai.provider", DefaultProvider)
	v.SetDefault("ai.model", DefaultModel)
	v.SetDefault("verbose", 0)
	v.SetDefault("allowlist.path", defaultAllowlistPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stderr", "auto")

	// Config file location
	home, err := os.UserHomeDir()
	if err == nil {
		configDir := filepath.Join(home, ".config", "gatesh")
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Environment variables
	v.SetEnvPrefix("GATESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

func defaultSocket(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}

	return filepath.Join(home, name)
}

func defaultAllowlistPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "gatesh", "allowlist.toml")
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	// Ensure config directory exists
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".config", "gatesh")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return err
	}

	configFile := filepath.Join(configDir, "config.yaml")
	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// BackendCommand returns the backend helper launch command.
func (c *Config) BackendCommand() string {
	return c.GetString("backend.command")
}

// BackendSocket returns the backend socket path.
func (c *Config) BackendSocket() string {
	return c.GetString("backend.socket")
}

// GatewayCommand returns the gateway helper launch command.
func (c *Config) GatewayCommand() string {
	return c.GetString("gateway.command")
}

// GatewaySocket returns the gateway socket path.
func (c *Config) GatewaySocket() string {
	return c.GetString("gateway.socket")
}

// GatewayTimeout returns the validation budget in seconds.
func (c *Config) GatewayTimeout() int {
	return c.GetInt("gateway.timeout")
}

// SandboxShell returns the dry-run subshell binary.
func (c *Config) SandboxShell() string {
	return c.GetString("sandbox.shell")
}

// SandboxTimeout returns the sandbox budget in seconds.
func (c *Config) SandboxTimeout() int {
	return c.GetInt("sandbox.timeout")
}

// Provider returns the configured AI provider.
func (c *Config) Provider() string {
	return c.GetString("ai.provider")
}

// Model returns the configured reasoning model.
func (c *Config) Model() string {
	return c.GetString("ai.model")
}

// Verbose returns the verbosity level (0-2).
func (c *Config) Verbose() int {
	return c.GetInt("verbose")
}

// AllowlistPath returns the fast-path overlay file location.
func (c *Config) AllowlistPath() string {
	return c.GetString("allowlist.path")
}
