// Package config handles Seneschal configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./seneschal.yaml, ~/.config/seneschal/seneschal.yaml,
// /etc/seneschal/seneschal.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"seneschal.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "seneschal", "seneschal.yaml"))
	}

	paths = append(paths, "/etc/seneschal/seneschal.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Seneschal configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	Providers []Provider   `yaml:"providers"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Provider describes one external tool provider to supervise. Stdio
// providers are spawned as subprocesses; http providers are remote
// endpoints reached over streamable HTTP.
type Provider struct {
	// Name identifies the provider in logs, status output, and tool
	// namespacing. Must be unique across the config.
	Name string `yaml:"name"`

	// Transport selects how the provider is reached: "stdio" (default)
	// or "http".
	Transport string `yaml:"transport"`

	// Command and Args define the subprocess for stdio providers.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Env are additional environment variables for the subprocess.
	Env map[string]string `yaml:"env"`

	// RequiredEnv lists environment variable names that must be present
	// (in Env or the process environment) for the provider to be usable.
	// Missing values fail at startup, before any subprocess is spawned.
	RequiredEnv []string `yaml:"required_env"`

	// URL and Headers define the endpoint for http providers.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Policy is the fault policy: "required" providers abort startup
	// when they fail to come up, "optional" (default) providers degrade
	// to a reduced tool set.
	Policy string `yaml:"policy"`

	// HandshakeTimeoutSec bounds the bootstrap handshake. Zero means
	// the default (30 seconds).
	HandshakeTimeoutSec int `yaml:"handshake_timeout_sec"`

	// IncludeTools and ExcludeTools filter which of the provider's
	// tools are exposed to the agent frontend.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 8118},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8118},
		LogLevel: "info",
	}
}
