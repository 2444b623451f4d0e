// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "LABFORGE_CONFIG_PATH"
)

// MetricsServerConfig configures the optional Prometheus metrics endpoint.
type MetricsServerConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// Config holds the configuration for labforge
type Config struct {
	// ConnectURI is the libvirt connection URI (e.g., "qemu:///system")
	ConnectURI string `json:"connectURI"`

	// SSHUser is the guest account used for all remote commands
	SSHUser string `json:"sshUser"`

	// SSHKeyPath is the path to the SSH private key
	SSHKeyPath string `json:"sshKeyPath"`

	// SSHPort is the guest SSH port
	SSHPort string `json:"sshPort"`

	// ConnectTimeoutSeconds bounds each SSH dial attempt
	ConnectTimeoutSeconds int `json:"connectTimeoutSeconds"`

	// CommandTimeoutSeconds bounds each remote command
	CommandTimeoutSeconds int `json:"commandTimeoutSeconds"`

	// ReadyTimeoutSeconds bounds the wait for the guest SSH server
	ReadyTimeoutSeconds int `json:"readyTimeoutSeconds"`

	// PollIntervalSeconds is the readiness poll interval
	PollIntervalSeconds int `json:"pollIntervalSeconds"`

	// DevelopmentMode enables development logging
	DevelopmentMode bool `json:"developmentMode"`

	// MetricsServer configures the metrics endpoint
	MetricsServer MetricsServerConfig `json:"metricsServer"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		ConnectURI:            "qemu:///system",
		SSHUser:               "student",
		SSHKeyPath:            "",
		SSHPort:               "22",
		ConnectTimeoutSeconds: 10,
		CommandTimeoutSeconds: 60,
		ReadyTimeoutSeconds:   300,
		PollIntervalSeconds:   5,
		DevelopmentMode:       false,
		MetricsServer: MetricsServerConfig{
			Enabled: false,
			Port:    8080,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from a YAML file path or returns defaults
// with env var overrides. If configPath is empty, it uses environment
// variables only.
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("LABFORGE_CONNECT_URI"); val != "" {
		c.ConnectURI = val
	}
	if val := os.Getenv("LABFORGE_SSH_USER"); val != "" {
		c.SSHUser = val
	}
	if val := os.Getenv("LABFORGE_SSH_KEY_PATH"); val != "" {
		c.SSHKeyPath = val
	}
	if val := os.Getenv("LABFORGE_SSH_PORT"); val != "" {
		c.SSHPort = val
	}
	if val := os.Getenv("LABFORGE_DEV_MODE"); val != "" {
		c.DevelopmentMode = val == "true" || val == "1" || val == "yes"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.ConnectURI == "" {
		errs = append(errs, errors.New("connectURI cannot be empty"))
	}

	if c.SSHUser == "" {
		errs = append(errs, errors.New("sshUser cannot be empty"))
	}

	if c.ConnectTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("connectTimeoutSeconds must be > 0"))
	}

	if c.CommandTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("commandTimeoutSeconds must be > 0"))
	}

	if c.ReadyTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("readyTimeoutSeconds must be > 0"))
	}

	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("pollIntervalSeconds must be > 0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
