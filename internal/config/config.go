/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads host tunables and the child startup environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// HostConfig holds the host side configuration. Values come from Default,
// then an optional YAML file, then the environment.
type HostConfig struct {
	SegmentPrefix string        `envconfig:"WEBVIEW_SHM_PREFIX" yaml:"segment_prefix"`
	NameAttempts  int           `envconfig:"WEBVIEW_SHM_NAME_ATTEMPTS" yaml:"name_attempts"`
	Loader        string        `envconfig:"WEBVIEW_LOADER" yaml:"loader"`
	ReadyTimeout  time.Duration `envconfig:"WEBVIEW_READY_TIMEOUT" yaml:"ready_timeout"`
	StopTimeout   time.Duration `envconfig:"WEBVIEW_STOP_TIMEOUT" yaml:"stop_timeout"`
	WaitSlice     time.Duration `envconfig:"WEBVIEW_WAIT_SLICE" yaml:"wait_slice"`
	MetricsAddr   string        `envconfig:"METRICS_ADDR" yaml:"metrics_addr"`
	Logging       LogConfig     `yaml:"logging"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development"`
}

// ChildEnv is the startup environment the host hands to the child.
type ChildEnv struct {
	ScaleFactor float64   `envconfig:"DPF_WEBVIEW_SCALE_FACTOR" required:"true"`
	WindowID    uint64    `envconfig:"DPF_WEBVIEW_WIN_ID" required:"true"`
	Lang        string    `envconfig:"LANG"`
	Logging     LogConfig
}

// Default returns default host configuration.
func Default() *HostConfig {
	return &HostConfig{
		SegmentPrefix: "dpf-webview",
		NameAttempts:  64,
		ReadyTimeout:  5 * time.Second,
		StopTimeout:   2 * time.Second,
		WaitSlice:     time.Second,
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// LoadHost builds the host configuration. path names an optional YAML file;
// an empty path skips it. Environment variables override the file.
func LoadHost(path string) (*HostConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c *HostConfig) Validate() error {
	if c.SegmentPrefix == "" || strings.ContainsRune(c.SegmentPrefix, '/') {
		return fmt.Errorf("segment prefix %q must be non-empty without '/'", c.SegmentPrefix)
	}
	if c.NameAttempts <= 0 {
		return fmt.Errorf("name attempts must be positive, got %d", c.NameAttempts)
	}
	if c.ReadyTimeout <= 0 || c.StopTimeout <= 0 || c.WaitSlice <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// LoadChild reads the child startup environment. A missing or malformed
// value is an error; the child exits with status 1 on it.
func LoadChild() (*ChildEnv, error) {
	var env ChildEnv
	env.Logging.Level = "info"
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load child environment: %w", err)
	}
	if !(env.ScaleFactor > 0) {
		return nil, fmt.Errorf("invalid child environment: scale factor %v must be positive", env.ScaleFactor)
	}
	return &env, nil
}
