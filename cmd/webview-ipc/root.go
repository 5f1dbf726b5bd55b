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

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/logging"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "webview-ipc",
		Short:         "Run a web view in a child process over shared memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with host settings")

	root.AddCommand(newHostCmd(), newChildCmd(), newCapacityCmd())
	return root
}

// loadHost reads the host configuration and builds its logger.
func loadHost() (*config.HostConfig, *zap.Logger, error) {
	cfg, err := config.LoadHost(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Development = c.Development
	if c.Level != "" {
		cfg.Level = c.Level
	}
	return logging.New(cfg)
}
