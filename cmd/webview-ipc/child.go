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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/proc"
	"github.com/DISTRHO/DPF-sub001/internal/webview"
)

func newChildCmd() *cobra.Command {
	return &cobra.Command{
		Use:    proc.ChildCommand + " <segment>",
		Short:  "Serve a web view for the host (internal)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := runChild(cmd.Context(), args[0]); code != webview.ExitOK {
				return exitError{code: code}
			}
			return nil
		},
	}
}

func runChild(ctx context.Context, segment string) int {
	env, err := config.LoadChild()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return webview.ExitFailure
	}
	log, err := newLogger(env.Logging)
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scaling := webview.GDKScale(env.ScaleFactor)
	log.Debug("child starting",
		zap.Uint64("window", env.WindowID),
		zap.Float64("scale_factor", env.ScaleFactor),
		zap.Strings("toolkit_env", scaling.Env()))

	providers := []webview.Provider{webview.HeadlessProvider{Log: log}}
	return webview.NewChild(segment, env, providers, webview.WithLogger(log)).Run(ctx)
}
