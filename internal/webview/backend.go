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

package webview

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
)

// Backend renders the page inside the host's window. All methods are called
// from the child's GUI goroutine.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Start creates the view described by init. post delivers a payload
	// from the page to the host and may only be called from the GUI
	// goroutine.
	Start(init protocol.Init, post func(payload string)) error
	// Evaluate runs code in the page.
	Evaluate(code string) error
	// Reload reloads the page.
	Reload() error
	// Close destroys the view.
	Close() error
}

// Provider constructs a backend if its toolkit is usable in this process.
type Provider interface {
	Name() string
	TryLoad(env *config.ChildEnv) (Backend, error)
}

// SelectBackend tries providers in order and returns the first backend that
// loads. The errors of the providers that failed are joined under
// ErrNoBackend.
func SelectBackend(providers []Provider, env *config.ChildEnv, log *zap.Logger) (Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var errs []error
	for _, p := range providers {
		b, err := p.TryLoad(env)
		if err == nil {
			log.Info("backend loaded", zap.String("backend", b.Name()))
			return b, nil
		}
		log.Debug("backend unavailable", zap.String("provider", p.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

// DefaultProviders returns the providers built into this binary, in order
// of preference.
func DefaultProviders() []Provider {
	return []Provider{HeadlessProvider{}}
}

// HeadlessProvider loads the HeadlessBackend. It always succeeds.
type HeadlessProvider struct {
	Log *zap.Logger
}

func (HeadlessProvider) Name() string { return "headless" }

func (p HeadlessProvider) TryLoad(env *config.ChildEnv) (Backend, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	scaleFactor := 1.0
	if env != nil {
		scaleFactor = env.ScaleFactor
	}
	return &HeadlessBackend{log: log, scaling: GDKScale(scaleFactor)}, nil
}

// HeadlessBackend keeps the page state in memory without drawing anything.
// Evaluated code is posted back to the host verbatim, which makes the
// backend useful as a loopback for the transport.
type HeadlessBackend struct {
	log     *zap.Logger
	scaling Scaling

	mu        sync.Mutex
	started   bool
	init      protocol.Init
	post      func(string)
	evaluated []string
	reloads   int
}

func (b *HeadlessBackend) Name() string { return "headless" }

func (b *HeadlessBackend) Start(init protocol.Init, post func(payload string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("headless: already started")
	}
	b.started = true
	b.init = init
	b.post = post
	b.log.Info("view created",
		zap.Uint64("window", init.WindowHandle),
		zap.Uint32("width", init.Width),
		zap.Uint32("height", init.Height),
		zap.Int("gdk_scale", b.scaling.Scale),
		zap.String("url", init.URL))
	return nil
}

func (b *HeadlessBackend) Evaluate(code string) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return errors.New("headless: not started")
	}
	b.evaluated = append(b.evaluated, code)
	post := b.post
	b.mu.Unlock()

	post(code)
	return nil
}

func (b *HeadlessBackend) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloads++
	return nil
}

func (b *HeadlessBackend) Close() error { return nil }

// URL returns the page loaded by Start.
func (b *HeadlessBackend) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init.URL
}

// Init returns the Init message the view was created from.
func (b *HeadlessBackend) Init() protocol.Init {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.init
}

// Evaluated returns the code run so far, in order.
func (b *HeadlessBackend) Evaluated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.evaluated...)
}

// Reloads returns how many times the page was reloaded.
func (b *HeadlessBackend) Reloads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reloads
}

// Scaling returns the toolkit scaling derived from the child environment.
func (b *HeadlessBackend) Scaling() Scaling {
	return b.scaling
}
