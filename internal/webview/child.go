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
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
	"github.com/DISTRHO/DPF-sub001/internal/transport/shm"
)

// requestQueue is the depth of the hand-off from the link listener to the
// GUI goroutine.
const requestQueue = 64

// Child is the child side of a web view: it maps the host's segment, loads
// a backend and serves Evaluate and Reload requests.
type Child struct {
	segment   string
	env       *config.ChildEnv
	providers []Provider
	opts      options
	log       *zap.Logger
}

// NewChild prepares a child for segment. Nothing is mapped until Run.
func NewChild(segment string, env *config.ChildEnv, providers []Provider, opts ...Option) *Child {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Child{
		segment:   segment,
		env:       env,
		providers: providers,
		opts:      o,
		log:       o.log.Named("child").With(zap.String("segment", segment)),
	}
}

// Run serves the view until ctx is cancelled or the host invalidates the
// link, and returns the process exit code. The calling goroutine becomes
// the GUI goroutine and is locked to its OS thread.
func (c *Child) Run(ctx context.Context) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	link, err := shm.Open(c.segment, shm.WithLogger(c.opts.log.Named("shm")), shm.WithMetrics(c.opts.metrics))
	if err != nil {
		c.log.Error("failed to map segment", zap.Error(err))
		return ExitFailure
	}
	defer link.Close()

	init, err := c.awaitInit(ctx, link)
	if err != nil {
		if errors.Is(err, errHostGone) || ctx.Err() != nil {
			c.log.Info("host went away before init")
			return ExitOK
		}
		c.log.Error("no init from host", zap.Error(err))
		return ExitFailure
	}

	backend, err := SelectBackend(c.providers, c.env, c.log)
	if err != nil {
		c.log.Error("failed to load backend", zap.Error(err))
		return ExitFailure
	}
	defer backend.Close()

	post := func(payload string) {
		if err := c.send(link, protocol.Callback{Payload: payload}); err != nil {
			c.log.Warn("callback dropped", zap.Error(err))
		}
	}
	if err := backend.Start(init, post); err != nil {
		c.log.Error("failed to start backend", zap.String("backend", backend.Name()), zap.Error(err))
		return ExitFailure
	}

	// Ready acknowledgement: one signal, no frame.
	if err := link.Signal(); err != nil {
		c.log.Error("failed to acknowledge init", zap.Error(err))
		return ExitFailure
	}
	c.log.Info("view ready", zap.String("backend", backend.Name()))

	listenCtx, cancel := context.WithCancel(ctx)
	requests := make(chan protocol.Message, requestQueue)
	var (
		wg        sync.WaitGroup
		listenErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		listenErr = c.listen(listenCtx, link, requests)
	}()

	c.serve(ctx, backend, requests)

	// The listener must be gone before the deferred Close unmaps the link.
	cancel()
	link.Interrupt()
	wg.Wait()

	if listenErr != nil {
		return ExitFailure
	}
	return ExitOK
}

var errHostGone = errors.New("host invalidated the segment")

// awaitInit blocks until the first frame arrives and checks it is Init.
func (c *Child) awaitInit(ctx context.Context, link *shm.Link) (protocol.Init, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Init{}, err
		}
		if link.Inbound().HasData() {
			break
		}
		if !link.Valid() {
			return protocol.Init{}, errHostGone
		}
		link.Wait(c.opts.waitSlice)
	}

	msg, err := protocol.Decode(link.Inbound())
	if err != nil {
		return protocol.Init{}, err
	}
	c.opts.metrics.RecordFrame(shm.ToChild.String(), msg.Kind().String())
	init, ok := msg.(protocol.Init)
	if !ok {
		return protocol.Init{}, fmt.Errorf("%w: first frame is %s", shm.ErrCorrupt, msg.Kind())
	}
	c.log.Debug("init received",
		zap.Uint32("width", init.Width),
		zap.Uint32("height", init.Height),
		zap.Float64("scale_factor", init.ScaleFactor))
	return init, nil
}

// listen drains the inbound channel and forwards decoded requests to the
// GUI goroutine. It closes out when it returns; a non-nil error means the
// host broke framing.
func (c *Child) listen(ctx context.Context, link *shm.Link, out chan<- protocol.Message) error {
	defer close(out)

	forward := func(m protocol.Message) error {
		c.opts.metrics.RecordFrame(shm.ToChild.String(), m.Kind().String())
		select {
		case out <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if _, err := protocol.Drain(link.Inbound(), forward); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("inbound channel corrupted", zap.Error(err))
			c.opts.metrics.RecordCorruption()
			return err
		}
		if ctx.Err() != nil || !link.Valid() {
			return nil
		}
		link.Wait(c.opts.waitSlice)
	}
}

// serve runs requests on the GUI goroutine until ctx is cancelled or the
// listener stops.
func (c *Child) serve(ctx context.Context, backend Backend, requests <-chan protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			c.log.Info("shutdown requested")
			return
		case msg, ok := <-requests:
			if !ok {
				c.log.Info("link closed by host")
				return
			}
			c.dispatch(backend, msg)
		}
	}
}

func (c *Child) dispatch(backend Backend, msg protocol.Message) {
	var err error
	switch m := msg.(type) {
	case protocol.Evaluate:
		err = backend.Evaluate(m.Code)
	case protocol.Reload:
		err = backend.Reload()
	case protocol.Init:
		c.log.Warn("ignoring repeated init")
	}
	if err != nil {
		c.log.Warn("request failed", zap.Stringer("kind", msg.Kind()), zap.Error(err))
	}
}

// send encodes msg on the outbound channel and wakes the host. Only the
// GUI goroutine produces on the outbound channel.
func (c *Child) send(link *shm.Link, msg protocol.Message) error {
	if err := protocol.Encode(link.Outbound(), msg); err != nil {
		return err
	}
	c.opts.metrics.RecordFrame(shm.ToParent.String(), msg.Kind().String())
	return link.Signal()
}
