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
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/proc"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
	"github.com/DISTRHO/DPF-sub001/internal/transport/shm"
)

// HostState is the lifecycle of a Host.
type HostState int

const (
	HostIdle HostState = iota
	HostReady
	HostUnavailable
	HostClosed
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "idle"
	case HostReady:
		return "ready"
	case HostUnavailable:
		return "unavailable"
	case HostClosed:
		return "closed"
	}
	return fmt.Sprintf("host_state(%d)", int(s))
}

// Handler receives messages drained by Poll.
type Handler func(ctx context.Context, msg protocol.Message)

// Host is the host side of a web view. It owns the segment and the child
// process. Methods are safe for concurrent use, but the host is expected to
// call Poll from its idle loop.
type Host struct {
	cfg  *config.HostConfig
	opts options
	log  *zap.Logger
	sup  *proc.Supervisor

	mu    sync.Mutex
	state HostState
	link  *shm.Link
}

// NewHost returns an idle host. A nil cfg means config.Default.
func NewHost(cfg *config.HostConfig, opts ...Option) *Host {
	if cfg == nil {
		cfg = config.Default()
	}
	o := defaultOptions()
	o.waitSlice = cfg.WaitSlice
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("host")
	return &Host{
		cfg:  cfg,
		opts: o,
		log:  log,
		sup:  proc.New(proc.WithLogger(log.Named("proc")), proc.WithMetrics(o.metrics)),
	}
}

// Start creates the segment, writes Init, launches the child and waits for
// its ready acknowledgement. Any failure leaves the host unavailable with
// no segment or child behind.
func (h *Host) Start(ctx context.Context, init protocol.Init) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case HostIdle:
	case HostUnavailable:
		return ErrUnavailable
	default:
		return fmt.Errorf("webview: start in state %s", h.state)
	}

	exe := h.opts.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			h.state = HostUnavailable
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	link, err := shm.CreateUnique(h.cfg.SegmentPrefix,
		shm.WithLogger(h.opts.log.Named("shm")),
		shm.WithMetrics(h.opts.metrics),
		shm.WithNameAttempts(h.cfg.NameAttempts))
	if err != nil {
		h.state = HostUnavailable
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	log := h.log.With(zap.String("segment", link.Name()))

	if err := protocol.Encode(link.Outbound(), init); err != nil {
		link.Close()
		h.state = HostUnavailable
		return fmt.Errorf("%w: init: %w", ErrUnavailable, err)
	}
	h.opts.metrics.RecordFrame(shm.ToChild.String(), protocol.KindInit.String())

	argv := proc.ChildArgv(h.cfg.Loader, exe, link.Name())
	env := proc.ChildEnv(os.Environ(), init.ScaleFactor, init.WindowHandle)
	if err := h.sup.Start(argv, env); err != nil {
		link.Close()
		h.state = HostUnavailable
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	link.Signal()

	readyCtx, cancel := context.WithTimeout(ctx, h.cfg.ReadyTimeout)
	defer cancel()
	err = link.AwaitPeer(readyCtx, h.opts.waitSlice, h.childAlive)
	if err != nil {
		h.teardownLocked(link)
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			log.Warn("child did not acknowledge init", zap.Duration("timeout", h.cfg.ReadyTimeout))
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrReadyTimeout)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Warn("child failed during startup", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	h.link = link
	h.state = HostReady
	log.Info("child ready", zap.Int("pid", h.sup.Pid()))
	return nil
}

func (h *Host) childAlive() error {
	if !h.sup.IsRunning() {
		return fmt.Errorf("child exited with status %d", h.sup.ExitCode())
	}
	return nil
}

// Poll drains the child's callbacks and passes each to handler in order.
// It never blocks on the child. Once the child has exited or broken the
// protocol the host becomes unavailable and Poll returns ErrUnavailable.
func (h *Host) Poll(ctx context.Context, handler Handler) (int, error) {
	msgs, err := h.drain()
	for _, m := range msgs {
		if handler != nil {
			handler(ctx, m)
		}
	}
	return len(msgs), err
}

func (h *Host) drain() ([]protocol.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HostReady {
		return nil, h.stateErrLocked()
	}

	var msgs []protocol.Message
	_, err := protocol.Drain(h.link.Inbound(), func(m protocol.Message) error {
		h.opts.metrics.RecordFrame(shm.ToParent.String(), m.Kind().String())
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		h.log.Error("inbound channel corrupted, closing child", zap.String("segment", h.link.Name()), zap.Error(err))
		h.opts.metrics.RecordCorruption()
		h.teardownLocked(h.link)
		return msgs, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if !h.sup.IsRunning() || !h.link.Valid() {
		h.log.Warn("child went away", zap.Int("exit_code", h.sup.ExitCode()))
		h.teardownLocked(h.link)
		return msgs, ErrUnavailable
	}
	return msgs, nil
}

// Evaluate runs code in the page. shm.ErrFlowControl means the frame did not
// fit and was dropped.
func (h *Host) Evaluate(code string) error {
	return h.send(protocol.Evaluate{Code: code})
}

// Reload reloads the page.
func (h *Host) Reload() error {
	return h.send(protocol.Reload{})
}

func (h *Host) send(msg protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HostReady {
		return h.stateErrLocked()
	}
	if err := protocol.Encode(h.link.Outbound(), msg); err != nil {
		return err
	}
	h.opts.metrics.RecordFrame(shm.ToChild.String(), msg.Kind().String())
	return h.link.Signal()
}

// Close invalidates the segment, stops the child and unlinks the segment.
// It is idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HostClosed {
		return nil
	}
	if h.link != nil {
		h.teardownLocked(h.link)
	}
	h.state = HostClosed
	return nil
}

// teardownLocked closes link, which wakes a blocked child, then stops the
// child within the configured timeout.
func (h *Host) teardownLocked(link *shm.Link) {
	if err := link.Close(); err != nil {
		h.log.Warn("failed to close link", zap.Error(err))
	}
	h.sup.Stop(h.cfg.StopTimeout)
	h.link = nil
	h.state = HostUnavailable
}

func (h *Host) stateErrLocked() error {
	if h.state == HostClosed {
		return shm.ErrClosed
	}
	if h.state == HostIdle {
		return errors.New("webview: not started")
	}
	return ErrUnavailable
}

// State returns the host lifecycle state.
func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LinkState snapshots the segment while the host is ready.
func (h *Host) LinkState() (shm.LinkState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HostReady {
		return shm.LinkState{}, h.stateErrLocked()
	}
	return h.link.State()
}

// Pid returns the child's process id, or 0 when none is running.
func (h *Host) Pid() int {
	return h.sup.Pid()
}
