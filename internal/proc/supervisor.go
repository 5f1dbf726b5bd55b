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

// Package proc supervises the web view child process: launch with a
// curated environment, liveness polling and bounded shutdown.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DISTRHO/DPF-sub001/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by Start while a child is running.
	ErrAlreadyStarted = errors.New("proc: child already started")
	// ErrNotRunning is returned when signalling a child that is not running.
	ErrNotRunning = errors.New("proc: child not running")
)

// killGrace bounds the wait for the kernel to reap a force-killed child.
const killGrace = 500 * time.Millisecond

// State is the lifecycle of a supervised child.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records starts and stops on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithOutput sets the child's stdout and stderr. Both default to the
// parent's stderr.
func WithOutput(stdout, stderr *os.File) Option {
	return func(s *Supervisor) {
		s.stdout, s.stderr = stdout, stderr
	}
}

// Supervisor owns one child process. It is safe for concurrent use; only
// one Stop runs at a time.
type Supervisor struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	stdout  *os.File
	stderr  *os.File

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	done     chan struct{} // closed once the child is reaped
	waitErr  error
	exitCode int
}

// New returns a supervisor with no child.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		log:      zap.NewNop(),
		stdout:   os.Stderr,
		stderr:   os.Stderr,
		exitCode: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches argv with env as its complete environment. A failed launch
// leaves no child behind. A stopped supervisor may be started again.
func (s *Supervisor) Start(argv, env []string) error {
	if len(argv) == 0 {
		return errors.New("proc: empty argv")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning || s.state == StateStopping {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proc: start %s: %w", argv[0], err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.waitErr = nil
	s.exitCode = -1
	s.state = StateRunning
	s.metrics.RecordChildStart()
	s.log.Info("child started", zap.Int("pid", cmd.Process.Pid), zap.Strings("argv", argv))

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.exitCode = cmd.ProcessState.ExitCode()
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop asks the child to exit, waits up to timeout, then kills and reaps
// it. It is idempotent and returns once the child is gone.
func (s *Supervisor) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	outcome := metrics.OutcomeExited
	select {
	case <-done:
	default:
		outcome = metrics.OutcomeGraceful
		if err := terminate(cmd.Process); err != nil {
			s.log.Debug("terminate request failed", zap.Error(err))
		}

		timer := time.NewTimer(timeout)
		select {
		case <-done:
		case <-timer.C:
			outcome = metrics.OutcomeKilled
			s.log.Warn("child did not exit in time, killing",
				zap.Int("pid", cmd.Process.Pid), zap.Duration("timeout", timeout))
			cmd.Process.Kill()
			select {
			case <-done:
			case <-time.After(killGrace):
				s.log.Error("killed child not reaped", zap.Int("pid", cmd.Process.Pid))
			}
		}
		timer.Stop()
	}

	s.mu.Lock()
	s.state = StateStopped
	code := s.exitCode
	s.mu.Unlock()

	s.metrics.RecordChildStop(outcome)
	s.log.Info("child stopped", zap.String("outcome", outcome), zap.Int("exit_code", code))
}

// IsRunning reports whether the child is alive without blocking. The first
// call after the child exits on its own moves the supervisor to Stopped.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
	case StateStopping:
		select {
		case <-s.done:
			return false
		default:
			return true
		}
	default:
		return false
	}

	select {
	case <-s.done:
		s.state = StateStopped
		s.metrics.RecordChildStop(metrics.OutcomeExited)
		s.log.Info("child exited", zap.Int("exit_code", s.exitCode), zap.Error(s.waitErr))
		return false
	default:
		return true
	}
}

// Signal delivers sig to a running child.
func (s *Supervisor) Signal(sig os.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ErrNotRunning
	}
	select {
	case <-s.done:
		return ErrNotRunning
	default:
	}
	return s.cmd.Process.Signal(sig)
}

// Terminate sends the graceful termination request without waiting.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return ErrNotRunning
	}
	return terminate(s.cmd.Process)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the child's process ID, or 0 before Start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// ExitCode returns the exit code of a reaped child, or -1 if it is still
// running or was ended by a signal.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}
