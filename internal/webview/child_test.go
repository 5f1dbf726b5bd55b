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

//go:build unix

package webview

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
	"github.com/DISTRHO/DPF-sub001/internal/transport/shm"
)

var childEnv = &config.ChildEnv{ScaleFactor: 1.0}

// fixedProvider hands out a backend the test keeps a handle on.
type fixedProvider struct{ b Backend }

func (fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) TryLoad(*config.ChildEnv) (Backend, error) { return p.b, nil }

func newReadyBackend(t *testing.T) *readyBackend {
	t.Helper()
	b, err := HeadlessProvider{}.TryLoad(childEnv)
	require.NoError(t, err)
	return &readyBackend{HeadlessBackend: b.(*HeadlessBackend)}
}

func createHostLink(t *testing.T, name string) *shm.Link {
	t.Helper()
	l, err := shm.Create(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		shm.RemoveSegment(name)
	})
	return l
}

// runChild runs c in the background. The returned channel yields its exit
// code.
func runChild(ctx context.Context, c *Child) <-chan int {
	code := make(chan int, 1)
	go func() { code <- c.Run(ctx) }()
	return code
}

func exitCode(t *testing.T, code <-chan int) int {
	t.Helper()
	select {
	case c := <-code:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("child did not return")
		return -1
	}
}

func awaitReady(t *testing.T, host *shm.Link) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, host.AwaitPeer(ctx, 50*time.Millisecond, nil))
}

// awaitCallbacks drains host until n callbacks arrived.
func awaitCallbacks(t *testing.T, host *shm.Link, n int) []string {
	t.Helper()
	var got []string
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < n {
		require.True(t, time.Now().Before(deadline), "timed out, callbacks so far: %q", got)
		_, err := protocol.Drain(host.Inbound(), func(m protocol.Message) error {
			got = append(got, m.(protocol.Callback).Payload)
			return nil
		})
		require.NoError(t, err)
		if len(got) < n {
			host.Wait(20 * time.Millisecond)
		}
	}
	return got
}

func TestChildServesTestSegment(t *testing.T) {
	shm.RemoveSegment("test-1")
	host := createHostLink(t, "test-1")
	require.NoError(t, protocol.Encode(host.Outbound(), testInit))
	require.NoError(t, host.Signal())

	backend := newReadyBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	code := runChild(ctx, NewChild("test-1", childEnv, []Provider{fixedProvider{backend}},
		WithWaitSlice(50*time.Millisecond)))

	awaitReady(t, host)
	init := backend.Init()
	assert.Equal(t, uint32(800), init.Width)
	assert.Equal(t, uint32(600), init.Height)
	assert.Equal(t, "about:blank", backend.URL())
	assert.Equal(t, []string{"ready"}, awaitCallbacks(t, host, 1))

	require.NoError(t, protocol.Encode(host.Outbound(), protocol.Evaluate{Code: "window.x = 1"}))
	require.NoError(t, protocol.Encode(host.Outbound(), protocol.Reload{}))
	require.NoError(t, host.Signal())
	assert.Equal(t, []string{"window.x = 1"}, awaitCallbacks(t, host, 1))
	require.Eventually(t, func() bool { return backend.Reloads() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"window.x = 1"}, backend.Evaluated())

	cancel()
	assert.Equal(t, ExitOK, exitCode(t, code))
}

func TestChildExitsWhenHostCloses(t *testing.T) {
	name := "/dpf-test-" + uuid.NewString()
	host := createHostLink(t, name)
	require.NoError(t, protocol.Encode(host.Outbound(), testInit))
	require.NoError(t, host.Signal())

	code := runChild(context.Background(), NewChild(name, childEnv,
		[]Provider{fixedProvider{newReadyBackend(t)}}, WithWaitSlice(time.Second)))
	awaitReady(t, host)

	// The listener is blocked in a one second wait; Close must wake it.
	start := time.Now()
	require.NoError(t, host.Close())
	assert.Equal(t, ExitOK, exitCode(t, code))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestChildExitsWhenHostClosesBeforeInit(t *testing.T) {
	name := "/dpf-test-" + uuid.NewString()
	host := createHostLink(t, name)

	code := runChild(context.Background(), NewChild(name, childEnv,
		[]Provider{fixedProvider{newReadyBackend(t)}}, WithWaitSlice(50*time.Millisecond)))
	require.Eventually(t, func() bool {
		st, err := host.State()
		return err == nil && st.ChildPID != 0
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, host.Close())
	assert.Equal(t, ExitOK, exitCode(t, code))
}

func TestChildCancelledBeforeInit(t *testing.T) {
	name := "/dpf-test-" + uuid.NewString()
	createHostLink(t, name)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	code := runChild(ctx, NewChild(name, childEnv,
		[]Provider{fixedProvider{newReadyBackend(t)}}, WithWaitSlice(20*time.Millisecond)))
	assert.Equal(t, ExitOK, exitCode(t, code))
}

func TestChildFailures(t *testing.T) {
	t.Run("missing segment", func(t *testing.T) {
		c := NewChild("/dpf-test-"+uuid.NewString(), childEnv, DefaultProviders())
		assert.Equal(t, ExitFailure, c.Run(context.Background()))
	})

	t.Run("first frame not init", func(t *testing.T) {
		name := "/dpf-test-" + uuid.NewString()
		host := createHostLink(t, name)
		require.NoError(t, protocol.Encode(host.Outbound(), protocol.Evaluate{Code: "early"}))
		require.NoError(t, host.Signal())

		c := NewChild(name, childEnv, DefaultProviders())
		assert.Equal(t, ExitFailure, c.Run(context.Background()))
	})

	t.Run("no backend", func(t *testing.T) {
		name := "/dpf-test-" + uuid.NewString()
		host := createHostLink(t, name)
		require.NoError(t, protocol.Encode(host.Outbound(), testInit))
		require.NoError(t, host.Signal())

		c := NewChild(name, childEnv, []Provider{failingProvider{}})
		assert.Equal(t, ExitFailure, c.Run(context.Background()))
	})

	t.Run("corrupt request", func(t *testing.T) {
		name := "/dpf-test-" + uuid.NewString()
		host := createHostLink(t, name)
		require.NoError(t, protocol.Encode(host.Outbound(), testInit))
		require.NoError(t, host.Signal())

		code := runChild(context.Background(), NewChild(name, childEnv,
			[]Provider{fixedProvider{newReadyBackend(t)}}, WithWaitSlice(50*time.Millisecond)))
		awaitReady(t, host)

		out := host.Outbound()
		require.NoError(t, out.WriteUint32(uint32(protocol.KindCallback)))
		require.NoError(t, out.WriteString("not for the child"))
		require.NoError(t, out.Commit())
		require.NoError(t, host.Signal())
		assert.Equal(t, ExitFailure, exitCode(t, code))
	})
}
