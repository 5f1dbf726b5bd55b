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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
)

type stubProvider struct {
	name string
	err  error
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) TryLoad(env *config.ChildEnv) (Backend, error) {
	if p.err != nil {
		return nil, p.err
	}
	return HeadlessProvider{}.TryLoad(env)
}

func TestSelectBackendFirstSuccessWins(t *testing.T) {
	gtkMissing := errors.New("libgtk not found")
	providers := []Provider{
		stubProvider{name: "gtk", err: gtkMissing},
		stubProvider{name: "qt"},
		stubProvider{name: "never", err: errors.New("must not be tried")},
	}
	b, err := SelectBackend(providers, &config.ChildEnv{ScaleFactor: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "headless", b.Name())
	assert.Equal(t, 2, b.(*HeadlessBackend).Scaling().Scale)
}

func TestSelectBackendNoneLoads(t *testing.T) {
	gtkMissing := errors.New("libgtk not found")
	qtMissing := errors.New("libQt5 not found")
	_, err := SelectBackend([]Provider{
		stubProvider{name: "gtk", err: gtkMissing},
		stubProvider{name: "qt", err: qtMissing},
	}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.ErrorIs(t, err, gtkMissing)
	assert.ErrorIs(t, err, qtMissing)
	assert.Contains(t, err.Error(), "gtk: libgtk not found")

	_, err = SelectBackend(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestHeadlessBackend(t *testing.T) {
	b, err := HeadlessProvider{}.TryLoad(nil)
	require.NoError(t, err)
	hb := b.(*HeadlessBackend)
	assert.Equal(t, 1, hb.Scaling().Scale)

	assert.Error(t, hb.Evaluate("early"), "evaluate before start")

	var posted []string
	init := protocol.Init{Width: 640, Height: 480, ScaleFactor: 1, URL: "https://example.com/ui"}
	require.NoError(t, hb.Start(init, func(p string) { posted = append(posted, p) }))
	assert.Error(t, hb.Start(init, nil), "start twice")

	require.NoError(t, hb.Evaluate("a()"))
	require.NoError(t, hb.Evaluate("b()"))
	require.NoError(t, hb.Reload())

	assert.Equal(t, []string{"a()", "b()"}, posted)
	assert.Equal(t, []string{"a()", "b()"}, hb.Evaluated())
	assert.Equal(t, 1, hb.Reloads())
	assert.Equal(t, "https://example.com/ui", hb.URL())
	assert.Equal(t, init, hb.Init())
	assert.NoError(t, hb.Close())
}

func TestDefaultProviders(t *testing.T) {
	providers := DefaultProviders()
	require.NotEmpty(t, providers)
	b, err := SelectBackend(providers, &config.ChildEnv{ScaleFactor: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "headless", b.Name())
}
