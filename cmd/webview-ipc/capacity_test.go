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

package main

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DISTRHO/DPF-sub001/internal/proc"
)

func TestRunCapacity(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCapacity(&out, "dpf-capacity-test-"+uuid.NewString()[:8], 4096, 1000))

	report := out.String()
	assert.Contains(t, report, "Channel capacity: 4096 bytes (4095 usable per frame)")
	assert.Contains(t, report, "Payload 1000 bytes: OK")
	assert.Contains(t, report, "Payload 4087 bytes: OK")
	assert.Contains(t, report, "Payload 4088 bytes: FAIL")
	assert.Contains(t, report, "Flow control after 4 frames of 1000 bytes")
	assert.Contains(t, report, "Committed: 4032 bytes, free: 63 bytes")
	assert.Contains(t, report, "Drained 4 frames")
}

func TestRunCapacityRejectsBadCapacity(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runCapacity(&out, "dpf-capacity-test-"+uuid.NewString()[:8], 1000, 100))
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	host, _, err := root.Find([]string{"host"})
	require.NoError(t, err)
	for _, name := range []string{"url", "width", "height", "scale", "eval", "duration"} {
		assert.NotNil(t, host.Flags().Lookup(name), "host flag %s", name)
	}

	child, args, err := root.Find([]string{proc.ChildCommand, "/dpf-webview-1"})
	require.NoError(t, err)
	assert.True(t, child.Hidden)
	assert.Equal(t, []string{"/dpf-webview-1"}, args)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestChildExitsOneOnBadEnvironment(t *testing.T) {
	t.Setenv("DPF_WEBVIEW_SCALE_FACTOR", "not-a-number")
	t.Setenv("DPF_WEBVIEW_WIN_ID", "0")
	assert.Equal(t, 1, runChild(t.Context(), "/dpf-webview-missing"))
}
