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

package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanEnv(t *testing.T) {
	in := []string{
		"HOME=/home/user",
		"LD_PRELOAD=/usr/lib/libjack.so",
		"LD_LIBRARY_PATH=/opt/host/lib",
		"LD_PRELOAD_EXTRA=kept",
		"PATH=/usr/bin",
	}
	assert.Equal(t, []string{"HOME=/home/user", "LD_PRELOAD_EXTRA=kept", "PATH=/usr/bin"}, CleanEnv(in))
}

func TestChildEnv(t *testing.T) {
	in := []string{
		"LANG=de_DE.UTF-8",
		"LD_LIBRARY_PATH=/opt/host/lib",
		"DPF_WEBVIEW_WIN_ID=7",
		"DISPLAY=:0",
	}
	got := ChildEnv(in, 1.25, 0x4a00007)
	assert.Equal(t, []string{
		"DISPLAY=:0",
		"LANG=en_US.UTF-8",
		"DPF_WEBVIEW_SCALE_FACTOR=1.25",
		"DPF_WEBVIEW_WIN_ID=77594631",
	}, got)
}

func TestChildArgv(t *testing.T) {
	assert.Equal(t,
		[]string{"/usr/bin/webview-ipc", ChildCommand, "/dpf-webview-1"},
		ChildArgv("", "/usr/bin/webview-ipc", "/dpf-webview-1"))
	assert.Equal(t,
		[]string{"/lib64/ld-linux-x86-64.so.2", "/usr/bin/webview-ipc", ChildCommand, "/dpf-webview-1"},
		ChildArgv("/lib64/ld-linux-x86-64.so.2", "/usr/bin/webview-ipc", "/dpf-webview-1"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
