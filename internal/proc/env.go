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
	"strconv"
	"strings"
)

// Child startup contract shared with the web view child.
const (
	// ChildCommand is the argument that switches the binary into child mode.
	ChildCommand = "dpf-ld-linux-webview"

	EnvScaleFactor = "DPF_WEBVIEW_SCALE_FACTOR"
	EnvWindowID    = "DPF_WEBVIEW_WIN_ID"
	EnvLang        = "LANG"

	childLang = "en_US.UTF-8"
)

// strippedEnv lists variables never inherited by the child.
var strippedEnv = []string{"LD_PRELOAD", "LD_LIBRARY_PATH"}

// CleanEnv returns environ without the dynamic loader overrides.
func CleanEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		if hasKey(kv, strippedEnv...) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// ChildEnv builds the child environment from environ: loader overrides
// stripped, then the locale and the startup values appended. Inherited
// values for the same keys are replaced.
func ChildEnv(environ []string, scaleFactor float64, windowID uint64) []string {
	out := make([]string, 0, len(environ)+3)
	for _, kv := range CleanEnv(environ) {
		if hasKey(kv, EnvLang, EnvScaleFactor, EnvWindowID) {
			continue
		}
		out = append(out, kv)
	}
	return append(out,
		EnvLang+"="+childLang,
		EnvScaleFactor+"="+strconv.FormatFloat(scaleFactor, 'f', -1, 64),
		EnvWindowID+"="+strconv.FormatUint(windowID, 10),
	)
}

// ChildArgv returns the child command line. loader is an optional dynamic
// loader to run self through.
func ChildArgv(loader, self, segment string) []string {
	argv := make([]string, 0, 4)
	if loader != "" {
		argv = append(argv, loader)
	}
	return append(argv, self, ChildCommand, segment)
}

func hasKey(kv string, keys ...string) bool {
	for _, k := range keys {
		if strings.HasPrefix(kv, k+"=") {
			return true
		}
	}
	return false
}
