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
	"math"
	"strconv"
)

// Scaling is how a GDK based backend splits a host scale factor between
// GDK's integer window scale and its font DPI scale.
type Scaling struct {
	Scale    int     // GDK_SCALE
	DPIScale float64 // GDK_DPI_SCALE, zero when unset
	Residual float64 // factor left for the view itself
}

// GDKScale derives the toolkit scaling for scaleFactor. Fractions of .75 and
// above round up to the next integer scale.
func GDKScale(scaleFactor float64) Scaling {
	scale := int(scaleFactor)
	if math.Mod(scaleFactor, 1.0) >= 0.75 {
		scale = int(scaleFactor + 0.5)
	}
	if scale < 1 {
		scale = 1
	}

	s := Scaling{Scale: scale}
	switch {
	case scale != 1:
		s.DPIScale = (1.0 / scaleFactor) * 1.2
	case scaleFactor > 1.0:
		s.DPIScale = (1.0 / scaleFactor) * 1.4
	}
	s.Residual = scaleFactor / float64(scale)
	return s
}

// Env returns the GDK variables for s, empty when no scaling applies.
func (s Scaling) Env() []string {
	var env []string
	if s.Scale != 1 {
		env = append(env, "GDK_SCALE="+strconv.Itoa(s.Scale))
	}
	if s.DPIScale != 0 {
		env = append(env, "GDK_DPI_SCALE="+strconv.FormatFloat(s.DPIScale, 'f', 2, 64))
	}
	return env
}
