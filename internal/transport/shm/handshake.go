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

package shm

import (
	"context"
	"fmt"
	"time"
)

// AwaitPeer blocks until the peer signals the inbound waker. It waits in
// slices and checks for cancellation and peer exit between them. alive may
// be nil; a non-nil error from it aborts the wait. No frame is consumed.
func (l *Link) AwaitPeer(ctx context.Context, slice time.Duration, alive func() error) error {
	if slice <= 0 {
		slice = time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := slice
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		woke := wait > 0 && l.Wait(wait)
		if !l.Valid() {
			return fmt.Errorf("%w: peer invalidated the segment", ErrClosed)
		}
		if woke {
			return nil
		}
		if alive != nil {
			if err := alive(); err != nil {
				return err
			}
		}
	}
}
