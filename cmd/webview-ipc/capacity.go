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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DISTRHO/DPF-sub001/internal/protocol"
	"github.com/DISTRHO/DPF-sub001/internal/transport/shm"
)

func newCapacityCmd() *cobra.Command {
	var (
		capacity uint32
		chunk    int
	)
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Report channel capacity and backpressure of a local segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadHost()
			if err != nil {
				return err
			}
			defer log.Sync()
			prefix := cfg.SegmentPrefix + "-capacity"
			return runCapacity(cmd.OutOrStdout(), prefix, shm.RoundCapacity(capacity), chunk)
		},
	}
	cmd.Flags().Uint32Var(&capacity, "capacity", shm.ChannelCapacity, "per-channel capacity in bytes, rounded up to a power of two")
	cmd.Flags().IntVar(&chunk, "chunk", 1000, "payload size used to fill the channel")
	return cmd
}

func runCapacity(w io.Writer, prefix string, capacity uint32, chunk int) error {
	host, err := shm.CreateUnique(prefix, shm.WithCapacity(capacity))
	if err != nil {
		return err
	}
	defer host.Close()
	child, err := shm.Open(host.Name(), shm.WithCapacity(capacity))
	if err != nil {
		return err
	}
	defer child.Close()

	st, err := host.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "=== Segment ===\n")
	fmt.Fprintf(w, "Name: %s\n", st.Name)
	fmt.Fprintf(w, "Size: %d bytes\n", st.SegmentSize)
	fmt.Fprintf(w, "Wake: %s\n", st.WakeKind)
	fmt.Fprintf(w, "Channel capacity: %d bytes (%d usable per frame)\n", st.Outbound.Capacity, st.Outbound.Capacity-1)

	// Evaluate frames carry 8 bytes of framing: the kind and the blob length.
	fmt.Fprintf(w, "\n=== Single Frame Tests ===\n")
	for _, size := range probeSizes(int(capacity)) {
		err := protocol.Encode(host.Outbound(), protocol.Evaluate{Code: strings.Repeat("x", size)})
		if err != nil {
			fmt.Fprintf(w, "Payload %d bytes: FAIL (%v)\n", size, err)
			continue
		}
		if _, err := protocol.Drain(child.Inbound(), func(protocol.Message) error { return nil }); err != nil {
			return fmt.Errorf("read back %d bytes: %w", size, err)
		}
		fmt.Fprintf(w, "Payload %d bytes: OK\n", size)
	}

	fmt.Fprintf(w, "\n=== Backpressure Test ===\n")
	payload := strings.Repeat("y", chunk)
	frames := 0
	for {
		err := protocol.Encode(host.Outbound(), protocol.Evaluate{Code: payload})
		if errors.Is(err, shm.ErrFlowControl) {
			break
		}
		if err != nil {
			return err
		}
		frames++
	}
	st, err = host.State()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Flow control after %d frames of %d bytes\n", frames, chunk)
	fmt.Fprintf(w, "Committed: %d bytes, free: %d bytes\n", st.Outbound.Readable, st.Outbound.Free)

	n, err := protocol.Drain(child.Inbound(), func(protocol.Message) error { return nil })
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Drained %d frames\n", n)
	return nil
}

func probeSizes(capacity int) []int {
	sizes := []int{10, 100, 1000, 10000, 100000}
	var out []int
	for _, s := range sizes {
		if s < capacity {
			out = append(out, s)
		}
	}
	return append(out, capacity-9, capacity-8, capacity)
}
