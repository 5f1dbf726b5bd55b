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

// Package protocol defines the messages exchanged between the host and the
// web view child, and their framing on a shm.Channel.
//
// Every frame starts with a u32 Kind followed by the kind's fields written
// with the channel's typed writers. The set of kinds is closed and each kind
// travels in one direction only.
package protocol

import (
	"errors"
	"fmt"

	"github.com/DISTRHO/DPF-sub001/internal/transport/shm"
)

var (
	// ErrUnknownKind is wrapped together with shm.ErrCorrupt when a frame
	// starts with a kind outside the protocol or not valid for the channel.
	ErrUnknownKind = errors.New("protocol: unknown message kind")

	// ErrWrongDirection is returned by Encode for a message that may not be
	// sent on the given channel.
	ErrWrongDirection = errors.New("protocol: message not allowed in this direction")
)

// Kind identifies a message on the wire.
type Kind uint32

const (
	KindInit     Kind = 1
	KindEvaluate Kind = 2
	KindReload   Kind = 3
	KindCallback Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindEvaluate:
		return "evaluate"
	case KindReload:
		return "reload"
	case KindCallback:
		return "callback"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Direction returns the only channel direction k may travel in.
func (k Kind) Direction() shm.Direction {
	if k == KindCallback {
		return shm.ToParent
	}
	return shm.ToChild
}

func (k Kind) valid() bool {
	return k >= KindInit && k <= KindCallback
}

// Message is one of Init, Evaluate, Reload or Callback.
type Message interface {
	Kind() Kind
	encode(ch *shm.Channel)
}

// Init is the first frame the host sends. It carries everything the child
// needs to embed its view.
type Init struct {
	WindowHandle uint64 // native parent window, opaque to the transport
	Width        uint32
	Height       uint32
	ScaleFactor  float64
	OffsetX      int32
	OffsetY      int32
	URL          string
	InitScript   string
}

// Evaluate asks the child to run code in the page.
type Evaluate struct {
	Code string
}

// Reload asks the child to reload the page.
type Reload struct{}

// Callback carries a payload posted by the page back to the host.
type Callback struct {
	Payload string
}

func (Init) Kind() Kind     { return KindInit }
func (Evaluate) Kind() Kind { return KindEvaluate }
func (Reload) Kind() Kind   { return KindReload }
func (Callback) Kind() Kind { return KindCallback }

// Write errors poison the pending frame; Encode reports them through Commit.

func (m Init) encode(ch *shm.Channel) {
	ch.WriteUint64(m.WindowHandle)
	ch.WriteUint32(m.Width)
	ch.WriteUint32(m.Height)
	ch.WriteDouble(m.ScaleFactor)
	ch.WriteInt32(m.OffsetX)
	ch.WriteInt32(m.OffsetY)
	ch.WriteString(m.URL)
	ch.WriteString(m.InitScript)
}

func (m Evaluate) encode(ch *shm.Channel) { ch.WriteString(m.Code) }

func (Reload) encode(*shm.Channel) {}

func (m Callback) encode(ch *shm.Channel) { ch.WriteString(m.Payload) }

// Encode writes msg as one frame and commits it. If the frame does not fit
// nothing is published and shm.ErrFlowControl is returned; the caller
// decides whether to drop or resend the message.
func Encode(ch *shm.Channel, msg Message) error {
	if want := msg.Kind().Direction(); ch.Direction() != want {
		return fmt.Errorf("%w: %s on %s", ErrWrongDirection, msg.Kind(), ch.Direction())
	}
	ch.WriteUint32(uint32(msg.Kind()))
	msg.encode(ch)
	return ch.Commit()
}

// Decode consumes one frame. Any error is fatal for the link and wraps
// shm.ErrCorrupt.
func Decode(ch *shm.Channel) (Message, error) {
	raw, err := ch.ReadUint32()
	if err != nil {
		return nil, err
	}
	kind := Kind(raw)
	if !kind.valid() || kind.Direction() != ch.Direction() {
		return nil, fmt.Errorf("%w: %w %s on %s", shm.ErrCorrupt, ErrUnknownKind, kind, ch.Direction())
	}

	switch kind {
	case KindInit:
		return decodeInit(ch)
	case KindEvaluate:
		code, err := ch.ReadString()
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		return Evaluate{Code: code}, nil
	case KindReload:
		return Reload{}, nil
	default:
		payload, err := ch.ReadString()
		if err != nil {
			return nil, fmt.Errorf("callback: %w", err)
		}
		return Callback{Payload: payload}, nil
	}
}

func decodeInit(ch *shm.Channel) (Message, error) {
	var (
		m   Init
		err error
	)
	if m.WindowHandle, err = ch.ReadUint64(); err != nil {
		return nil, fmt.Errorf("init window handle: %w", err)
	}
	if m.Width, err = ch.ReadUint32(); err != nil {
		return nil, fmt.Errorf("init width: %w", err)
	}
	if m.Height, err = ch.ReadUint32(); err != nil {
		return nil, fmt.Errorf("init height: %w", err)
	}
	if m.ScaleFactor, err = ch.ReadDouble(); err != nil {
		return nil, fmt.Errorf("init scale factor: %w", err)
	}
	if m.OffsetX, err = ch.ReadInt32(); err != nil {
		return nil, fmt.Errorf("init offset x: %w", err)
	}
	if m.OffsetY, err = ch.ReadInt32(); err != nil {
		return nil, fmt.Errorf("init offset y: %w", err)
	}
	if m.URL, err = ch.ReadString(); err != nil {
		return nil, fmt.Errorf("init url: %w", err)
	}
	if m.InitScript, err = ch.ReadString(); err != nil {
		return nil, fmt.Errorf("init script: %w", err)
	}
	return m, nil
}

// Drain decodes every committed frame and calls fn for each, in order. It
// stops at the first decode or handler error and returns the number of
// messages handled.
func Drain(ch *shm.Channel, fn func(Message) error) (int, error) {
	n := 0
	for ch.HasData() {
		msg, err := Decode(ch)
		if err != nil {
			return n, err
		}
		if err := fn(msg); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
