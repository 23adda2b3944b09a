// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import "fmt"

// Protocol tags. The result tag is configurable (see ResultTag); the
// others are fixed.
const (
	// DefaultResultTag is the default tag under which workers return
	// partial results.
	DefaultResultTag = 0xda7a

	tagSetup       = 0x5e70
	tagAck         = 0x5e71
	tagInstruction = 0x1257
)

// SetupMessage is sent by the coordinator to each worker during
// session construction. It carries the worker's slice of the data.
// A non-empty Err means that the coordinator rejected the session;
// the other fields are then unset.
type setupMessage struct {
	Func            int
	InstructionSize int
	ResultTag       int
	Worker          int
	// Offset is the index of the slice's first element in the full
	// data array, whose length is Len.
	Offset, Len int
	Data        []float64
	Fingerprint uint64
	Err         string
}

// AckMessage is a worker's reply to a setupMessage. A non-empty Err
// means that the worker rejected the session.
type ackMessage struct {
	Worker int
	Err    string
}

type messageKind int

const (
	// Kinds start at 1 so that a zero (missing) kind is detected as a
	// protocol error.
	kindInstruction messageKind = iota + 1
	kindTerminate
)

func (k messageKind) String() string {
	switch k {
	case kindInstruction:
		return "instruction"
	case kindTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("messageKind(%d)", int(k))
	}
}

// Message is broadcast by the coordinator at the start of every
// protocol round.
type message struct {
	Kind        messageKind
	Round       uint64
	Instruction []float64
}

// PartialResult is returned by each worker at the end of a round. A
// non-empty Err reports a worker-side failure; Values must then be
// ignored.
type partialResult struct {
	Worker int
	Round  uint64
	Values []float64
	Err    string
}
