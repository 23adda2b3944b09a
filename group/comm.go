// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package group defines the transport used by mwpair sessions: a
// fixed, ordered group of processes ("ranks") that exchange tagged
// messages point to point. Implementations live in subpackages:
// memgroup runs all ranks in a single process, and machinegroup runs
// workers on bigmachine machines.
//
// The interface is modeled on MPI: a program is run once per rank,
// each instance is handed a Comm, and ranks agree on their identity
// for the lifetime of the group. All calls block; callers use
// goroutines for concurrency.
package group

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Reserved tags. User protocols should use tags in [0, TagReserved).
const (
	// TagReserved is the lowest tag reserved for internal use.
	TagReserved = 1 << 30
	// TagBroadcast is the tag used by LinearBroadcast when the caller
	// does not supply one.
	TagBroadcast = TagReserved + iota
	// TagBarrier is the tag used by LinearBarrier.
	TagBarrier
)

// Comm is a member's handle onto a process group.
type Comm interface {
	// Rank returns the member's rank, 0 <= Rank() < Size().
	Rank() int
	// Size returns the number of members in the group. Size never
	// changes for the lifetime of the group.
	Size() int

	// Send transmits v to member dst under the provided tag. Values
	// are encoded (see Encode) so that the sender may reuse v as
	// soon as Send returns.
	Send(ctx context.Context, v interface{}, dst, tag int) error
	// Receive blocks until a message with the provided tag arrives
	// from member src, and decodes it into v, which must be a
	// pointer. Messages from the same source and tag are received
	// in the order they were sent.
	Receive(ctx context.Context, v interface{}, src, tag int) error
	// Broadcast sends v from member root to every other member. On
	// root, v is the value to send; elsewhere v is a pointer into
	// which the value is decoded.
	Broadcast(ctx context.Context, v interface{}, root, tag int) error
	// Barrier returns once every member of the group has entered
	// Barrier.
	Barrier(ctx context.Context) error

	// Shutdown releases the member's resources. After Shutdown, all
	// further calls fail. Shutdown is idempotent.
	Shutdown() error
}

// ErrShutdown is returned by operations on a group that has been
// shut down.
var ErrShutdown = errors.E(errors.Unavailable, "group shut down")

// CheckRank returns an error if rank is not a valid member of a group
// of the provided size.
func CheckRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return errors.E(errors.Invalid, fmt.Sprintf("rank %d out of range [0, %d)", rank, size))
	}
	return nil
}
