// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package group

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// LinearBroadcast implements Comm.Broadcast in terms of Send and
// Receive: the root sends v to each other member in rank order.
// It is suitable for the small groups and small messages of a
// coordinator/worker protocol.
func LinearBroadcast(ctx context.Context, comm Comm, v interface{}, root, tag int) error {
	if err := CheckRank(root, comm.Size()); err != nil {
		return err
	}
	if comm.Rank() != root {
		return comm.Receive(ctx, v, root, tag)
	}
	for dst := 0; dst < comm.Size(); dst++ {
		if dst == root {
			continue
		}
		if err := comm.Send(ctx, v, dst, tag); err != nil {
			return errors.E(fmt.Sprintf("broadcast to %d", dst), err)
		}
	}
	return nil
}

// LinearBarrier implements Comm.Barrier in terms of Send and Receive,
// using rank 0 as the gathering point: every other member checks in
// with rank 0, which releases them once all have arrived.
func LinearBarrier(ctx context.Context, comm Comm) error {
	var token struct{ Rank int }
	if comm.Rank() != 0 {
		token.Rank = comm.Rank()
		if err := comm.Send(ctx, token, 0, TagBarrier); err != nil {
			return err
		}
		return comm.Receive(ctx, &token, 0, TagBarrier)
	}
	for src := 1; src < comm.Size(); src++ {
		if err := comm.Receive(ctx, &token, src, TagBarrier); err != nil {
			return err
		}
	}
	for dst := 1; dst < comm.Size(); dst++ {
		if err := comm.Send(ctx, token, dst, TagBarrier); err != nil {
			return err
		}
	}
	return nil
}
