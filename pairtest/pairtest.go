// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pairtest provides utilities for testing mwpair programs on
// an in-memory group. The utilities here are not optimized for
// performance; they are strictly intended for unit testing.
package pairtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/mwpair"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/group/memgroup"
)

// Timeout bounds the time allowed for a test group to complete.
// Protocols that deadlock are reported as test failures instead of
// hanging the test binary.
var Timeout = time.Minute

// Run runs program on every member of a fresh in-memory group of n
// members and returns each member's error, indexed by rank. Unlike
// memgroup.Run, an error on one member does not cancel the others. Run
// fails the test if the group does not complete within Timeout.
func Run(t testing.TB, n int, program func(ctx context.Context, comm group.Comm) error) []error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	g := memgroup.New(n)
	defer g.Shutdown()
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for rank := 0; rank < n; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			errs[rank] = program(ctx, g.Comm(rank))
		}()
	}
	wg.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("group of %d did not complete within %s", n, Timeout)
	}
	return errs
}

// Eval runs a session with the provided function, instruction size,
// and data on a group of nworker workers and a coordinator, evaluates
// each of the provided instructions in turn, and returns the results.
// Errors are reported as fatal to the provided t instance.
func Eval(t testing.TB, nworker int, fn *mwpair.FuncValue, instructionSize int, data []float64, instructions ...[]float64) [][]float64 {
	t.Helper()
	var results [][]float64
	errs := Run(t, nworker+1, func(ctx context.Context, comm group.Comm) error {
		return mwpair.Run(ctx, comm, fn, instructionSize, data, func(ctx context.Context, sess *mwpair.Session) error {
			for _, ins := range instructions {
				res, err := sess.Eval(ctx, ins)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return nil
		})
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	return results
}
