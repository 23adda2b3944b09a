// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/grailbio/mwpair"
	"github.com/grailbio/mwpair/example"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/pairtest"
	"github.com/grailbio/mwpair/typecheck"
)

func TestConfineTo(t *testing.T) {
	var calls int
	incr := func(n int) (int, error) {
		calls += n
		return calls, fmt.Errorf("called")
	}
	coord := mwpair.ConfineTo(mwpair.Coordinator, incr).(func(int) (int, error))
	worker := mwpair.ConfineTo(mwpair.Worker, incr).(func(int) (int, error))

	n, err := coord(2)
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err == nil {
		t.Error("expected error")
	}
	n, err = worker(3)
	if got, want := n, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if got, want := calls, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConfineToVariadic(t *testing.T) {
	join := func(sep string, parts ...string) string {
		return strings.Join(parts, sep)
	}
	fn := mwpair.ConfineTo(mwpair.Coordinator, join).(func(string, ...string) string)
	if got, want := fn(",", "a", "b", "c"), "a,b,c"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := fn("-"), ""; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConfineToNotFunc(t *testing.T) {
	defer func() {
		e := recover()
		if e == nil {
			t.Fatal("expected panic")
		}
		err, ok := e.(*typecheck.Error)
		if !ok {
			t.Fatalf("got %T, want *typecheck.Error", e)
		}
		if !strings.HasSuffix(err.File, "role_test.go") {
			t.Errorf("error reported at %s:%d", err.File, err.Line)
		}
	}()
	mwpair.ConfineTo(mwpair.Coordinator, 123)
}

func TestSessionConfine(t *testing.T) {
	var (
		confineCalls   int32
		confineToCalls int32
		errCalls       int32
		workerCalls    int32
		otherwiseCalls int32
	)
	errs := pairtest.Run(t, 4, func(ctx context.Context, comm group.Comm) error {
		sess, err := mwpair.New(ctx, comm, example.AddMax, 1, example.Arange(8))
		if err != nil {
			return err
		}
		confined := sess.Confine(func() { atomic.AddInt32(&confineCalls, 1) })
		confinedErr := sess.ConfineErr(func() error {
			atomic.AddInt32(&errCalls, 1)
			return fmt.Errorf("coordinator error")
		})
		add := sess.ConfineTo(func(n int32) int32 {
			return atomic.AddInt32(&confineToCalls, n)
		}).(func(int32) int32)
		onWorkers := sess.ConfineToRanks(
			func(rank int) bool { return rank != 0 },
			func() { atomic.AddInt32(&workerCalls, 1) },
			func() { atomic.AddInt32(&otherwiseCalls, 1) },
		).(func())

		confined()
		err = confinedErr()
		add(1)
		onWorkers()
		if sess.Role() == mwpair.Worker {
			if err != nil {
				t.Errorf("worker %d: unexpected error %v", sess.Rank(), err)
			}
			return sess.Serve(ctx)
		}
		if err == nil {
			t.Error("expected error on coordinator")
		}
		return sess.Terminate(ctx)
	})
	for rank, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", rank, err)
		}
	}
	for _, c := range []struct {
		name      string
		got, want int32
	}{
		{"Confine", confineCalls, 1},
		{"ConfineErr", errCalls, 1},
		{"ConfineTo", confineToCalls, 1},
		{"ConfineToRanks", workerCalls, 3},
		{"ConfineToRanks otherwise", otherwiseCalls, 1},
	} {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestConfineToRanksMismatch(t *testing.T) {
	errs := pairtest.Run(t, 2, func(ctx context.Context, comm group.Comm) error {
		return mwpair.Run(ctx, comm, example.AddMax, 1, []float64{1}, func(ctx context.Context, sess *mwpair.Session) error {
			defer func() {
				if e := recover(); e == nil {
					t.Error("expected panic")
				}
			}()
			sess.ConfineToRanks(nil, func(int) {}, func(string) {})
			return nil
		})
	})
	for rank, err := range errs {
		if err != nil {
			t.Errorf("rank %d: %v", rank, err)
		}
	}
}

func TestRoleString(t *testing.T) {
	for _, c := range []struct {
		role mwpair.Role
		want string
	}{
		{mwpair.Coordinator, "coordinator"},
		{mwpair.Worker, "worker"},
		{mwpair.Role(5), "Role(5)"},
	} {
		if got := c.role.String(); got != c.want {
			t.Errorf("got %v, want %v", got, c.want)
		}
	}
}
