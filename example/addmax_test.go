// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package example

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/mwpair"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/group/memgroup"
	"github.com/grailbio/mwpair/pairtest"
	"github.com/grailbio/testutil/expect"
)

func TestAddMax(t *testing.T) {
	results := pairtest.Eval(t, 3, AddMax, 3, Arange(12),
		[]float64{0.1, 0.0, -0.1},
		[]float64{-1.0, 0.0, 0.2},
	)
	if got, want := len(results), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for round, addend := range []float64{0.1, 0.2} {
		want := make([]float64, 12)
		for i := range want {
			want[i] = float64(i) + addend
		}
		expect.EQ(t, results[round], want)
	}
}

func format(vals []float64) string {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = fmt.Sprintf("%.1f", v)
	}
	return "[" + strings.Join(strs, " ") + "]"
}

func ExampleAddMax() {
	ctx := context.Background()
	err := memgroup.Run(ctx, 4, func(ctx context.Context, comm group.Comm) error {
		sess, err := mwpair.New(ctx, comm, AddMax, 3, Arange(12))
		if err != nil {
			return err
		}
		if sess.Role() == mwpair.Worker {
			return sess.Serve(ctx)
		}
		show := sess.ConfineTo(func(vals []float64) {
			fmt.Println(format(vals))
		}).(func([]float64))
		for _, ins := range [][]float64{{0.1, 0.0, -0.1}, {-1.0, 0.0, 0.2}} {
			res, err := sess.Eval(ctx, ins)
			if err != nil {
				return err
			}
			show(res)
		}
		return sess.Terminate(ctx)
	})
	if err != nil {
		fmt.Println(err)
	}
	// Output:
	// [0.1 1.1 2.1 3.1 4.1 5.1 6.1 7.1 8.1 9.1 10.1 11.1]
	// [0.2 1.2 2.2 3.2 4.2 5.2 6.2 7.2 8.2 9.2 10.2 11.2]
}
