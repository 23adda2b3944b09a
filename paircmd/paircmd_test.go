// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package paircmd

import (
	"context"
	"testing"

	"github.com/grailbio/mwpair"
	"github.com/grailbio/mwpair/example"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/pairflags"
	"github.com/grailbio/testutil/expect"
)

func TestInit(t *testing.T) {
	var pf pairflags.Flags
	if err := pf.System.Set("internal"); err != nil {
		t.Fatal(err)
	}
	var result []float64
	launcher := Init(pf, func(ctx context.Context, comm group.Comm) error {
		return mwpair.Run(ctx, comm, example.AddMax, 1, example.Arange(5), func(ctx context.Context, sess *mwpair.Session) error {
			var err error
			result, err = sess.Eval(ctx, []float64{2})
			return err
		}, mwpair.Status(Status()))
	})
	defer launcher.Shutdown()
	if err := launcher.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	expect.EQ(t, result, []float64{2, 3, 4, 5, 6})
	if len(Status().Groups()) == 0 {
		t.Error("session did not report status")
	}
}
