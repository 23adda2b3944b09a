// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package machinegroup

import (
	"bytes"
	"context"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestServiceTakeCanceled(t *testing.T) {
	const tag = 7
	s := &service{comm: &workerComm{rank: 1, size: 2}}
	if err := s.comm.outbox.Put(1, tag, []byte("partial")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var env envelope
	if err := s.Take(ctx, takeRequest{Tag: tag}, &env); err != context.Canceled {
		t.Fatalf("got %v, want %v", err, context.Canceled)
	}
	// The message must survive the abandoned call.
	if err := s.Take(context.Background(), takeRequest{Tag: tag}, &env); err != nil {
		t.Fatal(err)
	}
	p, err := openEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p, []byte("partial"); !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := env.Src, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestServiceNotJoined(t *testing.T) {
	var (
		s   service
		env envelope
	)
	if err := s.Take(context.Background(), takeRequest{Tag: 1}, &env); !errors.Is(errors.Precondition, err) {
		t.Errorf("got %v, want precondition error", err)
	}
}
