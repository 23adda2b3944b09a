// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairflags_test

import (
	"context"
	"flag"
	"sync/atomic"
	"testing"

	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/pairflags"
)

func TestProviders(t *testing.T) {
	internal := &pairflags.Internal{}
	if got, want := internal.Name(), "internal"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if internal.System() != nil {
		t.Error("internal provider has a system")
	}
	local := &pairflags.Local{}
	if local.System() == nil {
		t.Error("local provider has no system")
	}
	ec2 := &pairflags.EC2{}
	if got, want := ec2.Name(), "EC2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := ec2.Set("x=y"); err == nil {
		t.Errorf("expected an error")
	}
	if err := ec2.Set("dataspace=122"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ec2.System() == nil {
		t.Error("ec2 provider has no system")
	}
}

func TestFlags(t *testing.T) {
	tf := &pairflags.Flags{}
	if err := tf.System.Set("local"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.System.Set("local:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &pairflags.Flags{}
	if err := tf.System.Set("internal"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.System.Set("internal:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	tf = &pairflags.Flags{}
	if err := tf.System.Set("ec2"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := tf.System.Set("ec2:an=option"); err == nil {
		t.Errorf("expected an error")
	}
	if err := tf.System.Set("ec2:dataspace=200,rootsize=10"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := tf.System.String(), "EC2:dataspace=200,rootsize=10"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestProfile(t *testing.T) {
	pairflags.RegisterSystemProfile("test-profile", "ec2:instance=m5.xlarge")
	_, profiles := pairflags.ProvidersAndProfiles()
	if got, want := profiles["test-profile"], "ec2:instance=m5.xlarge"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var sys pairflags.SystemFlag
	if err := sys.Set("test-profile:ondemand=true"); err != nil {
		t.Fatal(err)
	}
	if got, want := sys.String(), "EC2:instance=m5.xlarge,ondemand=true"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegisterFlags(t *testing.T) {
	var (
		fs = flag.NewFlagSet("test", flag.ContinueOnError)
		pf pairflags.Flags
	)
	pairflags.RegisterFlags(fs, &pf, "pair-")
	if err := fs.Parse([]string{"-pair-workers=3", "-pair-compress"}); err != nil {
		t.Fatal(err)
	}
	if got, want := pf.System.String(), "internal"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if pf.System.Specified {
		t.Error("system should not be specified")
	}
	if got, want := pf.NumWorkers(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(pf.GroupOptions()), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInternalLauncher(t *testing.T) {
	var ran int32
	var pf pairflags.Flags
	if err := pf.System.Set("internal"); err != nil {
		t.Fatal(err)
	}
	pf.Workers = 3
	launcher := pf.Launcher(func(ctx context.Context, comm group.Comm) error {
		atomic.AddInt32(&ran, 1)
		return comm.Barrier(ctx)
	})
	defer launcher.Shutdown()
	if err := launcher.Run(context.Background(), pf.NumWorkers()); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt32(&ran), int32(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
