// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pairflags

import (
	"context"
	"net/http"

	"github.com/grailbio/bigmachine"
	"github.com/grailbio/mwpair/group/machinegroup"
	"github.com/grailbio/mwpair/group/memgroup"
)

// A Launcher runs a program on every member of a group of a
// coordinator and a number of workers.
type Launcher interface {
	// Run runs the launcher's program on a group of nworker workers
	// and a coordinator (rank 0). Run returns the coordinator's error.
	Run(ctx context.Context, nworker int) error
	// HandleDebug registers the launcher's diagnostic handlers, if
	// any, on the provided mux.
	HandleDebug(mux *http.ServeMux)
	// Shutdown releases the launcher's resources.
	Shutdown()
}

// NewLauncher returns a launcher for program. If system is nil, the
// program's group is run in-process, with each member in its own
// goroutine. Otherwise the coordinator runs in the calling process
// and workers run on machines provided by the bigmachine system.
// In the latter case NewLauncher must be called by every process of
// the binary, before any other work is done: on worker machines,
// NewLauncher does not return.
func NewLauncher(system bigmachine.System, program machinegroup.Program, opts ...machinegroup.Option) Launcher {
	if system == nil {
		return &memLauncher{program}
	}
	return machinegroup.Start(system, program, opts...)
}

type memLauncher struct {
	program machinegroup.Program
}

func (l *memLauncher) Run(ctx context.Context, nworker int) error {
	return memgroup.Run(ctx, nworker+1, l.program)
}

func (*memLauncher) HandleDebug(*http.ServeMux) {}

func (*memLauncher) Shutdown() {}
