// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package machinegroup implements a group.Comm on top of bigmachine.
// The driver process is rank 0; each bigmachine machine is a worker
// with rank 1 through n.
//
// Because bigmachine runs workers by re-executing the driver's
// binary, and because bigmachine.Start does not return on worker
// processes, programs must be registered before the group is
// started:
//
//	func main() {
//		driver := machinegroup.Start(bigmachine.Local, program)
//		defer driver.Shutdown()
//		if err := driver.Run(ctx, 4); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The program is then run once on the driver, with the rank 0
// communicator, and once on each worker machine as soon as it has
// been assigned a rank. Only the driver may address workers: worker to
// worker traffic is not supported.
package machinegroup

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/mwpair/group"
	"golang.org/x/sync/errgroup"
)

// Program is the code run on every rank of a group.
type Program func(ctx context.Context, comm group.Comm) error

// DefaultMaxFanout is the default number of concurrent calls made by
// the driver when broadcasting.
const DefaultMaxFanout = 16

// retryPolicy is used when assigning ranks to freshly started
// machines.
var retryPolicy = retry.MaxTries(retry.Backoff(500*time.Millisecond, 5*time.Second, 1.5), 5)

var (
	programMu sync.Mutex
	program   Program
)

func setProgram(p Program) {
	programMu.Lock()
	program = p
	programMu.Unlock()
}

func registeredProgram() Program {
	programMu.Lock()
	defer programMu.Unlock()
	return program
}

// A Driver manages the machines of a group from the driver process.
type Driver struct {
	b         *bigmachine.B
	compress  bool
	maxFanout int
}

// An Option configures a Driver.
type Option func(d *Driver)

// Compress turns on zstd compression of large message payloads in
// both directions.
var Compress Option = func(d *Driver) {
	d.compress = true
}

// MaxFanout bounds the number of concurrent calls made by the driver
// when broadcasting.
func MaxFanout(n int) Option {
	if n <= 0 {
		panic("machinegroup.MaxFanout: n <= 0")
	}
	return func(d *Driver) {
		d.maxFanout = n
	}
}

// Start registers the provided program and starts bigmachine with the
// provided system. On worker processes, Start does not return: the
// process serves bigmachine requests until the driver shuts down.
// Start should be called from main, before any other work is done.
func Start(system bigmachine.System, prog Program, opts ...Option) *Driver {
	setProgram(prog)
	d := &Driver{maxFanout: DefaultMaxFanout}
	for _, opt := range opts {
		opt(d)
	}
	d.b = bigmachine.Start(system)
	return d
}

// Run starts nworker machines, assigns them ranks, and runs the
// registered program on rank 0. Run returns the program's error. The
// workers run their own instances of the program; their errors are
// logged on the worker.
func (d *Driver) Run(ctx context.Context, nworker int) error {
	comm, err := d.Open(ctx, nworker)
	if err != nil {
		return err
	}
	defer comm.Shutdown()
	prog := registeredProgram()
	if prog == nil {
		return errors.E(errors.Precondition, "machinegroup: no program registered")
	}
	return prog(ctx, comm)
}

// Open starts nworker machines and assigns them ranks, returning the
// driver's (rank 0) communicator. Each worker starts running the
// registered program as soon as it has joined.
func (d *Driver) Open(ctx context.Context, nworker int) (group.Comm, error) {
	if nworker <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("machinegroup: invalid worker count %d", nworker))
	}
	machines, err := d.b.Start(ctx, nworker, bigmachine.Services{"Group": &service{}})
	if err != nil {
		return nil, err
	}
	size := len(machines) + 1
	g, gctx := errgroup.WithContext(ctx)
	for i := range machines {
		m, rank := machines[i], i+1
		g.Go(func() error {
			select {
			case <-m.Wait(bigmachine.Running):
			case <-gctx.Done():
				return gctx.Err()
			}
			if err := m.Err(); err != nil {
				return errors.E(fmt.Sprintf("machine %s failed to start", m.Addr), err)
			}
			req := joinRequest{Rank: rank, Size: size, Compress: d.compress}
			if err := join(gctx, m, req); err != nil {
				return errors.E(fmt.Sprintf("machine %s: join", m.Addr), err)
			}
			log.Printf("machinegroup: machine %s joined as rank %d", m.Addr, rank)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, m := range machines {
			m.Cancel()
		}
		return nil, err
	}
	return newDriverComm(machines, d.compress, d.maxFanout), nil
}

func join(ctx context.Context, m *bigmachine.Machine, req joinRequest) error {
	for retries := 0; ; retries++ {
		err := m.Call(ctx, "Group.Join", req, nil)
		if err == nil || !(errors.Is(errors.Net, err) || errors.IsTemporary(err)) {
			return err
		}
		log.Printf("machinegroup: join %s (rank %d): %v; retrying", m.Addr, req.Rank, err)
		if werr := retry.Wait(ctx, retryPolicy, retries); werr != nil {
			return err
		}
	}
}

// HandleDebug registers bigmachine's diagnostic handlers on the
// provided mux.
func (d *Driver) HandleDebug(mux *http.ServeMux) {
	d.b.HandleDebug(mux)
}

// Shutdown tears down all machines started by the driver.
func (d *Driver) Shutdown() {
	d.b.Shutdown()
}
