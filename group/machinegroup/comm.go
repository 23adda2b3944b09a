// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package machinegroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/mwpair/group"
	"golang.org/x/sync/errgroup"
)

var errWorkerToWorker = errors.E(errors.NotSupported, "machinegroup: workers may only communicate with rank 0")

// DriverComm is the rank 0 communicator. It reaches worker r through
// machine r-1.
type driverComm struct {
	machines []*bigmachine.Machine
	compress bool
	limiter  *limiter.Limiter

	mu     sync.Mutex
	closed bool
}

func newDriverComm(machines []*bigmachine.Machine, compress bool, maxFanout int) *driverComm {
	c := &driverComm{
		machines: machines,
		compress: compress,
		limiter:  limiter.New(),
	}
	c.limiter.Release(maxFanout)
	return c
}

func (c *driverComm) Rank() int { return 0 }
func (c *driverComm) Size() int { return len(c.machines) + 1 }

func (c *driverComm) machine(rank int) (*bigmachine.Machine, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, group.ErrShutdown
	}
	if err := group.CheckRank(rank, c.Size()); err != nil {
		return nil, err
	}
	if rank == 0 {
		return nil, errors.E(errors.NotSupported, "machinegroup: rank 0 cannot message itself")
	}
	return c.machines[rank-1], nil
}

func (c *driverComm) Send(ctx context.Context, v interface{}, dst, tag int) error {
	p, err := group.Encode(v)
	if err != nil {
		return err
	}
	return c.send(ctx, p, dst, tag)
}

func (c *driverComm) send(ctx context.Context, p []byte, dst, tag int) error {
	m, err := c.machine(dst)
	if err != nil {
		return err
	}
	env, err := sealEnvelope(0, tag, p, c.compress)
	if err != nil {
		return err
	}
	if err := m.Call(ctx, "Group.Put", env, nil); err != nil {
		return errors.E(fmt.Sprintf("send to rank %d (%s)", dst, m.Addr), err)
	}
	return nil
}

func (c *driverComm) Receive(ctx context.Context, v interface{}, src, tag int) error {
	m, err := c.machine(src)
	if err != nil {
		return err
	}
	var env envelope
	if err := m.Call(ctx, "Group.Take", takeRequest{Tag: tag}, &env); err != nil {
		return errors.E(fmt.Sprintf("receive from rank %d (%s)", src, m.Addr), err)
	}
	p, err := openEnvelope(env)
	if err != nil {
		return err
	}
	return group.Decode(p, v)
}

// Broadcast encodes v once and sends it to all workers concurrently,
// with at most maxFanout calls in flight.
func (c *driverComm) Broadcast(ctx context.Context, v interface{}, root, tag int) error {
	if root != 0 {
		return errWorkerToWorker
	}
	p, err := group.Encode(v)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for dst := 1; dst < c.Size(); dst++ {
		dst := dst
		g.Go(func() error {
			if err := c.limiter.Acquire(ctx, 1); err != nil {
				return err
			}
			defer c.limiter.Release(1)
			return c.send(ctx, p, dst, tag)
		})
	}
	return g.Wait()
}

func (c *driverComm) Barrier(ctx context.Context) error {
	return group.LinearBarrier(ctx, c)
}

func (c *driverComm) Shutdown() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// WorkerComm is a worker's communicator. Messages from the driver
// arrive in the inbox via Group.Put; messages to the driver wait in
// the outbox until the driver collects them via Group.Take.
type workerComm struct {
	rank, size int
	compress   bool

	inbox, outbox group.Mailbox
}

func (c *workerComm) Rank() int { return c.rank }
func (c *workerComm) Size() int { return c.size }

func (c *workerComm) Send(ctx context.Context, v interface{}, dst, tag int) error {
	if err := group.CheckRank(dst, c.size); err != nil {
		return err
	}
	if dst != 0 {
		return errWorkerToWorker
	}
	p, err := group.Encode(v)
	if err != nil {
		return err
	}
	return c.outbox.Put(c.rank, tag, p)
}

func (c *workerComm) Receive(ctx context.Context, v interface{}, src, tag int) error {
	if err := group.CheckRank(src, c.size); err != nil {
		return err
	}
	if src != 0 {
		return errWorkerToWorker
	}
	p, err := c.inbox.Take(ctx, 0, tag)
	if err != nil {
		return err
	}
	return group.Decode(p, v)
}

func (c *workerComm) Broadcast(ctx context.Context, v interface{}, root, tag int) error {
	return group.LinearBroadcast(ctx, c, v, root, tag)
}

func (c *workerComm) Barrier(ctx context.Context) error {
	return group.LinearBarrier(ctx, c)
}

func (c *workerComm) Shutdown() error {
	c.inbox.Close()
	c.outbox.Close()
	return nil
}
