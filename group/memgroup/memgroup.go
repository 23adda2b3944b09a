// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package memgroup implements an in-process group.Comm. Each rank is
// typically run in its own goroutine; messages are encoded on send so
// that ranks never share memory, just as if they were separate
// processes. Memgroup is used for testing and for the "internal"
// system in command line tools.
package memgroup

import (
	"context"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/mwpair/group"
	"golang.org/x/sync/errgroup"
)

// A Group is a set of in-process members.
type Group struct {
	mu       sync.Mutex
	shutdown bool
	members  []*member
}

// New returns a new group of n members.
func New(n int) *Group {
	if n <= 0 {
		log.Panicf("memgroup.New: n <= 0 (%d)", n)
	}
	g := &Group{members: make([]*member, n)}
	for i := range g.members {
		g.members[i] = &member{group: g, rank: i}
	}
	return g
}

// Size returns the number of members in the group.
func (g *Group) Size() int { return len(g.members) }

// Comm returns the communicator for the provided rank.
func (g *Group) Comm(rank int) group.Comm {
	if err := group.CheckRank(rank, len(g.members)); err != nil {
		log.Panicf("memgroup.Comm: %v", err)
	}
	return g.members[rank]
}

// Shutdown shuts down every member of the group. Blocked receives
// return group.ErrShutdown.
func (g *Group) Shutdown() {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return
	}
	g.shutdown = true
	g.mu.Unlock()
	for _, m := range g.members {
		m.inbox.Close()
	}
}

// Run runs program once per rank on a fresh group of n members, each
// in its own goroutine, and waits for all of them to return. The
// first error cancels the context passed to the other members and
// is returned. The group is shut down once all members return.
func Run(ctx context.Context, n int, program func(ctx context.Context, comm group.Comm) error) error {
	g := New(n)
	defer g.Shutdown()
	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < n; rank++ {
		comm := g.Comm(rank)
		eg.Go(func() error {
			if err := program(ctx, comm); err != nil {
				log.Debug.Printf("memgroup: rank %d: %v", comm.Rank(), err)
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

type member struct {
	group *Group
	rank  int
	inbox group.Mailbox

	mu     sync.Mutex
	closed bool
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return len(m.group.members) }

func (m *member) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *member) Send(ctx context.Context, v interface{}, dst, tag int) error {
	if m.isClosed() {
		return group.ErrShutdown
	}
	if err := group.CheckRank(dst, m.Size()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := group.Encode(v)
	if err != nil {
		return err
	}
	return m.group.members[dst].inbox.Put(m.rank, tag, p)
}

func (m *member) Receive(ctx context.Context, v interface{}, src, tag int) error {
	if m.isClosed() {
		return group.ErrShutdown
	}
	if err := group.CheckRank(src, m.Size()); err != nil {
		return err
	}
	p, err := m.inbox.Take(ctx, src, tag)
	if err != nil {
		return err
	}
	return group.Decode(p, v)
}

func (m *member) Broadcast(ctx context.Context, v interface{}, root, tag int) error {
	return group.LinearBroadcast(ctx, m, v, root, tag)
}

func (m *member) Barrier(ctx context.Context) error {
	return group.LinearBarrier(ctx, m)
}

func (m *member) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.inbox.Close()
	return nil
}
