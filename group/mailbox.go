// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package group

import (
	"context"
	"sync"
)

type mailboxKey struct{ src, tag int }

// A Mailbox holds messages that have been delivered to a member but
// not yet received. Messages are queued by source and tag; each
// queue is FIFO. A Mailbox is safe for concurrent use.
type Mailbox struct {
	mu sync.Mutex
	// waitc is closed (and reset) whenever the mailbox changes;
	// waiters select on it together with their context.
	waitc  chan struct{}
	queues map[mailboxKey][][]byte
	closed bool
}

// Put appends payload p to the queue for (src, tag).
func (m *Mailbox) Put(src, tag int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}
	if m.queues == nil {
		m.queues = make(map[mailboxKey][][]byte)
	}
	k := mailboxKey{src, tag}
	m.queues[k] = append(m.queues[k], p)
	m.broadcast()
	return nil
}

// Take removes and returns the oldest payload queued for (src, tag),
// blocking until one is available, the context is done, or the
// mailbox is closed.
func (m *Mailbox) Take(ctx context.Context, src, tag int) ([]byte, error) {
	k := mailboxKey{src, tag}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if q := m.queues[k]; len(q) > 0 {
			p := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			return p, nil
		}
		if m.closed {
			return nil, ErrShutdown
		}
		if err := m.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Requeue returns payload p to the head of the queue for (src, tag),
// so that it is the next payload taken. It undoes a Take whose
// payload could not be delivered.
func (m *Mailbox) Requeue(src, tag int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShutdown
	}
	if m.queues == nil {
		m.queues = make(map[mailboxKey][][]byte)
	}
	k := mailboxKey{src, tag}
	m.queues[k] = append([][]byte{p}, m.queues[k]...)
	m.broadcast()
	return nil
}

// Close closes the mailbox, waking all waiters. Queued messages are
// discarded.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.queues = nil
	m.broadcast()
	m.mu.Unlock()
}

// broadcast must be called with m.mu held.
func (m *Mailbox) broadcast() {
	if m.waitc != nil {
		close(m.waitc)
		m.waitc = nil
	}
}

// wait must be called with m.mu held; it is released while waiting.
func (m *Mailbox) wait(ctx context.Context) error {
	if m.waitc == nil {
		m.waitc = make(chan struct{})
	}
	waitc := m.waitc
	m.mu.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.mu.Lock()
	return err
}
