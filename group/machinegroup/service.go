// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package machinegroup

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(&service{})
}

type joinRequest struct {
	Rank, Size int
	Compress   bool
}

type takeRequest struct {
	Tag int
}

// An envelope carries a single message between the driver and a
// worker.
type envelope struct {
	Src, Tag   int
	Payload    []byte
	Compressed bool
}

// Service is the bigmachine service installed on every worker
// machine. It holds the worker's mailboxes and runs the registered
// program once the driver has assigned the worker a rank.
type service struct {
	// Exported satisfies gob, which requires at least one exported
	// field.
	Exported struct{}

	b *bigmachine.B

	mu   sync.Mutex
	comm *workerComm
}

func (s *service) Init(b *bigmachine.B) error {
	s.b = b
	return nil
}

// Join assigns the worker its rank and starts the registered program.
func (s *service) Join(ctx context.Context, req joinRequest, _ *struct{}) error {
	if req.Rank <= 0 || req.Rank >= req.Size {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid worker rank %d in group of %d", req.Rank, req.Size))
	}
	prog := registeredProgram()
	if prog == nil {
		return errors.E(errors.Precondition, errors.Fatal, "no program registered; machinegroup.Start must be called from main")
	}
	s.mu.Lock()
	if s.comm != nil {
		s.mu.Unlock()
		if s.comm.rank == req.Rank {
			// A retried join.
			return nil
		}
		return errors.E(errors.Exists, fmt.Sprintf("worker already joined as rank %d", s.comm.rank))
	}
	comm := &workerComm{rank: req.Rank, size: req.Size, compress: req.Compress}
	s.comm = comm
	s.mu.Unlock()
	go func() {
		if err := prog(context.Background(), comm); err != nil {
			log.Error.Printf("machinegroup: rank %d: program: %v", comm.rank, err)
			return
		}
		log.Printf("machinegroup: rank %d: program done", comm.rank)
	}()
	return nil
}

// Put delivers a message from the driver into the worker's inbox.
func (s *service) Put(ctx context.Context, env envelope, _ *struct{}) error {
	comm, err := s.joined()
	if err != nil {
		return err
	}
	p, err := openEnvelope(env)
	if err != nil {
		return err
	}
	return comm.inbox.Put(env.Src, env.Tag, p)
}

// Take blocks until the worker has sent a message with the requested
// tag to the driver, and returns it.
func (s *service) Take(ctx context.Context, req takeRequest, reply *envelope) error {
	comm, err := s.joined()
	if err != nil {
		return err
	}
	p, err := comm.outbox.Take(ctx, comm.rank, req.Tag)
	if err != nil {
		return err
	}
	// The caller has given up on this call, so the reply would be
	// dropped: keep the message for the next Take. A reply lost after
	// this point means the driver abandoned the round.
	if err := ctx.Err(); err != nil {
		if rerr := comm.outbox.Requeue(comm.rank, req.Tag, p); rerr != nil {
			log.Error.Printf("machinegroup: rank %d: requeue tag %#x: %v", comm.rank, req.Tag, rerr)
		}
		return err
	}
	env, err := sealEnvelope(comm.rank, req.Tag, p, comm.compress)
	if err != nil {
		return err
	}
	*reply = env
	return nil
}

func (s *service) joined() (*workerComm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comm == nil {
		return nil, errors.E(errors.Precondition, "worker has not joined a group")
	}
	return s.comm, nil
}
