// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/stats"
	"golang.org/x/sync/errgroup"
)

// nextSessionIndex is the index of the next session created by New.
// It is used to name diagnostic dumps.
var nextSessionIndex int32

// Session is one member's view of a coordinator/worker evaluation
// pair. Every member of a group constructs a session with New, using
// the same function and instruction size. The coordinator's
// session evaluates instructions with Eval and finally releases the
// workers with Terminate; each worker's session serves instructions
// with Serve until it is terminated:
//
//	sess, err := mwpair.New(ctx, comm, fn, 3, data)
//	if err != nil {
//		return err
//	}
//	if sess.Role() == mwpair.Worker {
//		return sess.Serve(ctx)
//	}
//	result, err := sess.Eval(ctx, []float64{0.1, 0, -0.1})
//	...
//	return sess.Terminate(ctx)
//
// Run packages this pattern.
//
// The data is partitioned once, when the session is created; every
// round reuses the same partition. A Session is not safe for
// concurrent use: rounds are strictly sequential.
type Session struct {
	comm            group.Comm
	fn              *FuncValue
	instructionSize int
	coordinator     int
	resultTag       int
	role            Role
	index           int32

	// Coordinator state.
	n          int
	ranges     []Range
	round      uint64
	terminated bool
	// err is set when a round fails; the session may not be used for
	// further rounds.
	err error

	// Worker state.
	worker int
	offset int
	slice  []float64
	served bool

	stats   *stats.Map
	status  *status.Status
	group   *status.Group
	eventer eventlog.Eventer
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// CoordinatorRank configures the rank of the coordinator. The default
// is 0. All members must agree on the coordinator's rank.
func CoordinatorRank(rank int) Option {
	return func(s *Session) {
		s.coordinator = rank
	}
}

// ResultTag configures the tag under which workers return partial
// results. The default is DefaultResultTag.
func ResultTag(tag int) Option {
	return func(s *Session) {
		s.resultTag = tag
	}
}

// Status configures the session with a status object to which the
// progress of evaluation rounds is reported. Only the coordinator
// reports status.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Eventer configures the session with an Eventer that will be used to log
// session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// New creates a new session on the group member represented by comm.
// Every member of the group must call New with the same function,
// instruction size, and options. Only the coordinator's data is
// partitioned: workers may pass nil data, or the same data as the
// coordinator, in which case it is checked against the coordinator's.
//
// On the coordinator, New partitions data among the workers, sends
// each worker its slice, and returns once every worker has accepted
// the session. On a worker, New receives and validates the worker's
// slice and returns a session whose Serve method must then be called.
//
// New returns a configuration error on every member if the group has
// no workers or the coordinator rank is out of range. Any other
// invalid parameter on any member (a nil fn, a non-positive
// instructionSize, a reserved result tag, or empty data on the
// coordinator) rejects the session; so does a worker whose function,
// instruction size, result tag, or data differs from the
// coordinator's. A rejection is reported as a configuration error on
// the coordinator and on the rejecting workers.
func New(ctx context.Context, comm group.Comm, fn *FuncValue, instructionSize int, data []float64, opts ...Option) (*Session, error) {
	s := &Session{
		comm:            comm,
		fn:              fn,
		instructionSize: instructionSize,
		resultTag:       DefaultResultTag,
		index:           atomic.AddInt32(&nextSessionIndex, 1) - 1,
		stats:           stats.NewMap(),
		eventer:         eventlog.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.checkGroup(); err != nil {
		return nil, err
	}
	var err error
	if comm.Rank() == s.coordinator {
		s.role = Coordinator
		err = s.setupCoordinator(ctx, data)
	} else {
		s.role = Worker
		err = s.setupWorker(ctx, data)
	}
	if err != nil {
		return nil, err
	}
	s.eventer.Event("mwpair:sessionStart",
		"role", s.role.String(),
		"rank", comm.Rank(),
		"workers", s.Workers(),
		"instructionSize", instructionSize,
		"dataSize", len(data))
	return s, nil
}

// checkGroup validates the parameters that every member can check
// without communicating.
func (s *Session) checkGroup() error {
	if s.comm.Size() < 2 {
		return configurationError(fmt.Sprintf("no workers in group of size %d", s.comm.Size()))
	}
	if err := group.CheckRank(s.coordinator, s.comm.Size()); err != nil {
		return configurationError("coordinator rank", err)
	}
	return nil
}

// checkLocal describes the first invalid member-local parameter, or
// returns an empty string.
func (s *Session) checkLocal() string {
	switch {
	case s.fn == nil:
		return "nil function"
	case s.instructionSize <= 0:
		return fmt.Sprintf("invalid instruction size %d", s.instructionSize)
	case s.resultTag < 0 || s.resultTag >= group.TagReserved:
		return fmt.Sprintf("result tag %#x out of range", s.resultTag)
	case s.resultTag == tagSetup || s.resultTag == tagAck || s.resultTag == tagInstruction:
		return fmt.Sprintf("result tag %#x is reserved", s.resultTag)
	}
	return ""
}

func (s *Session) setupCoordinator(ctx context.Context, data []float64) error {
	nworker := s.Workers()
	problem := s.checkLocal()
	if problem == "" && len(data) == 0 {
		problem = "empty data"
	}
	if problem != "" {
		// The workers are waiting for their setup; release them.
		err := traverse.Each(nworker, func(w int) error {
			return s.comm.Send(ctx, setupMessage{Worker: w, Err: problem}, s.rankOf(w), tagSetup)
		})
		if err != nil {
			log.Error.Printf("mwpair: session %d: release workers: %v", s.index, err)
		}
		return configurationError(problem)
	}
	ranges, err := Partition(len(data), nworker)
	if err != nil {
		return err
	}
	s.n = len(data)
	s.ranges = ranges
	fp := fingerprint(data)
	err = traverse.Each(nworker, func(w int) error {
		r := ranges[w]
		setup := setupMessage{
			Func:            s.fn.index,
			InstructionSize: s.instructionSize,
			ResultTag:       s.resultTag,
			Worker:          w,
			Offset:          r.Lo,
			Len:             len(data),
			Data:            data[r.Lo:r.Hi],
			Fingerprint:     fp,
		}
		if err := s.comm.Send(ctx, setup, s.rankOf(w), tagSetup); err != nil {
			return errors.E(fmt.Sprintf("send setup to worker %d", w), err)
		}
		return nil
	})
	if err != nil {
		return protocolError("scatter data", err)
	}
	var rejected []string
	for w := 0; w < nworker; w++ {
		var ack ackMessage
		if err := s.comm.Receive(ctx, &ack, s.rankOf(w), tagAck); err != nil {
			return protocolError(fmt.Sprintf("receive acknowledgement from worker %d", w), err)
		}
		if ack.Err != "" {
			rejected = append(rejected, fmt.Sprintf("worker %d: %s", w, ack.Err))
		}
	}
	if len(rejected) > 0 {
		return configurationError("session rejected: " + strings.Join(rejected, "; "))
	}
	if s.status != nil {
		s.group = s.status.Group("mwpair")
		s.group.Printf("session %d: %d workers, %d values, partition %v", s.index, nworker, s.n, ranges)
		name := fmt.Sprintf("mwpair-%02d-status", s.index)
		st := s.status
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return st.Marshal(w)
		})
	}
	log.Printf("mwpair: session %d: coordinator (rank %d) partitioned %d values among %d workers",
		s.index, s.comm.Rank(), s.n, nworker)
	return nil
}

// setupWorker receives the worker's setup and always acknowledges it,
// unless the coordinator itself rejected the session, so that the
// coordinator never waits on a worker that failed validation.
func (s *Session) setupWorker(ctx context.Context, data []float64) error {
	s.worker = s.workerOf(s.comm.Rank())
	var setup setupMessage
	if err := s.comm.Receive(ctx, &setup, s.coordinator, tagSetup); err != nil {
		return protocolError("receive setup", err)
	}
	if setup.Err != "" {
		return configurationError("session rejected by coordinator: " + setup.Err)
	}
	ack := ackMessage{Worker: s.worker}
	if problem := s.checkLocal(); problem != "" {
		ack.Err = problem
	} else {
		switch {
		case setup.Func != s.fn.index:
			ack.Err = fmt.Sprintf("function mismatch: coordinator uses %s, worker uses %s",
				funcLocation(setup.Func), s.fn.location)
		case setup.InstructionSize != s.instructionSize:
			ack.Err = fmt.Sprintf("instruction size mismatch: coordinator %d, worker %d",
				setup.InstructionSize, s.instructionSize)
		case setup.ResultTag != s.resultTag:
			ack.Err = fmt.Sprintf("result tag mismatch: coordinator %#x, worker %#x",
				setup.ResultTag, s.resultTag)
		case setup.Worker != s.worker:
			ack.Err = fmt.Sprintf("worker index mismatch: coordinator assigned %d, worker is %d",
				setup.Worker, s.worker)
		case len(data) > 0 && (setup.Len != len(data) || setup.Fingerprint != fingerprint(data)):
			ack.Err = fmt.Sprintf("data mismatch: coordinator has %d values, worker has %d, or contents differ",
				setup.Len, len(data))
		}
	}
	if err := s.comm.Send(ctx, ack, s.coordinator, tagAck); err != nil {
		return protocolError("send acknowledgement", err)
	}
	if ack.Err != "" {
		return configurationError(ack.Err)
	}
	s.offset = setup.Offset
	s.slice = setup.Data
	log.Debug.Printf("mwpair: session %d: worker %d (rank %d) holds %d values at offset %d",
		s.index, s.worker, s.comm.Rank(), len(s.slice), s.offset)
	return nil
}

// Role returns the session's role.
func (s *Session) Role() Role { return s.role }

// Rank returns the rank of the session's group member.
func (s *Session) Rank() int { return s.comm.Rank() }

// Workers returns the number of workers in the session.
func (s *Session) Workers() int { return s.comm.Size() - 1 }

// Ranges returns the partition of the data among the workers, in
// worker order. Ranges returns nil on workers.
func (s *Session) Ranges() []Range {
	if s.ranges == nil {
		return nil
	}
	return append([]Range(nil), s.ranges...)
}

// Terminated tells whether Terminate has been called.
func (s *Session) Terminated() bool { return s.terminated }

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() stats.Values {
	vals := make(stats.Values)
	s.stats.AddAll(vals)
	return vals
}

// rankOf returns the rank of worker w.
func (s *Session) rankOf(w int) int {
	if w >= s.coordinator {
		return w + 1
	}
	return w
}

// workerOf returns the worker index of rank, which must not be the
// coordinator's.
func (s *Session) workerOf(rank int) int {
	if rank > s.coordinator {
		return rank - 1
	}
	return rank
}

// Eval evaluates the session's function with the provided instruction
// over all of the data, returning the concatenation of the workers'
// partial results in data order. Eval may only be called on the
// coordinator.
//
// An instruction of the wrong size is a configuration error; nothing
// is sent to the workers. Any failure during the round (an
// unreachable worker, a worker error, or a partial result of the
// wrong length) is a protocol error, after which the session is
// broken: all subsequent calls to Eval fail.
func (s *Session) Eval(ctx context.Context, instruction []float64) ([]float64, error) {
	return s.EvalInterlude(ctx, instruction, nil)
}

// EvalInterlude is like Eval, but calls interlude on the coordinator
// after the instruction has been broadcast and before results are
// gathered, so that the coordinator may do useful work while the
// workers compute. The interlude's error is returned after the round
// completes; it does not affect the round.
func (s *Session) EvalInterlude(ctx context.Context, instruction []float64, interlude func(context.Context) error) ([]float64, error) {
	if s.role != Coordinator {
		return nil, protocolError("eval called on a worker")
	}
	if s.terminated {
		return nil, protocolError("eval called after terminate")
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(instruction) != s.instructionSize {
		return nil, configurationError(fmt.Sprintf("instruction has %d values, want %d", len(instruction), s.instructionSize))
	}
	s.round++
	round := s.round
	var task *status.Task
	if s.group != nil {
		task = s.group.Start()
		task.Title(fmt.Sprintf("session %d round %d", s.index, round))
		task.Print("broadcasting instruction")
		defer task.Done()
	}
	msg := message{Kind: kindInstruction, Round: round, Instruction: instruction}
	if err := s.comm.Broadcast(ctx, msg, s.coordinator, tagInstruction); err != nil {
		return nil, s.fail(round, protocolError("broadcast instruction", err))
	}
	var interludeErr error
	if interlude != nil {
		interludeErr = interlude(ctx)
	}
	if task != nil {
		task.Print("gathering results")
	}
	result, err := s.gather(ctx, round)
	if err != nil {
		return nil, s.fail(round, err)
	}
	s.stats.Int("rounds").Add(1)
	s.stats.Int("gathered").Add(int64(len(result)))
	if s.group != nil {
		s.group.Printf("session %d: %d workers, %d values: %s", s.index, s.Workers(), s.n, s.Stats())
	}
	log.Debug.Printf("mwpair: session %d: round %d complete", s.index, round)
	return result, interludeErr
}

// Gather collects one partial result from each worker and places it
// at the worker's offset. Results are received concurrently, but each
// worker's range is fixed, so the layout of the result does not
// depend on arrival order.
func (s *Session) gather(ctx context.Context, round uint64) ([]float64, error) {
	result := make([]float64, s.n)
	g, ctx := errgroup.WithContext(ctx)
	for w := range s.ranges {
		w, r := w, s.ranges[w]
		g.Go(func() error {
			var part partialResult
			if err := s.comm.Receive(ctx, &part, s.rankOf(w), s.resultTag); err != nil {
				return protocolError(fmt.Sprintf("receive result from worker %d", w), err)
			}
			switch {
			case part.Err != "":
				return protocolError(fmt.Sprintf("worker %d: %s", w, part.Err))
			case part.Worker != w:
				return protocolError(fmt.Sprintf("worker %d replied as worker %d", w, part.Worker))
			case part.Round != round:
				return protocolError(fmt.Sprintf("worker %d replied to round %d, want %d", w, part.Round, round))
			case len(part.Values) != r.Len():
				return protocolError(fmt.Sprintf("worker %d returned %d values, want %d", w, len(part.Values), r.Len()))
			}
			copy(result[r.Lo:r.Hi], part.Values)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Session) fail(round uint64, err error) error {
	s.err = err
	s.stats.Int("failed").Add(1)
	log.Error.Printf("mwpair: session %d: round %d failed: %v", s.index, round, err)
	if s.group != nil {
		s.group.Printf("session %d: round %d failed: %v", s.index, round, err)
	}
	return err
}

// Terminate releases the workers from their service loops. Terminate
// may only be called once, and only on the coordinator; no rounds may
// be evaluated afterwards. Terminate must complete before the group's
// transport is shut down, or workers remain blocked.
func (s *Session) Terminate(ctx context.Context) error {
	if s.role != Coordinator {
		return protocolError("terminate called on a worker")
	}
	if s.terminated {
		return protocolError("already terminated")
	}
	s.terminated = true
	s.eventer.Event("mwpair:terminate",
		"rank", s.comm.Rank(),
		"workers", s.Workers(),
		"rounds", s.round)
	msg := message{Kind: kindTerminate, Round: s.round}
	if err := s.comm.Broadcast(ctx, msg, s.coordinator, tagInstruction); err != nil {
		return protocolError("broadcast terminate", err)
	}
	log.Printf("mwpair: session %d: terminated after %d rounds", s.index, s.round)
	if s.group != nil {
		s.group.Printf("session %d: terminated after %d rounds", s.index, s.round)
	}
	return nil
}

// Serve runs the worker's service loop: it waits for instructions
// from the coordinator, applies the session's function to the
// worker's slice of the data, and returns the partial result, until
// the coordinator calls Terminate. Serve may only be called once, and
// only on a worker.
//
// Serve returns nil once terminated. If the function returns a result
// of the wrong length, or panics, Serve reports the failure to the
// coordinator, so that its round fails instead of stalling, and
// returns a contract violation. A message of unknown kind is a
// protocol error.
func (s *Session) Serve(ctx context.Context) error {
	if s.role != Worker {
		return protocolError("serve called on the coordinator")
	}
	if s.served {
		return protocolError("worker is already serving")
	}
	s.served = true
	for {
		// Gob does not reset fields absent from the stream; decode
		// each message into a fresh value.
		var msg message
		if err := s.comm.Broadcast(ctx, &msg, s.coordinator, tagInstruction); err != nil {
			return protocolError("receive instruction", err)
		}
		switch msg.Kind {
		case kindTerminate:
			log.Debug.Printf("mwpair: session %d: worker %d terminated after %d rounds",
				s.index, s.worker, s.stats.Int("rounds").Get())
			return nil
		case kindInstruction:
			if err := s.serveRound(ctx, msg); err != nil {
				return err
			}
		default:
			return protocolError(fmt.Sprintf("worker %d: unexpected message %v", s.worker, msg.Kind))
		}
	}
}

func (s *Session) serveRound(ctx context.Context, msg message) error {
	part := partialResult{Worker: s.worker, Round: msg.Round}
	var failure error
	if len(msg.Instruction) != s.instructionSize {
		failure = protocolError(fmt.Sprintf("instruction has %d values, want %d", len(msg.Instruction), s.instructionSize))
	} else {
		part.Values, failure = s.apply(msg.Instruction)
	}
	if failure != nil {
		part.Values = nil
		part.Err = failure.Error()
	}
	if err := s.comm.Send(ctx, part, s.coordinator, s.resultTag); err != nil {
		return protocolError("send result", err)
	}
	if failure != nil {
		log.Error.Printf("mwpair: session %d: worker %d: round %d: %v", s.index, s.worker, msg.Round, failure)
		return failure
	}
	s.stats.Int("rounds").Add(1)
	return nil
}

// Apply invokes the session's function on the worker's slice,
// checking its contract.
func (s *Session) apply(instruction []float64) (values []float64, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = contractViolation(fmt.Sprintf("function %s panicked: %v\n%s", s.fn.location, e, debug.Stack()))
		}
	}()
	values = s.fn.Apply(instruction, s.slice)
	if len(values) != len(s.slice) {
		return nil, contractViolation(fmt.Sprintf("function %s returned %d values for %d inputs",
			s.fn.location, len(values), len(s.slice)))
	}
	return values, nil
}

// Run creates a session on the member represented by comm and drives
// it according to the member's role. On workers, Run serves
// instructions until terminated. On the coordinator, Run calls driver
// with the session and then terminates the session, regardless of
// whether driver succeeded (unless driver has terminated it already).
// Run returns the first error encountered.
func Run(ctx context.Context, comm group.Comm, fn *FuncValue, instructionSize int, data []float64,
	driver func(ctx context.Context, sess *Session) error, opts ...Option) (err error) {
	sess, err := New(ctx, comm, fn, instructionSize, data, opts...)
	if err != nil {
		return err
	}
	if sess.Role() == Worker {
		return sess.Serve(ctx)
	}
	defer func() {
		if sess.Terminated() {
			return
		}
		if terr := sess.Terminate(ctx); terr != nil && err == nil {
			err = terr
		}
	}()
	return driver(ctx, sess)
}
