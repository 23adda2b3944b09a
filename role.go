// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"fmt"
	"reflect"

	"github.com/grailbio/mwpair/typecheck"
)

// Role is the part a group member plays in a session.
type Role int

const (
	// Coordinator is the single member that broadcasts instructions
	// and gathers results. Only the coordinator should interact with
	// the outside world.
	Coordinator Role = iota
	// Worker is a member that holds a partition of the data and
	// serves instructions until terminated.
	Worker
)

func (r Role) String() string {
	switch r {
	case Coordinator:
		return "coordinator"
	case Worker:
		return "worker"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ConfineTo wraps fn, which must be a func, so that its body runs only
// when role is Coordinator. Elsewhere the returned func, which has
// fn's type, has no side effects and returns zero values. For
// example:
//
//	print := mwpair.ConfineTo(sess.Role(), func(v []float64) {
//		fmt.Println(v)
//	}).(func([]float64))
func ConfineTo(role Role, fn interface{}) interface{} {
	return confine(1, role == Coordinator, fn, nil)
}

// ConfineTo wraps fn so that its body runs only on the session's
// coordinator. See the package-level ConfineTo.
func (s *Session) ConfineTo(fn interface{}) interface{} {
	return confine(1, s.comm.Rank() == s.coordinator, fn, nil)
}

// ConfineToRanks wraps fn so that its body runs only on members whose
// rank satisfies pred. On other members, otherwise is called instead
// if it is non-nil; it must have the same type as fn. If otherwise is
// nil, the wrapper returns zero values. A nil pred confines fn to the
// coordinator.
func (s *Session) ConfineToRanks(pred func(rank int) bool, fn, otherwise interface{}) interface{} {
	ok := s.comm.Rank() == s.coordinator
	if pred != nil {
		ok = pred(s.comm.Rank())
	}
	return confine(1, ok, fn, otherwise)
}

// Confine is a typed version of ConfineTo for funcs without arguments
// or results.
func (s *Session) Confine(fn func()) func() {
	if s.comm.Rank() != s.coordinator {
		return func() {}
	}
	return fn
}

// ConfineErr is a typed version of ConfineTo for funcs that return
// only an error. On workers, the returned func returns nil.
func (s *Session) ConfineErr(fn func() error) func() error {
	if s.comm.Rank() != s.coordinator {
		return func() error { return nil }
	}
	return fn
}

func confine(calldepth int, ok bool, fn, otherwise interface{}) interface{} {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		typecheck.Panicf(calldepth+1, "mwpair.ConfineTo: argument is a %T, not a func", fn)
	}
	ftype := fv.Type()
	var ov reflect.Value
	if otherwise != nil {
		ov = reflect.ValueOf(otherwise)
		if ov.Type() != ftype {
			typecheck.Panicf(calldepth+1, "mwpair.ConfineTo: otherwise has type %s, want %s", ov.Type(), ftype)
		}
	}
	return reflect.MakeFunc(ftype, func(args []reflect.Value) []reflect.Value {
		switch {
		case ok:
			return call(fv, args)
		case ov.IsValid():
			return call(ov, args)
		}
		out := make([]reflect.Value, ftype.NumOut())
		for i := range out {
			out[i] = reflect.Zero(ftype.Out(i))
		}
		return out
	}).Interface()
}

func call(f reflect.Value, args []reflect.Value) []reflect.Value {
	if f.Type().IsVariadic() {
		return f.CallSlice(args)
	}
	return f.Call(args)
}
