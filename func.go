// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/grailbio/mwpair/typecheck"
)

// A Function computes a partial result from an instruction and a
// worker's slice of the data. It must return a slice of the same
// length as data, and it must not modify data: the slice is owned by
// the session and is reused on every round.
type Function func(instruction, data []float64) []float64

var (
	// Funcs is the global registry of funcs. Workers find the
	// session's function by its index, so registration order must be
	// deterministic across processes. Registering funcs as package
	// level variables guarantees this.
	funcs []*FuncValue
	// FuncsBusy is used to detect data races in registration.
	funcsBusy int32
)

// A FuncValue is a registered Function, as returned by Func.
type FuncValue struct {
	fn       Function
	index    int
	location string
}

// Func registers fn and returns its FuncValue. Funcs must be created
// in the same order in every process of a group, which is ensured by
// creating them during package initialization:
//
//	var addMax = mwpair.Func(func(ins, data []float64) []float64 {
//		...
//	})
func Func(fn Function) *FuncValue {
	if fn == nil {
		typecheck.Panicf(1, "mwpair.Func: nil function")
	}
	v := &FuncValue{fn: fn, location: "<unknown>"}
	if _, file, line, ok := runtime.Caller(1); ok {
		v.location = fmt.Sprintf("%s:%d", file, line)
	}
	if atomic.AddInt32(&funcsBusy, 1) != 1 {
		panic("mwpair.Func: data race")
	}
	v.index = len(funcs)
	funcs = append(funcs, v)
	if atomic.AddInt32(&funcsBusy, -1) != 0 {
		panic("mwpair.Func: data race")
	}
	return v
}

// Index returns the registration index of f.
func (f *FuncValue) Index() int { return f.index }

// Location returns the source location at which f was registered.
func (f *FuncValue) Location() string { return f.location }

// Apply invokes f's function.
func (f *FuncValue) Apply(instruction, data []float64) []float64 {
	return f.fn(instruction, data)
}

// funcLocation returns the registration location of the func with the
// provided index, for error messages.
func funcLocation(index int) string {
	if index < 0 || index >= len(funcs) {
		return fmt.Sprintf("<func %d not registered>", index)
	}
	return funcs[index].location
}
