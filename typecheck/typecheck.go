// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck reports misuse of mwpair's reflective APIs, such
// as passing a non-func to ConfineTo. Errors carry the location of the
// offending call rather than that of the library code that detected
// it.
package typecheck

import (
	"fmt"
	"runtime"
)

// Error is a located usage error.
type Error struct {
	Err  error
	File string
	Line int
}

// NewError wraps err with the location of the caller calldepth frames
// above NewError's caller.
func NewError(calldepth int, err error) *Error {
	e := &Error{Err: err}
	var ok bool
	_, e.File, e.Line, ok = runtime.Caller(calldepth + 1)
	if !ok {
		e.File = "<unknown>"
	}
	return e
}

// Errorf constructs a located error in the manner of fmt.Errorf.
func Errorf(calldepth int, format string, args ...interface{}) *Error {
	return NewError(calldepth+1, fmt.Errorf(format, args...))
}

// Panicf panics with a located error.
func Panicf(calldepth int, format string, args ...interface{}) {
	panic(Errorf(calldepth+1, format, args...))
}

// Error implements error.
func (err *Error) Error() string {
	return fmt.Sprintf("%s:%d: %v", err.File, err.Line, err.Err)
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error { return err.Err }
