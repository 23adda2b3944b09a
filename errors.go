// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"github.com/grailbio/base/errors"
)

// Errors produced by mwpair are *errors.Error values from
// github.com/grailbio/base/errors, classified by kind:
//
//	configuration errors   errors.Invalid
//	contract violations    errors.Integrity (fatal)
//	protocol errors        errors.Precondition (fatal)
//
// Configuration errors are reported synchronously by New and Eval for
// invalid parameters. Contract violations are detected by a worker
// when the user's function returns a result of the wrong length; the
// coordinator observes the same round as a protocol error. Protocol
// errors are never retried: a failed round leaves the session broken.

// IsConfigurationError tells whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(errors.Invalid, err)
}

// IsContractViolation tells whether err reports a user function that
// violated its shape contract.
func IsContractViolation(err error) bool {
	return errors.Is(errors.Integrity, err)
}

// IsProtocolError tells whether err is a protocol error.
func IsProtocolError(err error) bool {
	return errors.Is(errors.Precondition, err)
}

func configurationError(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Invalid}, args...)...)
}

func contractViolation(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Integrity, errors.Fatal}, args...)...)
}

func protocolError(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Precondition, errors.Fatal}, args...)...)
}
