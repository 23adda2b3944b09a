// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package group

import (
	"bytes"
	"encoding/gob"

	"github.com/grailbio/base/errors"
)

// Encode encodes v into a message payload. Concrete types carried
// inside interface values must be registered with gob.
func Encode(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, errors.E(errors.Invalid, "encode message", err)
	}
	return b.Bytes(), nil
}

// Decode decodes the payload p into v, which must be a pointer.
func Decode(p []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(v); err != nil {
		return errors.E(errors.Integrity, "decode message", err)
	}
	return nil
}
