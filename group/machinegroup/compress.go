// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package machinegroup

import (
	"bytes"
	"io/ioutil"

	"github.com/grailbio/base/compress/zstd"
	"github.com/grailbio/base/errors"
)

// compressThreshold is the smallest payload that is compressed when
// compression is turned on.
const compressThreshold = 1 << 10

func sealEnvelope(src, tag int, p []byte, compress bool) (envelope, error) {
	env := envelope{Src: src, Tag: tag, Payload: p}
	if !compress || len(p) < compressThreshold {
		return env, nil
	}
	var b bytes.Buffer
	zw, err := zstd.NewWriter(&b)
	if err != nil {
		return env, err
	}
	if _, err := zw.Write(p); err != nil {
		zw.Close()
		return env, err
	}
	if err := zw.Close(); err != nil {
		return env, err
	}
	env.Payload = b.Bytes()
	env.Compressed = true
	return env, nil
}

func openEnvelope(env envelope) ([]byte, error) {
	if !env.Compressed {
		return env.Payload, nil
	}
	zr, err := zstd.NewReader(bytes.NewReader(env.Payload))
	if err != nil {
		return nil, errors.E(errors.Integrity, "open compressed payload", err)
	}
	defer zr.Close()
	p, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, errors.E(errors.Integrity, "read compressed payload", err)
	}
	return p, nil
}
