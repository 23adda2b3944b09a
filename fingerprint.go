// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"
)

// Fingerprint returns a hash of data, used to check that every member
// of a group was handed the same data.
func fingerprint(data []float64) uint64 {
	h := murmur3.New64()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(len(data)))
	h.Write(b[:])
	for _, v := range data {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		h.Write(b[:])
	}
	return h.Sum64()
}
