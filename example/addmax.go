// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package example contains a trivial mwpair function used to
// illustrate sessions and testing facilities. See addmax_test.go.
package example

import "github.com/grailbio/mwpair"

// AddMax adds the largest value of the instruction to every data
// element.
var AddMax = mwpair.Func(func(ins, data []float64) []float64 {
	max := ins[0]
	for _, v := range ins[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = v + max
	}
	return out
})

// Arange returns the values 0, 1, ..., n-1.
func Arange(n int) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return data
}
