// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"fmt"
)

// A Range is the half-open interval [Lo, Hi) of data indices assigned
// to a worker.
type Range struct {
	Lo, Hi int
}

// Len returns the number of indices in r.
func (r Range) Len() int { return r.Hi - r.Lo }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Lo, r.Hi) }

// Balance returns the range of n tasks assigned to worker i of
// nworker. The first n%nworker workers are assigned one extra task.
// An out of range worker index is assigned the empty range [n, n).
func Balance(n, nworker, i int) Range {
	if i < 0 || i >= nworker {
		return Range{n, n}
	}
	q, r := n/nworker, n%nworker
	if i < r {
		lo := i * (q + 1)
		return Range{lo, lo + q + 1}
	}
	lo := r + i*q
	return Range{lo, lo + q}
}

// Partition divides n data elements among nworker workers. The
// returned ranges are contiguous, disjoint, appear in worker order,
// and cover [0, n); no two differ in length by more than one.
// Partition returns a configuration error if n or nworker is not
// positive.
func Partition(n, nworker int) ([]Range, error) {
	if n <= 0 {
		return nil, configurationError("cannot partition empty data")
	}
	if nworker < 1 {
		return nil, configurationError(fmt.Sprintf("no workers (nworker=%d)", nworker))
	}
	ranges := make([]Range, nworker)
	for i := range ranges {
		ranges[i] = Balance(n, nworker, i)
	}
	return ranges, nil
}

// Split divides data as Partition does, returning the slices of data
// for each worker. The returned slices alias data.
func Split(data []float64, nworker int) ([][]float64, error) {
	ranges, err := Partition(len(data), nworker)
	if err != nil {
		return nil, err
	}
	parts := make([][]float64, len(ranges))
	for i, r := range ranges {
		parts[i] = data[r.Lo:r.Hi:r.Hi]
	}
	return parts, nil
}

// Counts returns, for n tasks divided among nworker workers, the
// number of tasks of each worker and the offset of each worker's
// first task.
func Counts(n, nworker int) (counts, offsets []int) {
	counts = make([]int, nworker)
	for i := range counts {
		counts[i] = Balance(n, nworker, i).Len()
	}
	offsets = Scan(counts, 0)
	return counts, offsets[:nworker]
}

// CountsSkipping is like Counts, but lays out counts and offsets for
// a group of nworker+1 members in which member skip (the coordinator)
// contributes nothing. The coordinator's count is zero and its offset
// equals that of the member that follows it.
func CountsSkipping(n, nworker, skip int) (counts, offsets []int) {
	rawCounts, rawOffsets := Counts(n, nworker)
	if skip < 0 || skip > nworker {
		panic(fmt.Sprintf("mwpair.CountsSkipping: skip %d out of range [0, %d]", skip, nworker))
	}
	next := n
	if skip < nworker {
		next = rawOffsets[skip]
	}
	counts = make([]int, 0, nworker+1)
	counts = append(counts, rawCounts[:skip]...)
	counts = append(counts, 0)
	counts = append(counts, rawCounts[skip:]...)
	offsets = make([]int, 0, nworker+1)
	offsets = append(offsets, rawOffsets[:skip]...)
	offsets = append(offsets, next)
	offsets = append(offsets, rawOffsets[skip:]...)
	return counts, offsets
}

// Scan returns the running sums of values, starting at start. The
// returned slice has len(values)+1 elements: start, start+values[0],
// and so on.
func Scan(values []int, start int) []int {
	sums := make([]int, len(values)+1)
	sums[0] = start
	for i, v := range values {
		sums[i+1] = sums[i] + v
	}
	return sums
}
