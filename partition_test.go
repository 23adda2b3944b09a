// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package mwpair

import (
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestBalance(t *testing.T) {
	for _, c := range []struct {
		n, nworker int
		want       []Range
	}{
		{12, 3, []Range{{0, 4}, {4, 8}, {8, 12}}},
		{10, 3, []Range{{0, 4}, {4, 7}, {7, 10}}},
		{2, 4, []Range{{0, 1}, {1, 2}, {2, 2}, {2, 2}}},
		{1, 1, []Range{{0, 1}}},
	} {
		for i, want := range c.want {
			if got := Balance(c.n, c.nworker, i); got != want {
				t.Errorf("Balance(%d, %d, %d): got %v, want %v", c.n, c.nworker, i, got, want)
			}
		}
	}
	for _, i := range []int{-1, 3, 100} {
		if got, want := Balance(10, 3, i), (Range{10, 10}); got != want {
			t.Errorf("Balance(10, 3, %d): got %v, want %v", i, got, want)
		}
	}
}

func TestPartitionProperties(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for iter := 0; iter < 1000; iter++ {
		var n, nworker uint16
		fz.Fuzz(&n)
		fz.Fuzz(&nworker)
		n = n%500 + 1
		nworker = nworker%40 + 1
		ranges, err := Partition(int(n), int(nworker))
		if err != nil {
			t.Fatal(err)
		}
		if got, want := len(ranges), int(nworker); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		min, max := int(n), 0
		for i, r := range ranges {
			lo := 0
			if i > 0 {
				lo = ranges[i-1].Hi
			}
			if got, want := r.Lo, lo; got != want {
				t.Errorf("n=%d nworker=%d: range %d starts at %v, want %v", n, nworker, i, got, want)
			}
			if r.Len() < min {
				min = r.Len()
			}
			if r.Len() > max {
				max = r.Len()
			}
		}
		if got, want := ranges[len(ranges)-1].Hi, int(n); got != want {
			t.Errorf("n=%d nworker=%d: partition ends at %v, want %v", n, nworker, got, want)
		}
		if max-min > 1 {
			t.Errorf("n=%d nworker=%d: unbalanced partition %v", n, nworker, ranges)
		}
	}
}

func TestPartitionError(t *testing.T) {
	for _, c := range []struct{ n, nworker int }{
		{0, 3}, {-1, 3}, {10, 0}, {10, -2},
	} {
		_, err := Partition(c.n, c.nworker)
		if err == nil {
			t.Errorf("Partition(%d, %d): expected error", c.n, c.nworker)
			continue
		}
		if !IsConfigurationError(err) {
			t.Errorf("Partition(%d, %d): got %v, want configuration error", c.n, c.nworker, err)
		}
	}
}

func TestSplit(t *testing.T) {
	fz := fuzz.NewWithSeed(54321).NilChance(0)
	for iter := 0; iter < 100; iter++ {
		var (
			data    []float64
			nworker uint8
		)
		fz.Fuzz(&data)
		fz.Fuzz(&nworker)
		if len(data) == 0 {
			continue
		}
		nworker = nworker%8 + 1
		parts, err := Split(data, int(nworker))
		if err != nil {
			t.Fatal(err)
		}
		var joined []float64
		for _, part := range parts {
			joined = append(joined, part...)
		}
		if !reflect.DeepEqual(joined, data) {
			t.Errorf("got %v, want %v", joined, data)
		}
	}
	if _, err := Split(nil, 3); !IsConfigurationError(err) {
		t.Errorf("got %v, want configuration error", err)
	}
}

func TestCounts(t *testing.T) {
	counts, offsets := Counts(10, 3)
	if got, want := counts, []int{4, 3, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := offsets, []int{0, 4, 7}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCountsSkipping(t *testing.T) {
	for _, c := range []struct {
		skip            int
		counts, offsets []int
	}{
		{0, []int{0, 4, 3, 3}, []int{0, 0, 4, 7}},
		{1, []int{4, 0, 3, 3}, []int{0, 4, 4, 7}},
		{2, []int{4, 3, 0, 3}, []int{0, 4, 7, 7}},
		{3, []int{4, 3, 3, 0}, []int{0, 4, 7, 10}},
	} {
		counts, offsets := CountsSkipping(10, 3, c.skip)
		if got, want := counts, c.counts; !reflect.DeepEqual(got, want) {
			t.Errorf("skip %d: got %v, want %v", c.skip, got, want)
		}
		if got, want := offsets, c.offsets; !reflect.DeepEqual(got, want) {
			t.Errorf("skip %d: got %v, want %v", c.skip, got, want)
		}
	}
}

func TestScan(t *testing.T) {
	if got, want := Scan([]int{1, 2, 3}, 0), []int{0, 1, 3, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Scan(nil, 5), []int{5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFingerprint(t *testing.T) {
	a := []float64{1, 2, 3}
	if got, want := fingerprint(a), fingerprint([]float64{1, 2, 3}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if fingerprint(a) == fingerprint([]float64{1, 2, 4}) {
		t.Error("fingerprints of different data collide")
	}
	if fingerprint(a) == fingerprint([]float64{1, 2, 3, 0}) {
		t.Error("fingerprints of different lengths collide")
	}
}
