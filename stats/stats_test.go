// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
)

func TestMap(t *testing.T) {
	m := NewMap()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Int("rounds").Add(1)
			m.Int("gathered").Add(5)
		}()
	}
	wg.Wait()
	vals := make(Values)
	m.AddAll(vals)
	if got, want := vals["rounds"], int64(10); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals["gathered"], int64(50); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals.String(), "gathered:50 rounds:10"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNilInt(t *testing.T) {
	var v *Int
	v.Add(1)
	if got, want := v.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
