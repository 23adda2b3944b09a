// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package mwpair implements coordinator/worker evaluation pairs: a
	pattern for embarrassingly parallel numeric evaluation across a
	fixed group of cooperating processes.

	A caller supplies a function, the size of an "instruction" vector,
	and a one-dimensional data array. The data is partitioned once among
	the workers. Thereafter, each call to Session.Eval on the coordinator
	broadcasts a new instruction; every worker applies the function to
	the instruction and its own slice of the data, and the coordinator
	reassembles the partial results into a full array. Eval is thus
	equivalent to applying the function to the whole array at once,
	provided the function treats data elements independently.

	Sessions run on top of a process group (package group). Every member
	of the group runs the same program and constructs the same session;
	New returns a session whose Role tells the program what to do next:

	1. The Coordinator drives rounds with Eval and finally calls
	Terminate.

	2. Each Worker calls Serve, which does not return until the
	coordinator terminates the session.

	Function and rounds

	Because Go cannot ship code to another process, session functions
	must be registered with Func, in a deterministic order, before the
	group is started. Registering funcs as package-level variables is
	sufficient:

		var addMax = mwpair.Func(func(ins, data []float64) []float64 {
			max := ins[0]
			for _, v := range ins[1:] {
				if v > max {
					max = v
				}
			}
			out := make([]float64, len(data))
			for i := range data {
				out[i] = data[i] + max
			}
			return out
		})

	A function must return a slice of the same length as its data
	argument, and it must not modify its data argument.

	Rounds are strictly sequential: a round's results are gathered
	before the next instruction is broadcast. There is no fault
	tolerance: any failure during a round breaks the session.

	Confinement

	Code that should only run on the coordinator, such as printing
	results, may be wrapped with ConfineTo. On workers, the wrapped
	function does nothing and returns zero values.
*/
package mwpair
