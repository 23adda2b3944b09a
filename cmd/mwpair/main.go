// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command mwpair demonstrates a coordinator/worker session and
// manages mwpair configuration.
//
// Usage:
//
//	mwpair [flags]                run the demonstration session
//	mwpair [flags] setup-ec2      configure EC2 for use with mwpair
//
// The demonstration partitions the values 0, 1, ..., n-1 among the
// workers and evaluates two instructions with a function that adds
// the instruction's largest value to every element.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/mwpair"
	"github.com/grailbio/mwpair/example"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/paircmd"
	"github.com/grailbio/mwpair/pairflags"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Mwpair runs a demonstration coordinator/worker session.

Usage:

	mwpair [flags] [command] [arguments]

Without a command, mwpair runs the demonstration. The commands are:

	setup-ec2   configure EC2 for use with mwpair

The flags are:
`)
	flag.PrintDefaults()
	os.Exit(2)
}

var instructions = [][]float64{
	{0.1, 0.0, -0.1},
	{-1.0, 0.0, 0.2},
}

func main() {
	var (
		fl pairflags.Flags
		n  = flag.Int("n", 12, "number of data values")
	)
	pairflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() > 0 {
		cmd, args := flag.Arg(0), flag.Args()[1:]
		switch cmd {
		default:
			fmt.Fprintln(os.Stderr, "unknown command", cmd)
			flag.Usage()
		case "setup-ec2":
			setupEc2Cmd(args)
		}
		return
	}

	launcher := paircmd.Init(fl, func(ctx context.Context, comm group.Comm) error {
		return demo(ctx, comm, *n)
	})
	err := launcher.Run(context.Background(), fl.NumWorkers())
	launcher.Shutdown()
	must.Nil(err)
}

func demo(ctx context.Context, comm group.Comm, n int) error {
	data := example.Arange(n)
	return mwpair.Run(ctx, comm, example.AddMax, len(instructions[0]), data, func(ctx context.Context, sess *mwpair.Session) error {
		show := sess.ConfineTo(func(ins, res []float64) {
			fmt.Printf("%v -> %s\n", ins, format(res))
		}).(func([]float64, []float64))
		for _, ins := range instructions {
			res, err := sess.Eval(ctx, ins)
			if err != nil {
				return err
			}
			show(ins, res)
		}
		log.Printf("partition %v, stats %s", sess.Ranges(), sess.Stats())
		return nil
	}, mwpair.Status(paircmd.Status()))
}

func format(vals []float64) string {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = fmt.Sprintf("%.2f", v)
	}
	return "[" + strings.Join(strs, " ") + "]"
}
