// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package paircmd provides utilities for implementing mwpair-based
// command line tools. The main entry point, paircmd.Main, configures
// a group according to a common set of flags, and then invokes the
// user's program on every member of the group.
//
// A paircmd tool follows this form:
//
//	var fn = mwpair.Func(...)
//
//	func main() {
//		paircmd.Main(func(ctx context.Context, comm group.Comm, args []string) error {
//			return mwpair.Run(ctx, comm, fn, size, data, func(ctx context.Context, sess *mwpair.Session) error {
//				// Evaluate instructions...
//			}, mwpair.Status(paircmd.Status()))
//		})
//	}
package paircmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is included to be exposed on the local diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/mwpair/group"
	"github.com/grailbio/mwpair/pairflags"
)

// A Program is run on every member of a group. Args are the
// command's unparsed arguments.
type Program func(ctx context.Context, comm group.Comm, args []string) error

var pairStatus status.Status

// Status returns the status object displayed by Main. Programs
// should pass it to their sessions with mwpair.Status.
func Status() *status.Status { return &pairStatus }

// Main is a convenient entry point for a paircmd. Main does not
// return; it should be called after other initialization is
// performed. Main parses (global) flags, configures a group
// accordingly, and runs the provided program on every member of the
// group, passing the unparsed arguments.
//
// Main starts a diagnostic web server (default address :3333), using
// http.DefaultServeMux, which includes pprof handlers as well as
// bigmachine's aggregated pprof handlers when workers run on
// bigmachine.
//
// Main terminates the program after the coordinator's program
// returns. If it returns with an error, it is reported and the
// process exits with code 1, otherwise it exits successfully.
func Main(program Program) {
	var fl pairflags.Flags
	pairflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	args := flag.Args()
	launcher := Init(fl, func(ctx context.Context, comm group.Comm) error {
		return program(ctx, comm, args)
	})
	err := launcher.Run(context.Background(), fl.NumWorkers())
	launcher.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Init returns a launcher for program as configured by the supplied
// flags, and arranges for status to be displayed. Like
// pairflags.NewLauncher, Init does not return on bigmachine worker
// processes.
func Init(pf pairflags.Flags, program func(ctx context.Context, comm group.Comm) error) pairflags.Launcher {
	if pf.SystemHelp {
		providers, profiles := pairflags.ProvidersAndProfiles()
		sort.Strings(providers)
		wr := pf.Output()
		str := []string{}
		fmt.Fprintf(wr, "%s\n\n", pairflags.SystemHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n",
			strings.Join(providers, ", "))
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			wr.Write([]byte(s))
		}
		os.Exit(0)
	}
	launcher := pf.Launcher(program)
	DisplayStatus(pf, launcher)
	return launcher
}

// DisplayStatus arranges for the group's status to be displayed on
// the console and/or a web page depending on the flags specified on
// the command line. The web page is hosted at /debug/status on
// http.DefaultServeMux.
func DisplayStatus(pf pairflags.Flags, launcher pairflags.Launcher) {
	if pf.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, &pairStatus)
	}
	if len(pf.HTTPAddress.Address) > 0 {
		launcher.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(&pairStatus))
		go func() {
			log.Printf("HTTP Status at: %v\n", pf.HTTPAddress)
			err := http.ListenAndServe(pf.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", pf.HTTPAddress, err)
			}
		}()
	}
}
