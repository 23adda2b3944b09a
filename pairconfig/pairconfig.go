// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pairconfig provides a mechanism to launch mwpair groups
// from a shared configuration. Pairconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.mwpair/config. Configurations may be
// provisioned using the mwpair command.
package pairconfig

import (
	"context"
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/mwpair/group/machinegroup"
	"github.com/grailbio/mwpair/pairflags"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
)

// Path determines the location of the mwpair profile read by Parse.
var Path = os.ExpandEnv("$HOME/.mwpair/config")

// DefaultWorkers is the default number of workers in a configured
// group.
const DefaultWorkers = 4

// Config is a group configuration, as provided by the "mwpair"
// config instance.
type Config struct {
	// System is the bigmachine system on which workers run. If nil,
	// workers run in-process.
	System bigmachine.System
	// Workers is the number of workers in the group.
	Workers int
	// Compress turns on compression of large messages.
	Compress bool
	// MaxFanout bounds the concurrency of broadcasts.
	MaxFanout int
}

func init() {
	config.Register("mwpair", func(inst *config.Constructor) {
		cfg := &Config{}
		inst.IntVar(&cfg.Workers, "workers", DefaultWorkers, "number of workers in the group")
		inst.InstanceVar(&cfg.System, "system", "", "the bigmachine system on which workers run")
		inst.BoolVar(&cfg.Compress, "compress", false, "compress large messages exchanged with remote workers")
		inst.IntVar(&cfg.MaxFanout, "max-fanout", machinegroup.DefaultMaxFanout, "maximum concurrency of broadcasts")
		inst.Doc = "mwpair configures coordinator/worker groups"
		inst.New = func() (interface{}, error) {
			return cfg, nil
		}
	})
}

// Launcher returns a launcher for program as configured. See
// pairflags.NewLauncher for restrictions on its use.
func (c *Config) Launcher(program machinegroup.Program) pairflags.Launcher {
	var opts []machinegroup.Option
	if c.Compress {
		opts = append(opts, machinegroup.Compress)
	}
	if c.MaxFanout > 0 {
		opts = append(opts, machinegroup.MaxFanout(c.MaxFanout))
	}
	return pairflags.NewLauncher(c.System, program, opts...)
}

// Run launches program on a group as configured, and returns the
// coordinator's error.
func (c *Config) Run(ctx context.Context, program machinegroup.Program) error {
	launcher := c.Launcher(program)
	defer launcher.Shutdown()
	return launcher.Run(ctx, c.Workers)
}

// Parse registers configuration flags and calls flag.Parse. It reads
// mwpair configuration from Path defined in this package. Parse
// returns the group configuration as configured by the profile and
// any flags provided. Parse panics if the configuration is invalid.
func Parse() *Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var cfg *Config
	config.Must("mwpair", &cfg)
	return cfg
}
