// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pairflags provides flag support for use by mwpair command
// line applications.
package pairflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/mwpair/group/machinegroup"
)

var (
	mu        sync.Mutex
	providers = map[string]Provider{} // protected by mu
	profiles  = map[string]string{}   // protected by mu
)

// Provider represents a provider of group members that can be
// configured by setting some set of options via Set.
type Provider interface {
	// Name returns the name of a provider instance.
	Name() string
	// Set sets one or more options for the members to be provided.
	// The options may be specified as key=val.
	Set(string) error
	// System returns the bigmachine system on which workers are
	// run, as configured by the currently set options. A nil system
	// runs the group in-process.
	System() bigmachine.System
	// DefaultWorkers returns the default number of workers to use
	// for this provider.
	DefaultWorkers() int
}

// RegisterSystemProvider registers a 'system' provider, ie. any
// service that can provide group members to mwpair.
func RegisterSystemProvider(name string, provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("system %s is already registered", name)
	}
	providers[name] = provider
}

// RegisterSystemProfile registers a system 'profile' which is a
// named shorthand for a system and any associated options. For
// example an application that registers a profile of:
//   pairflags.RegisterSystemProfile("my-ec2-app", "ec2:instance=c5.2xlarge")
// can accept
//   -system=my-ec2-app
// as a synonym for
//   -system=ec2:instance=c5.2xlarge
func RegisterSystemProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the supported providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// Internal runs every member of the group as a goroutine of the
// current process.
type Internal struct{}

// Name implements Provider.Name.
func (*Internal) Name() string { return "internal" }

// Set implements Provider.Set.
func (*Internal) Set(_ string) error {
	return fmt.Errorf("the internal provider does not support any configuration")
}

// System implements Provider.System.
func (*Internal) System() bigmachine.System { return nil }

// DefaultWorkers implements Provider.DefaultWorkers.
func (*Internal) DefaultWorkers() int { return runtime.GOMAXPROCS(0) }

// Local runs each worker in a separate process on the local machine.
type Local struct{}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set.
func (*Local) Set(_ string) error {
	return fmt.Errorf("the local provider does not support any configuration")
}

// System implements Provider.System.
func (*Local) System() bigmachine.System { return bigmachine.Local }

// DefaultWorkers implements Provider.DefaultWorkers.
func (*Local) DefaultWorkers() int { return runtime.GOMAXPROCS(0) }

// EC2 runs each worker on an AWS EC2 instance.
type EC2 struct {
	Options map[string]interface{}
}

// Name implements Provider.Name.
func (*EC2) Name() string { return "EC2" }

// Set implements Provider.Set.
func (ec2 *EC2) Set(v string) error {
	if ec2.Options == nil {
		ec2.Options = make(map[string]interface{}, 5)
	}
	parts := strings.Split(v, "=")
	if len(parts) != 2 {
		return fmt.Errorf("not in key=val format %q", v)
	}
	key, val := parts[0], parts[1]
	switch key {
	case "dataspace", "rootsize":
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("not an int: %v", val)
		}
		ec2.Options[key] = uint(i)
	case "instance", "profile":
		ec2.Options[key] = val
	case "ondemand":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("not a bool: %v", val)
		}
		ec2.Options[key] = b
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// DefaultWorkers implements Provider.DefaultWorkers. Each EC2 worker
// holds its share of the data on a separate instance; a handful of
// instances is a reasonable starting point.
func (*EC2) DefaultWorkers() int { return 4 }

// System implements Provider.System.
func (ec2 *EC2) System() bigmachine.System {
	if ec2.Options == nil {
		return &ec2system.System{}
	}
	instance := &ec2system.System{
		Username: "unknown",
	}
	u, err := user.Current()
	if err == nil {
		instance.Username = u.Username
	} else {
		log.Printf("newec2: get current user: %v", err)
	}
	for key, val := range ec2.Options {
		switch key {
		case "instance":
			instance.InstanceType = val.(string)
		case "dataspace":
			instance.Dataspace = val.(uint)
		case "rootsize":
			instance.Diskspace = val.(uint)
		case "profile":
			instance.InstanceProfile = val.(string)
		case "ondemand":
			instance.OnDemand = val.(bool)
		}
	}
	return instance
}

func init() {
	RegisterSystemProvider("local", &Local{})
	RegisterSystemProvider("internal", &Internal{})
	RegisterSystemProvider("ec2", &EC2{})
}

// SystemHelpShort is a short explanation of the allowed SystemFlag values.
func SystemHelpShort(prefix string) string {
	const format = `an mwpair system is specified as follows: {local,internal,ec2:[key=val,],name}, use -%s for more information.`
	return fmt.Sprintf(format, prefix+"system-help")
}

// SystemHelpLong is a complete explanation of the allowed SystemFlag values.
const SystemHelpLong = `An mwpair system is specified as follows:

<system-type>:<options> where options is [key=value,]+

The coordinator always runs in the calling process. The currently
supported systems, which determine where workers run, and their
options are as follows:

internal: in-process workers, the default.
local: same machine, one process per worker.
ec2: AWS EC2, one instance per worker. The supported options are:
	instance=<AWS instance type> - the AWS instance type, e.g. m5.xlarge
	dataspace=<number> - size of the data volume in GiB, typically /mnt/data.
	rootsize=<number> - size of the root volume in GiB.
	ondemand - true to use on-demand rather than spot instances
	profile - the aws instance profile to use instead of a default

In addition, an application may register 'profiles' that are shorthand
for the above, eg. "my-app" can be configured as a synonym for
ec2:instance=m5.xlarge,dataspace=200.
`

// SystemFlag represents a flag that can be used to specify the
// system on which a group's workers run.
type SystemFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String
func (sys *SystemFlag) String() string {
	if sys.Provider == nil {
		return ""
	}
	if len(sys.Options) == 0 {
		return sys.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", sys.Provider.Name(), strings.Join(sys.Options, ","))
}

// Set implements flag.Value.Set
func (sys *SystemFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}

	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	provider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported system or profile type: %v", name)
	}
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sys.Options = options
	sys.Provider = provider
	sys.Specified = true
	return nil
}

// Get implements flag.Value.Get
func (sys *SystemFlag) Get() interface{} {
	return sys.String()
}

// Flags represents all of the flags that can be used to configure
// an mwpair command.
type Flags struct {
	System        SystemFlag
	SystemHelp    bool
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	Workers       int
	Compress      bool
	MaxFanout     int
	fs            *flag.FlagSet
}

// Output returns an appropriate io.Writer for printing out help/usage
// messages as per the underlying flag.Flagset.
func (pf *Flags) Output() io.Writer {
	if pf.fs == nil {
		return os.Stderr
	}
	if wr := pf.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// NumWorkers returns the number of workers requested by the flags,
// or the provider's default if none was requested.
func (pf *Flags) NumWorkers() int {
	if pf.Workers > 0 {
		return pf.Workers
	}
	return pf.System.Provider.DefaultWorkers()
}

// GroupOptions returns the machinegroup options represented by the
// flags.
func (pf *Flags) GroupOptions() []machinegroup.Option {
	var opts []machinegroup.Option
	if pf.Compress {
		opts = append(opts, machinegroup.Compress)
	}
	if pf.MaxFanout > 0 {
		opts = append(opts, machinegroup.MaxFanout(pf.MaxFanout))
	}
	return opts
}

// Launcher returns a launcher for program as configured by the flags.
// See NewLauncher for restrictions on its use.
func (pf *Flags) Launcher(program machinegroup.Program) Launcher {
	return NewLauncher(pf.System.Provider.System(), program, pf.GroupOptions()...)
}

// Defaults represents default values for the supported flags.
type Defaults struct {
	System        string
	HTTPAddress   string
	ConsoleStatus bool
	Workers       int
	Compress      bool
	MaxFanout     int
}

// RegisterFlags registers the mwpair command line flags with the
// supplied flag set. The flag names will be prefixed with the
// supplied prefix.
func RegisterFlags(fs *flag.FlagSet, pf *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, pf, prefix, Defaults{
		System:      "internal",
		HTTPAddress: ":3333",
		MaxFanout:   machinegroup.DefaultMaxFanout,
	})
}

// RegisterFlagsWithDefaults registers the mwpair command line flags
// with the supplied flag set and defaults. The flag names will be
// prefixed with the supplied prefix.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, pf *Flags, prefix string, defaults Defaults) {
	fs.Var(&pf.System, prefix+"system", SystemHelpShort(prefix))
	pf.System.Set(defaults.System)
	pf.System.Specified = false
	fs.Var(&pf.HTTPAddress, prefix+"http", "address of http status server")
	pf.HTTPAddress.Set(defaults.HTTPAddress)
	pf.HTTPAddress.Specified = false
	fs.BoolVar(&pf.ConsoleStatus, prefix+"console-status", defaults.ConsoleStatus, "print status to stdout")
	fs.IntVar(&pf.Workers, prefix+"workers", defaults.Workers, "number of workers, 0 requests an appropriate default for the system")
	fs.BoolVar(&pf.Compress, prefix+"compress", defaults.Compress, "compress large messages exchanged with remote workers")
	fs.IntVar(&pf.MaxFanout, prefix+"max-fanout", defaults.MaxFanout, "maximum number of concurrent sends in a broadcast to remote workers")
	fs.BoolVar(&pf.SystemHelp, prefix+"system-help", false, "provide help on system providers and profiles")
	pf.fs = fs
}
