// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/mwpair/pairconfig"

	// Registers aws/env, so that the profile written below includes
	// the AWS defaults.
	_ "github.com/grailbio/base/config/aws"
)

// workerPort is the port on which workers serve bigmachine RPC,
// including the machinegroup Group service that carries every
// message between the coordinator and its workers.
const workerPort = 443

// groupTag marks security groups created by setup-ec2.
const groupTag = "mwpair:workers"

func setupEc2Usage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: mwpair setup-ec2 [flags]

Command setup-ec2 prepares an AWS account to run mwpair workers on
EC2 and records the result in the mwpair configuration at `, pairconfig.Path, `.

Workers only accept connections from the coordinator: every session
message travels over bigmachine RPC (HTTPS, port 443). Setup-ec2
finds or creates a security group that admits port 443 from the
coordinator's network (by default, the CIDR block of the VPC), and
optionally SSH for debugging. It then configures mwpair to run its
workers on bigmachine/ec2system with that group.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func setupEc2Cmd(args []string) {
	var (
		flags    = flag.NewFlagSet("mwpair setup-ec2", flag.ExitOnError)
		name     = flags.String("securitygroup", "mwpair", "name of the worker security group")
		vpc      = flags.String("vpc", "", "VPC of the security group; the account's default VPC if empty")
		cidr     = flags.String("cidr", "", "address range of coordinators; the VPC's CIDR block if empty")
		ssh      = flags.Bool("ssh", false, "also admit SSH connections from the coordinator range")
		instance = flags.String("instance", "c5.xlarge", "EC2 instance type for workers")
		workers  = flags.Int("workers", 0, "number of workers to configure; unchanged if 0")
	)
	flags.Usage = func() { setupEc2Usage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 || *workers < 0 {
		flags.Usage()
	}

	profile := config.New()
	f, err := os.Open(pairconfig.Path)
	if err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}

	id, ok := configuredGroup(profile)
	if ok {
		log.Printf("using configured security group %s", id)
	} else {
		sess, err := session.NewSession()
		must.Nil(err, "AWS session")
		sg := securityGroup{svc: ec2.New(sess), name: *name, vpc: *vpc, cidr: *cidr, ssh: *ssh}
		id, err = sg.setup()
		must.Nil(err, "security group")
	}
	must.Nil(configureWorkers(profile, id, *instance, *workers))
	must.Nil(writeProfile(profile, pairconfig.Path))
	log.Printf("wrote configuration to %s", pairconfig.Path)
}

// configuredGroup returns the security group already present in the
// profile, if any.
func configuredGroup(profile *config.Profile) (string, bool) {
	v, ok := profile.Get("bigmachine/ec2system.security-group")
	if !ok {
		return "", false
	}
	v = strings.Trim(v, `"`)
	return v, v != ""
}

// configureWorkers points the mwpair instance at EC2 workers that run
// in the provided security group.
func configureWorkers(profile *config.Profile, groupID, instance string, workers int) error {
	if region, ok := profile.Get("aws/env.region"); ok {
		if region = strings.Trim(region, `"`); region != "" {
			if err := profile.Set("bigmachine/ec2system.default-region", region); err != nil {
				return errors.E("set region", err)
			}
		}
	}
	settings := [][2]string{
		{"bigmachine/ec2system.security-group", groupID},
		// Workers are compute bound.
		{"bigmachine/ec2system.instance", instance},
		{"mwpair.system", "bigmachine/ec2system"},
		// Messages to remote workers cross the network.
		{"mwpair.compress", "true"},
	}
	if workers > 0 {
		settings = append(settings, [2]string{"mwpair.workers", strconv.Itoa(workers)})
	}
	for _, kv := range settings {
		if err := profile.Set(kv[0], kv[1]); err != nil {
			return errors.E(fmt.Sprintf("set %s", kv[0]), err)
		}
	}
	return nil
}

// writeProfile atomically replaces the profile at path.
func writeProfile(profile *config.Profile, path string) error {
	var buf bytes.Buffer
	if err := profile.PrintTo(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return err
	}
	tmp := path + ".setup-ec2"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0666); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ec2Client is the subset of the EC2 API used by setup-ec2.
type ec2Client interface {
	DescribeSecurityGroups(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error)
	CreateSecurityGroup(*ec2.CreateSecurityGroupInput) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(*ec2.AuthorizeSecurityGroupIngressInput) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	CreateTags(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error)
}

// securityGroup provisions the security group in which workers run.
type securityGroup struct {
	svc  ec2Client
	name string
	// vpc and cidr are looked up when empty.
	vpc, cidr string
	ssh       bool
}

// setup returns the ID of the named security group, creating it if
// it does not exist.
func (g *securityGroup) setup() (string, error) {
	if id, err := g.find(); err != nil || id != "" {
		return id, err
	}
	if err := g.lookupVPC(); err != nil {
		return "", err
	}
	id, err := g.create()
	if err != nil {
		return "", err
	}
	if err := g.authorize(id); err != nil {
		return "", err
	}
	log.Printf("created security group %s in %s admitting %s", id, g.vpc, g.cidr)
	return id, nil
}

func (g *securityGroup) find() (string, error) {
	filters := []*ec2.Filter{{Name: aws.String("group-name"), Values: aws.StringSlice([]string{g.name})}}
	if g.vpc != "" {
		filters = append(filters, &ec2.Filter{Name: aws.String("vpc-id"), Values: aws.StringSlice([]string{g.vpc})})
	}
	resp, err := g.svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{Filters: filters})
	if err != nil {
		return "", errors.E(errors.Unavailable, fmt.Sprintf("describe security group %s", g.name), err)
	}
	switch len(resp.SecurityGroups) {
	case 0:
		return "", nil
	case 1:
		id := aws.StringValue(resp.SecurityGroups[0].GroupId)
		log.Printf("found security group %s (%s)", g.name, id)
		return id, nil
	default:
		return "", errors.E(errors.Invalid, fmt.Sprintf("%d security groups named %s; choose one with -vpc", len(resp.SecurityGroups), g.name))
	}
}

// lookupVPC resolves the group's VPC and, if unset, the coordinator
// address range.
func (g *securityGroup) lookupVPC() error {
	input := &ec2.DescribeVpcsInput{}
	if g.vpc != "" {
		input.VpcIds = aws.StringSlice([]string{g.vpc})
	} else {
		input.Filters = []*ec2.Filter{{Name: aws.String("isDefault"), Values: aws.StringSlice([]string{"true"})}}
	}
	resp, err := g.svc.DescribeVpcs(input)
	if err != nil {
		return errors.E(errors.Unavailable, "describe VPCs", err)
	}
	if len(resp.Vpcs) != 1 {
		if g.vpc == "" {
			return errors.E(errors.NotExist, fmt.Sprintf("found %d default VPCs; name one with -vpc", len(resp.Vpcs)))
		}
		return errors.E(errors.NotExist, fmt.Sprintf("VPC %s not found", g.vpc))
	}
	vpc := resp.Vpcs[0]
	g.vpc = aws.StringValue(vpc.VpcId)
	if g.cidr == "" {
		g.cidr = aws.StringValue(vpc.CidrBlock)
	}
	return nil
}

func (g *securityGroup) create() (string, error) {
	resp, err := g.svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(g.name),
		Description: aws.String("mwpair workers, created by mwpair setup-ec2"),
		VpcId:       aws.String(g.vpc),
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("create security group %s", g.name), err)
	}
	id := aws.StringValue(resp.GroupId)
	_, err = g.svc.CreateTags(&ec2.CreateTagsInput{
		Resources: aws.StringSlice([]string{id}),
		Tags: []*ec2.Tag{
			{Key: aws.String("Name"), Value: aws.String(g.name)},
			{Key: aws.String(groupTag), Value: aws.String("true")},
		},
	})
	if err != nil {
		log.Error.Printf("tag security group %s: %v", id, err)
	}
	return id, nil
}

// authorize admits coordinator traffic to the workers. Egress is left
// at the EC2 default, which allows all outbound traffic.
func (g *securityGroup) authorize(id string) error {
	perms := []*ec2.IpPermission{tcpFrom(g.cidr, workerPort)}
	if g.ssh {
		perms = append(perms, tcpFrom(g.cidr, 22))
	}
	_, err := g.svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(id),
		IpPermissions: perms,
	})
	if err != nil {
		return errors.E(fmt.Sprintf("authorize ingress to security group %s", id), err)
	}
	return nil
}

func tcpFrom(cidr string, port int64) *ec2.IpPermission {
	return &ec2.IpPermission{
		IpProtocol: aws.String("tcp"),
		IpRanges:   []*ec2.IpRange{{CidrIp: aws.String(cidr)}},
		FromPort:   aws.Int64(port),
		ToPort:     aws.Int64(port),
	}
}
