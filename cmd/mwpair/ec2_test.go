// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type fakeEC2 struct {
	groups     []*ec2.SecurityGroup
	vpcs       []*ec2.Vpc
	created    *ec2.CreateSecurityGroupInput
	authorized *ec2.AuthorizeSecurityGroupIngressInput
	tagged     *ec2.CreateTagsInput
}

func (f *fakeEC2) DescribeSecurityGroups(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error) {
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: f.groups}, nil
}

func (f *fakeEC2) DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: f.vpcs}, nil
}

func (f *fakeEC2) CreateSecurityGroup(in *ec2.CreateSecurityGroupInput) (*ec2.CreateSecurityGroupOutput, error) {
	f.created = in
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String("sg-new")}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(in *ec2.AuthorizeSecurityGroupIngressInput) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.authorized = in
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) CreateTags(in *ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error) {
	f.tagged = in
	return &ec2.CreateTagsOutput{}, nil
}

func ports(perms []*ec2.IpPermission) []int64 {
	var ps []int64
	for _, p := range perms {
		ps = append(ps, aws.Int64Value(p.FromPort))
	}
	return ps
}

func TestSecurityGroupExisting(t *testing.T) {
	svc := &fakeEC2{groups: []*ec2.SecurityGroup{{GroupId: aws.String("sg-old")}}}
	sg := securityGroup{svc: svc, name: "mwpair"}
	id, err := sg.setup()
	assert.NoError(t, err)
	expect.EQ(t, id, "sg-old")
	if svc.created != nil || svc.authorized != nil {
		t.Error("existing security group was modified")
	}
}

func TestSecurityGroupCreate(t *testing.T) {
	svc := &fakeEC2{vpcs: []*ec2.Vpc{{VpcId: aws.String("vpc-1"), CidrBlock: aws.String("10.0.0.0/16")}}}
	sg := securityGroup{svc: svc, name: "mwpair"}
	id, err := sg.setup()
	assert.NoError(t, err)
	expect.EQ(t, id, "sg-new")
	assert.NotNil(t, svc.created)
	expect.EQ(t, aws.StringValue(svc.created.VpcId), "vpc-1")
	assert.NotNil(t, svc.authorized)
	expect.EQ(t, aws.StringValue(svc.authorized.GroupId), "sg-new")
	// Only the coordinator's network may reach the workers' RPC port.
	expect.EQ(t, ports(svc.authorized.IpPermissions), []int64{workerPort})
	expect.EQ(t, aws.StringValue(svc.authorized.IpPermissions[0].IpRanges[0].CidrIp), "10.0.0.0/16")
	assert.NotNil(t, svc.tagged)
}

func TestSecurityGroupSSH(t *testing.T) {
	svc := &fakeEC2{vpcs: []*ec2.Vpc{{VpcId: aws.String("vpc-2"), CidrBlock: aws.String("10.0.0.0/16")}}}
	sg := securityGroup{svc: svc, name: "mwpair", vpc: "vpc-2", cidr: "192.168.1.0/24", ssh: true}
	_, err := sg.setup()
	assert.NoError(t, err)
	expect.EQ(t, ports(svc.authorized.IpPermissions), []int64{workerPort, 22})
	for _, p := range svc.authorized.IpPermissions {
		expect.EQ(t, aws.StringValue(p.IpRanges[0].CidrIp), "192.168.1.0/24")
	}
}

func TestSecurityGroupNoVPC(t *testing.T) {
	svc := new(fakeEC2)
	sg := securityGroup{svc: svc, name: "mwpair"}
	if _, err := sg.setup(); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want not exist", err)
	}
	if svc.created != nil {
		t.Error("security group created without a VPC")
	}
}

func TestSecurityGroupAmbiguous(t *testing.T) {
	svc := &fakeEC2{groups: []*ec2.SecurityGroup{{GroupId: aws.String("sg-1")}, {GroupId: aws.String("sg-2")}}}
	sg := securityGroup{svc: svc, name: "mwpair"}
	if _, err := sg.setup(); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want invalid", err)
	}
}
