// Package emr launches and describes analysis clusters on Amazon EMR.
package emr

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"

	"github.com/kiranshivaraju/datapump/internal/apperrors"
	"github.com/kiranshivaraju/datapump/internal/cluster"
	"github.com/kiranshivaraju/datapump/internal/launchplan"
)

// API is the subset of the EMR client used here.
type API interface {
	RunJobFlow(ctx context.Context, params *emr.RunJobFlowInput, optFns ...func(*emr.Options)) (*emr.RunJobFlowOutput, error)
	DescribeCluster(ctx context.Context, params *emr.DescribeClusterInput, optFns ...func(*emr.Options)) (*emr.DescribeClusterOutput, error)
}

// Client implements cluster.Service on EMR.
type Client struct {
	api     API
	timeout time.Duration
}

func NewClient(api API, timeout time.Duration) *Client {
	return &Client{api: api, timeout: timeout}
}

// Submit starts a job flow and returns its cluster id.
func (c *Client) Submit(ctx context.Context, plan launchplan.Plan, steps []launchplan.Step) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.api.RunJobFlow(ctx, RunJobFlowInput(plan, steps))
	if err != nil {
		return "", apperrors.Submission("emr.RunJobFlow", err)
	}
	id := aws.ToString(out.JobFlowId)
	if id == "" {
		return "", apperrors.Submission("emr.RunJobFlow", fmt.Errorf("no job flow id returned"))
	}
	return id, nil
}

// Describe returns the cluster state and the code of its last state change.
func (c *Client) Describe(ctx context.Context, handle string) (cluster.State, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.api.DescribeCluster(ctx, &emr.DescribeClusterInput{ClusterId: aws.String(handle)})
	if err != nil {
		return cluster.State{}, apperrors.ServiceResponse("emr.DescribeCluster", err)
	}
	if out.Cluster == nil || out.Cluster.Status == nil {
		return cluster.State{}, apperrors.ServiceResponse("emr.DescribeCluster",
			fmt.Errorf("cluster %s has no status", handle))
	}

	status := out.Cluster.Status
	state := cluster.State{State: string(status.State)}
	if status.StateChangeReason != nil {
		state.Reason = string(status.StateChangeReason.Code)
	}
	return state, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// RunJobFlowInput translates a launch plan and its steps into an EMR request.
func RunJobFlowInput(plan launchplan.Plan, steps []launchplan.Step) *emr.RunJobFlowInput {
	in := &emr.RunJobFlowInput{
		Name:         aws.String(plan.Name),
		ReleaseLabel: aws.String(plan.ReleaseLabel),
		LogUri:       aws.String(plan.LogURI),
		Instances: &types.JobFlowInstancesConfig{
			InstanceFleets:              fleets(plan.Fleets),
			Ec2SubnetIds:                plan.Network.SubnetIDs,
			KeepJobFlowAliveWhenNoSteps: aws.Bool(plan.KeepAliveWhenNoSteps),
			TerminationProtected:        aws.Bool(plan.TerminationProtected),
		},
		JobFlowRole:       aws.String(plan.JobFlowRole),
		ServiceRole:       aws.String(plan.ServiceRole),
		VisibleToAllUsers: aws.Bool(plan.VisibleToAllUsers),
	}
	if plan.Network.KeyName != "" {
		in.Instances.Ec2KeyName = aws.String(plan.Network.KeyName)
	}

	for _, s := range steps {
		in.Steps = append(in.Steps, types.StepConfig{
			Name:            aws.String(s.Name),
			ActionOnFailure: types.ActionOnFailure(s.ActionOnFailure),
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar:  aws.String(s.Jar),
				Args: s.Args,
			},
		})
	}
	for _, app := range plan.Applications {
		in.Applications = append(in.Applications, types.Application{Name: aws.String(app)})
	}
	for _, cfg := range plan.Configurations {
		in.Configurations = append(in.Configurations, types.Configuration{
			Classification: aws.String(cfg.Classification),
			Properties:     cfg.Properties,
		})
	}
	for _, t := range plan.Tags {
		in.Tags = append(in.Tags, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return in
}

func fleets(in []launchplan.InstanceFleet) []types.InstanceFleetConfig {
	out := make([]types.InstanceFleetConfig, 0, len(in))
	for _, f := range in {
		fc := types.InstanceFleetConfig{
			Name:              aws.String(f.Name),
			InstanceFleetType: types.InstanceFleetType(f.Role),
		}
		if f.OnDemandCapacity > 0 {
			fc.TargetOnDemandCapacity = aws.Int32(int32(f.OnDemandCapacity))
		}
		if f.SpotCapacity > 0 {
			fc.TargetSpotCapacity = aws.Int32(int32(f.SpotCapacity))
		}
		for _, it := range f.InstanceTypes {
			fc.InstanceTypeConfigs = append(fc.InstanceTypeConfigs, types.InstanceTypeConfig{
				InstanceType: aws.String(it.InstanceType),
				EbsConfiguration: &types.EbsConfiguration{
					EbsBlockDeviceConfigs: []types.EbsBlockDeviceConfig{{
						VolumeSpecification: &types.VolumeSpecification{
							VolumeType: aws.String(it.Volume.Type),
							SizeInGB:   aws.Int32(int32(it.Volume.SizeGB)),
						},
						VolumesPerInstance: aws.Int32(int32(it.Volume.PerInstance)),
					}},
					EbsOptimized: aws.Bool(it.EBSOptimized),
				},
			})
		}
		out = append(out, fc)
	}
	return out
}

// Compile-time check that Client implements cluster.Service.
var _ cluster.Service = (*Client)(nil)
