package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWSConfig holds the EC2 control-plane settings
type AWSConfig struct {
	Region        string
	AMIID         string
	KeyName       string
	SecurityGroup string
	ProvisionWait time.Duration
	TerminateWait time.Duration
}

// EC2ControlPlane implements ControlPlane against EC2
type EC2ControlPlane struct {
	client *ec2.Client
	cfg    AWSConfig
}

// NewEC2ControlPlane creates an EC2-backed control plane using the ambient
// AWS credential chain.
func NewEC2ControlPlane(ctx context.Context, cfg AWSConfig) (*EC2ControlPlane, error) {
	if cfg.ProvisionWait <= 0 {
		cfg.ProvisionWait = 10 * time.Minute
	}
	if cfg.TerminateWait <= 0 {
		cfg.TerminateWait = 10 * time.Minute
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EC2ControlPlane{
		client: ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

func (c *EC2ControlPlane) Allocate(ctx context.Context, instanceClass string) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(c.cfg.AMIID),
		InstanceType: types.InstanceType(instanceClass),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		KeyName:      aws.String(c.cfg.KeyName),
		SecurityGroups: []string{
			c.cfg.SecurityGroup,
		},
		EbsOptimized: aws.Bool(true),
	}

	result, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("RunInstances failed: %w", err)
	}

	if len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return "", fmt.Errorf("RunInstances returned no instance")
	}

	return *result.Instances[0].InstanceId, nil
}

func (c *EC2ControlPlane) Tag(ctx context.Context, instanceID, name string) error {
	_, err := c.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags: []types.Tag{
			{
				Key:   aws.String("Name"),
				Value: aws.String(name),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("CreateTags failed: %w", err)
	}

	return nil
}

func (c *EC2ControlPlane) AwaitRunning(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceRunningWaiter(c.client)
	input := &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}

	if err := waiter.Wait(ctx, input, c.cfg.ProvisionWait); err != nil {
		return fmt.Errorf("instance running waiter failed: %w", err)
	}

	return nil
}

func (c *EC2ControlPlane) PrivateAddress(ctx context.Context, instanceID string) (string, error) {
	result, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", fmt.Errorf("DescribeInstances failed: %w", err)
	}

	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return "", fmt.Errorf("instance %s not found", instanceID)
	}

	inst := result.Reservations[0].Instances[0]
	if inst.PrivateDnsName == nil || *inst.PrivateDnsName == "" {
		return "", fmt.Errorf("instance %s has no private DNS name", instanceID)
	}

	return *inst.PrivateDnsName, nil
}

func (c *EC2ControlPlane) Terminate(ctx context.Context, instanceID string) error {
	// TerminateInstances is idempotent: repeating it for an instance that
	// is already shutting down or terminated succeeds.
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("TerminateInstances failed: %w", err)
	}

	return nil
}

func (c *EC2ControlPlane) AwaitTerminated(ctx context.Context, instanceID string) error {
	waiter := ec2.NewInstanceTerminatedWaiter(c.client)
	input := &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}

	if err := waiter.Wait(ctx, input, c.cfg.TerminateWait); err != nil {
		return fmt.Errorf("instance terminated waiter failed: %w", err)
	}

	return nil
}
