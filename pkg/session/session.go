// Package session holds the AWS context shared by every sfini component:
// the region and account used to build ARNs, and the Step Functions client.
package session

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SFNAPI is the subset of the Step Functions client used by sfini.
// *sfn.Client satisfies it; tests substitute an in-memory fake.
type SFNAPI interface {
	CreateActivity(ctx context.Context, in *sfn.CreateActivityInput, optFns ...func(*sfn.Options)) (*sfn.CreateActivityOutput, error)
	DeleteActivity(ctx context.Context, in *sfn.DeleteActivityInput, optFns ...func(*sfn.Options)) (*sfn.DeleteActivityOutput, error)
	ListActivities(ctx context.Context, in *sfn.ListActivitiesInput, optFns ...func(*sfn.Options)) (*sfn.ListActivitiesOutput, error)

	GetActivityTask(ctx context.Context, in *sfn.GetActivityTaskInput, optFns ...func(*sfn.Options)) (*sfn.GetActivityTaskOutput, error)
	SendTaskSuccess(ctx context.Context, in *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, in *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
	SendTaskHeartbeat(ctx context.Context, in *sfn.SendTaskHeartbeatInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskHeartbeatOutput, error)

	CreateStateMachine(ctx context.Context, in *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	UpdateStateMachine(ctx context.Context, in *sfn.UpdateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error)
	DeleteStateMachine(ctx context.Context, in *sfn.DeleteStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DeleteStateMachineOutput, error)
	ListStateMachines(ctx context.Context, in *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)

	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	StopExecution(ctx context.Context, in *sfn.StopExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StopExecutionOutput, error)
	ListExecutions(ctx context.Context, in *sfn.ListExecutionsInput, optFns ...func(*sfn.Options)) (*sfn.ListExecutionsOutput, error)
	GetExecutionHistory(ctx context.Context, in *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
}

// Session carries the AWS region, account and Step Functions client.
type Session struct {
	Region    string
	AccountID string

	client SFNAPI
}

type options struct {
	region  string
	profile string
}

// Option configures New.
type Option func(*options)

// WithRegion overrides the region from the environment/shared config.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithProfile selects a shared-config profile.
func WithProfile(profile string) Option {
	return func(o *options) { o.profile = profile }
}

// New loads the default AWS configuration and resolves the caller's account.
func New(ctx context.Context, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	if o.profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("loading AWS config: no region configured")
	}

	ident, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolving AWS account: %w", err)
	}

	return &Session{
		Region:    cfg.Region,
		AccountID: aws.ToString(ident.Account),
		client:    sfn.NewFromConfig(cfg),
	}, nil
}

// NewStatic builds a Session from known values, without touching AWS.
func NewStatic(region, accountID string, client SFNAPI) *Session {
	return &Session{Region: region, AccountID: accountID, client: client}
}

// SFN returns the Step Functions client.
func (s *Session) SFN() SFNAPI {
	return s.client
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(region=%s, account=%s)", s.Region, s.AccountID)
}

// ActivityARN returns the ARN SFN assigns to the named activity.
func (s *Session) ActivityARN(name string) string {
	return fmt.Sprintf("arn:aws:states:%s:%s:activity:%s", s.Region, s.AccountID, name)
}

// StateMachineARN returns the ARN SFN assigns to the named state machine.
func (s *Session) StateMachineARN(name string) string {
	return fmt.Sprintf("arn:aws:states:%s:%s:stateMachine:%s", s.Region, s.AccountID, name)
}

// ExecutionARN returns the ARN of an execution of the named state machine.
func (s *Session) ExecutionARN(stateMachine, execution string) string {
	return fmt.Sprintf("arn:aws:states:%s:%s:execution:%s:%s", s.Region, s.AccountID, stateMachine, execution)
}

// LambdaARN returns the ARN of the named Lambda function.
func (s *Session) LambdaARN(function string) string {
	return fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", s.Region, s.AccountID, function)
}
