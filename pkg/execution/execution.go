// Package execution starts and inspects state-machine executions.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/pkg/session"
)

// DefaultPollInterval is how often Wait describes the execution.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrNotStarted is returned by operations on an execution not yet started.
	ErrNotStarted = errors.New("execution not started")
	// ErrNotFinished is returned when output is requested while running.
	ErrNotFinished = errors.New("execution not finished")
	// ErrExecutionFailed is returned by Wait when the execution did not succeed.
	ErrExecutionFailed = errors.New("execution did not succeed")
)

// Execution is one run of a state machine.
type Execution struct {
	Name            string
	StateMachineARN string
	Input           any

	ARN       string
	Status    types.ExecutionStatus
	StartDate time.Time
	StopDate  time.Time
	Error     string
	Cause     string

	output  json.RawMessage
	session *session.Session
	logger  *zap.Logger
}

// Option configures an Execution.
type Option func(*Execution)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Execution) { e.logger = l }
}

// New prepares an execution of the state machine; call Start to run it.
func New(name, stateMachineARN string, input any, sess *session.Session, opts ...Option) *Execution {
	e := &Execution{
		Name:            name,
		StateMachineARN: stateMachineARN,
		Input:           input,
		session:         sess,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach refers to an existing execution by ARN; call Describe to load it.
func Attach(arn string, sess *session.Session, opts ...Option) *Execution {
	e := New("", "", nil, sess, opts...)
	e.ARN = arn
	return e
}

func (e *Execution) String() string {
	if e.Status == "" {
		return fmt.Sprintf("Execution '%s'", e.Name)
	}
	return fmt.Sprintf("Execution '%s' [%s]", e.Name, e.Status)
}

// Start starts the execution.
func (e *Execution) Start(ctx context.Context) error {
	if err := session.ValidateName(e.Name); err != nil {
		return fmt.Errorf("starting execution: %w", err)
	}
	input, err := encodeInput(e.Input)
	if err != nil {
		return fmt.Errorf("starting %s: %w", e, err)
	}
	resp, err := e.session.SFN().StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(e.StateMachineARN),
		Name:            aws.String(e.Name),
		Input:           aws.String(input),
	})
	if err != nil {
		return fmt.Errorf("starting %s: %w", e, err)
	}
	e.ARN = aws.ToString(resp.ExecutionArn)
	e.StartDate = aws.ToTime(resp.StartDate)
	e.Status = types.ExecutionStatusRunning
	e.logger.Info("execution started", zap.String("execution", e.Name), zap.String("arn", e.ARN))
	return nil
}

func encodeInput(v any) (string, error) {
	switch in := v.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		if !json.Valid(in) {
			return "", fmt.Errorf("input is not valid JSON")
		}
		return string(in), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}
	return string(b), nil
}

// Describe refreshes the execution's status from SFN.
func (e *Execution) Describe(ctx context.Context) error {
	if e.ARN == "" {
		return ErrNotStarted
	}
	resp, err := e.session.SFN().DescribeExecution(ctx, &sfn.DescribeExecutionInput{ExecutionArn: aws.String(e.ARN)})
	if err != nil {
		return fmt.Errorf("describing %s: %w", e, err)
	}
	e.Name = aws.ToString(resp.Name)
	e.StateMachineARN = aws.ToString(resp.StateMachineArn)
	e.Status = resp.Status
	e.StartDate = aws.ToTime(resp.StartDate)
	e.StopDate = aws.ToTime(resp.StopDate)
	e.Error = aws.ToString(resp.Error)
	e.Cause = aws.ToString(resp.Cause)
	if resp.Input != nil && e.Input == nil {
		e.Input = json.RawMessage(aws.ToString(resp.Input))
	}
	if resp.Output != nil {
		e.output = json.RawMessage(aws.ToString(resp.Output))
	}
	return nil
}

// Finished reports whether the last known status is terminal.
func (e *Execution) Finished() bool {
	return e.Status != "" && e.Status != types.ExecutionStatusRunning
}

// Wait polls until the execution finishes or ctx ends. A non-positive
// interval uses DefaultPollInterval. It returns ErrExecutionFailed when
// the execution finished in any status but SUCCEEDED.
func (e *Execution) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Describe(ctx); err != nil {
			return err
		}
		if e.Finished() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", e, ctx.Err())
		case <-ticker.C:
		}
	}

	if e.Status != types.ExecutionStatusSucceeded {
		return fmt.Errorf("%w: %s: %s: %s", ErrExecutionFailed, e, e.Error, e.Cause)
	}
	return nil
}

// Output returns the execution's JSON output, describing it first.
func (e *Execution) Output(ctx context.Context) (json.RawMessage, error) {
	if err := e.Describe(ctx); err != nil {
		return nil, err
	}
	if !e.Finished() {
		return nil, fmt.Errorf("%w: %s", ErrNotFinished, e)
	}
	if e.Status != types.ExecutionStatusSucceeded {
		return nil, fmt.Errorf("%w: %s: %s: %s", ErrExecutionFailed, e, e.Error, e.Cause)
	}
	return e.output, nil
}

// Stop aborts the execution, recording an optional error code and cause.
func (e *Execution) Stop(ctx context.Context, errorCode, cause string) error {
	if e.ARN == "" {
		return ErrNotStarted
	}
	in := &sfn.StopExecutionInput{ExecutionArn: aws.String(e.ARN)}
	if errorCode != "" {
		in.Error = aws.String(errorCode)
	}
	if cause != "" {
		in.Cause = aws.String(cause)
	}
	resp, err := e.session.SFN().StopExecution(ctx, in)
	if err != nil {
		return fmt.Errorf("stopping %s: %w", e, err)
	}
	e.Status = types.ExecutionStatusAborted
	e.StopDate = aws.ToTime(resp.StopDate)
	e.Error = errorCode
	e.Cause = cause
	e.logger.Info("execution stopped", zap.String("execution", e.Name), zap.String("error", errorCode))
	return nil
}

// List returns the executions of a state machine, optionally filtered by
// status (empty for all).
func List(ctx context.Context, sess *session.Session, stateMachineARN string, status types.ExecutionStatus) ([]*Execution, error) {
	var out []*Execution
	p := sfn.NewListExecutionsPaginator(sess.SFN(), &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(stateMachineARN),
		StatusFilter:    status,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing executions: %w", err)
		}
		for _, item := range page.Executions {
			e := New(aws.ToString(item.Name), aws.ToString(item.StateMachineArn), nil, sess)
			e.ARN = aws.ToString(item.ExecutionArn)
			e.Status = item.Status
			e.StartDate = aws.ToTime(item.StartDate)
			e.StopDate = aws.ToTime(item.StopDate)
			out = append(out, e)
		}
	}
	return out, nil
}
