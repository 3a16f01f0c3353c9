// Package statemachine builds state machines from linked states and manages
// them in Step Functions: registration, executions and listing.
package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/pkg/execution"
	"github.com/valter-silva-au/sfini/pkg/session"
	"github.com/valter-silva-au/sfini/pkg/state"
)

// StateMachine is a named graph of states.
type StateMachine struct {
	Name           string
	Comment        string
	TimeoutSeconds int
	RoleARN        string

	start   state.State
	states  map[string]state.State
	session *session.Session
	logger  *zap.Logger
}

// Option configures Construct.
type Option func(*StateMachine)

// WithComment sets the definition's top-level comment.
func WithComment(c string) Option {
	return func(sm *StateMachine) { sm.Comment = c }
}

// WithTimeout bounds the execution time of the whole state machine.
func WithTimeout(seconds int) Option {
	return func(sm *StateMachine) { sm.TimeoutSeconds = seconds }
}

// WithRoleARN sets the IAM role SFN assumes to run the state machine.
func WithRoleARN(arn string) Option {
	return func(sm *StateMachine) { sm.RoleARN = arn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(sm *StateMachine) { sm.logger = l }
}

// Construct builds a state machine from its start state, collecting every
// state reachable from it.
func Construct(name string, start state.State, sess *session.Session, opts ...Option) (*StateMachine, error) {
	if err := session.ValidateName(name); err != nil {
		return nil, fmt.Errorf("constructing state machine: %w", err)
	}
	if start == nil {
		return nil, fmt.Errorf("constructing state machine '%s': %w: no start state", name, state.ErrInvalidState)
	}
	states, err := state.Collect(start)
	if err != nil {
		return nil, fmt.Errorf("constructing state machine '%s': %w", name, err)
	}
	sm := &StateMachine{
		Name:    name,
		start:   start,
		states:  states,
		session: sess,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm, nil
}

func (sm *StateMachine) String() string {
	return fmt.Sprintf("StateMachine '%s'", sm.Name)
}

// ARN is the state machine's generated ARN.
func (sm *StateMachine) ARN() string {
	return sm.session.StateMachineARN(sm.Name)
}

// States returns the collected states by name.
func (sm *StateMachine) States() map[string]state.State {
	return sm.states
}

// Definition renders the ASL document.
func (sm *StateMachine) Definition() (map[string]any, error) {
	startAt, states, err := state.Render(sm.start)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", sm, err)
	}
	d := map[string]any{"StartAt": startAt, "States": states}
	if sm.Comment != "" {
		d["Comment"] = sm.Comment
	}
	if sm.TimeoutSeconds > 0 {
		d["TimeoutSeconds"] = sm.TimeoutSeconds
	}
	return d, nil
}

// DefinitionJSON renders the ASL document as indented JSON.
func (sm *StateMachine) DefinitionJSON() (string, error) {
	d, err := sm.Definition()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s definition: %w", sm, err)
	}
	return string(b), nil
}

// Register creates the state machine in SFN. When it already exists and
// allowUpdate is set, its definition and role are updated instead.
func (sm *StateMachine) Register(ctx context.Context, allowUpdate bool) error {
	if sm.RoleARN == "" {
		return fmt.Errorf("registering %s: no role ARN", sm)
	}
	def, err := sm.DefinitionJSON()
	if err != nil {
		return err
	}
	return Publish(ctx, sm.session, sm.logger, sm.Name, def, sm.RoleARN, allowUpdate)
}

// Publish creates or updates a state machine from an ASL document.
func Publish(ctx context.Context, sess *session.Session, logger *zap.Logger, name, definition, roleARN string, allowUpdate bool) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	resp, err := sess.SFN().CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
		Name:       aws.String(name),
		Definition: aws.String(definition),
		RoleArn:    aws.String(roleARN),
	})
	if err == nil {
		logger.Info("state machine registered",
			zap.String("state_machine", name),
			zap.String("arn", aws.ToString(resp.StateMachineArn)))
		return nil
	}

	var exists *types.StateMachineAlreadyExists
	if !allowUpdate || !errors.As(err, &exists) {
		return fmt.Errorf("registering state machine '%s': %w", name, err)
	}

	arn := sess.StateMachineARN(name)
	if _, err := sess.SFN().UpdateStateMachine(ctx, &sfn.UpdateStateMachineInput{
		StateMachineArn: aws.String(arn),
		Definition:      aws.String(definition),
		RoleArn:         aws.String(roleARN),
	}); err != nil {
		return fmt.Errorf("updating state machine '%s': %w", name, err)
	}
	logger.Info("state machine updated", zap.String("state_machine", name), zap.String("arn", arn))
	return nil
}

// Deregister deletes the state machine from SFN.
func (sm *StateMachine) Deregister(ctx context.Context) error {
	return Delete(ctx, sm.session, sm.logger, sm.Name)
}

// Delete removes the named state machine from SFN.
func Delete(ctx context.Context, sess *session.Session, logger *zap.Logger, name string) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	arn := sess.StateMachineARN(name)
	if _, err := sess.SFN().DeleteStateMachine(ctx, &sfn.DeleteStateMachineInput{StateMachineArn: aws.String(arn)}); err != nil {
		return fmt.Errorf("deleting state machine '%s': %w", name, err)
	}
	logger.Info("state machine deleted", zap.String("state_machine", name))
	return nil
}

// IsRegistered reports whether a state machine with this name exists.
func (sm *StateMachine) IsRegistered(ctx context.Context) (bool, error) {
	items, err := List(ctx, sm.session)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if aws.ToString(it.Name) == sm.Name {
			return true, nil
		}
	}
	return false, nil
}

// List returns every state machine in the account and region.
func List(ctx context.Context, sess *session.Session) ([]types.StateMachineListItem, error) {
	var items []types.StateMachineListItem
	p := sfn.NewListStateMachinesPaginator(sess.SFN(), &sfn.ListStateMachinesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing state machines: %w", err)
		}
		items = append(items, page.StateMachines...)
	}
	return items, nil
}

// StartExecution starts an execution with input. An empty name generates
// "<state machine>_<uuid>".
func (sm *StateMachine) StartExecution(ctx context.Context, input any, name string) (*execution.Execution, error) {
	if name == "" {
		name = DefaultExecutionName(sm.Name)
	}
	exec := execution.New(name, sm.ARN(), input, sm.session, execution.WithLogger(sm.logger))
	if err := exec.Start(ctx); err != nil {
		return nil, err
	}
	return exec, nil
}

// DefaultExecutionName builds a unique execution name for a state machine,
// trimmed to the SFN name limit.
func DefaultExecutionName(stateMachine string) string {
	suffix := "_" + uuid.NewString()
	keep := session.MaxNameLength - len(suffix)
	if runes := []rune(stateMachine); len(runes) > keep {
		stateMachine = string(runes[:keep])
	}
	return stateMachine + suffix
}

// ListExecutions returns executions of the state machine, optionally only
// those with status.
func (sm *StateMachine) ListExecutions(ctx context.Context, status types.ExecutionStatus) ([]*execution.Execution, error) {
	return execution.List(ctx, sm.session, sm.ARN(), status)
}
