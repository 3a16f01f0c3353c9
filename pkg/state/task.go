package state

import (
	"fmt"

	"github.com/valter-silva-au/sfini/pkg/session"
)

// Resource is something a Task can invoke. Activities satisfy it.
type Resource interface {
	ResourceARN() string
}

// ARN is a Resource given directly by its ARN.
type ARN string

// ResourceARN returns the ARN.
func (a ARN) ResourceARN() string { return string(a) }

// Lambda is a Lambda function used as a task resource.
type Lambda struct {
	Name string

	session *session.Session
}

// NewLambda refers to the named Lambda function in the session's account.
func NewLambda(name string, sess *session.Session) *Lambda {
	return &Lambda{Name: name, session: sess}
}

// ResourceARN returns the function's ARN.
func (l *Lambda) ResourceARN() string {
	return l.session.LambdaARN(l.Name)
}

func (l *Lambda) String() string {
	return fmt.Sprintf("Lambda '%s'", l.Name)
}

// Retrier retries a failed Task or Parallel on matching errors.
type Retrier struct {
	ErrorEquals     []string
	IntervalSeconds int
	MaxAttempts     int
	BackoffRate     float64
}

func (r Retrier) definition() (map[string]any, error) {
	if len(r.ErrorEquals) == 0 {
		return nil, fmt.Errorf("%w: retrier needs at least one error", ErrInvalidState)
	}
	d := map[string]any{"ErrorEquals": r.ErrorEquals}
	if r.IntervalSeconds > 0 {
		d["IntervalSeconds"] = r.IntervalSeconds
	}
	if r.MaxAttempts > 0 {
		d["MaxAttempts"] = r.MaxAttempts
	}
	if r.BackoffRate != 0 {
		if r.BackoffRate < 1 {
			return nil, fmt.Errorf("%w: backoff rate %v is less than 1", ErrInvalidState, r.BackoffRate)
		}
		d["BackoffRate"] = r.BackoffRate
	}
	return d, nil
}

// Catcher moves to Next when a Task or Parallel fails with a matching error.
type Catcher struct {
	ErrorEquals []string
	Next        State
	ResultPath  string
}

func (c Catcher) definition() (map[string]any, error) {
	if len(c.ErrorEquals) == 0 {
		return nil, fmt.Errorf("%w: catcher needs at least one error", ErrInvalidState)
	}
	if c.Next == nil {
		return nil, fmt.Errorf("%w: catcher has no next state", ErrInvalidState)
	}
	d := map[string]any{"ErrorEquals": c.ErrorEquals, "Next": c.Next.Name()}
	if c.ResultPath != "" {
		d["ResultPath"] = c.ResultPath
	}
	return d, nil
}

// errorHandling is embedded by states supporting Retry and Catch.
type errorHandling struct {
	retriers []Retrier
	catchers []Catcher
}

// Retry adds a retrier. Retriers are tried in the order added.
func (e *errorHandling) Retry(r Retrier) {
	e.retriers = append(e.retriers, r)
}

// Catch adds a catcher moving to next on any of errs.
func (e *errorHandling) Catch(errs []string, next State, resultPath string) {
	e.catchers = append(e.catchers, Catcher{ErrorEquals: errs, Next: next, ResultPath: resultPath})
}

func (e *errorHandling) render(d map[string]any) error {
	if len(e.retriers) > 0 {
		retry := make([]any, 0, len(e.retriers))
		for _, r := range e.retriers {
			rd, err := r.definition()
			if err != nil {
				return err
			}
			retry = append(retry, rd)
		}
		d["Retry"] = retry
	}
	if len(e.catchers) > 0 {
		catch := make([]any, 0, len(e.catchers))
		for _, c := range e.catchers {
			cd, err := c.definition()
			if err != nil {
				return err
			}
			catch = append(catch, cd)
		}
		d["Catch"] = catch
	}
	return nil
}

func (e *errorHandling) catchTargets() []State {
	out := make([]State, 0, len(e.catchers))
	for _, c := range e.catchers {
		out = append(out, c.Next)
	}
	return out
}

// Task invokes a resource: an activity, a Lambda function or any ARN.
type Task struct {
	common
	transition
	errorHandling
	Resource   Resource
	ResultPath string
	Parameters map[string]any
	// TimeoutSeconds of zero leaves the service default.
	TimeoutSeconds int
	// HeartbeatSeconds of zero takes the resource's heartbeat when it has one.
	HeartbeatSeconds int
}

// NewTask creates a Task invoking resource.
func NewTask(name string, resource Resource) *Task {
	return &Task{common: common{name: name}, Resource: resource}
}

func (s *Task) heartbeat() int {
	if s.HeartbeatSeconds > 0 {
		return s.HeartbeatSeconds
	}
	if hb, ok := s.Resource.(interface{ HeartbeatSeconds() int }); ok {
		return hb.HeartbeatSeconds()
	}
	return 0
}

// Definition renders the Task. HeartbeatSeconds defaults to the
// resource's heartbeat when it has one.
func (s *Task) Definition() (map[string]any, error) {
	if s.Resource == nil {
		return nil, fmt.Errorf("%w: task '%s' has no resource", ErrInvalidState, s.name)
	}
	d := s.definition("Task")
	d["Resource"] = s.Resource.ResourceARN()
	if s.ResultPath != "" {
		d["ResultPath"] = s.ResultPath
	}
	if s.Parameters != nil {
		d["Parameters"] = s.Parameters
	}
	if s.TimeoutSeconds > 0 {
		d["TimeoutSeconds"] = s.TimeoutSeconds
	}
	if hb := s.heartbeat(); hb > 0 {
		if s.TimeoutSeconds > 0 && hb >= s.TimeoutSeconds {
			return nil, fmt.Errorf("%w: task '%s' heartbeat %ds is not below timeout %ds", ErrInvalidState, s.name, hb, s.TimeoutSeconds)
		}
		d["HeartbeatSeconds"] = hb
	}
	if err := s.errorHandling.render(d); err != nil {
		return nil, fmt.Errorf("task '%s': %w", s.name, err)
	}
	s.transition.render(d)
	return d, nil
}

func (s *Task) transitions() []State {
	return append([]State{s.next}, s.catchTargets()...)
}

// Parallel runs branches concurrently, each a separate state graph.
type Parallel struct {
	common
	transition
	errorHandling
	ResultPath string
	branches   []State
}

// NewParallel creates a Parallel state with no branches.
func NewParallel(name string) *Parallel {
	return &Parallel{common: common{name: name}}
}

// AddBranch adds a branch starting at start.
func (s *Parallel) AddBranch(start State) {
	s.branches = append(s.branches, start)
}

// Branches returns the start state of each branch.
func (s *Parallel) Branches() []State {
	return s.branches
}

// Definition renders the Parallel state with each branch as a nested
// state machine.
func (s *Parallel) Definition() (map[string]any, error) {
	if len(s.branches) == 0 {
		return nil, fmt.Errorf("%w: parallel '%s' has no branches", ErrInvalidState, s.name)
	}
	d := s.definition("Parallel")
	branches := make([]any, 0, len(s.branches))
	for i, b := range s.branches {
		startAt, states, err := Render(b)
		if err != nil {
			return nil, fmt.Errorf("parallel '%s' branch %d: %w", s.name, i, err)
		}
		branches = append(branches, map[string]any{"StartAt": startAt, "States": states})
	}
	d["Branches"] = branches
	if s.ResultPath != "" {
		d["ResultPath"] = s.ResultPath
	}
	if err := s.errorHandling.render(d); err != nil {
		return nil, fmt.Errorf("parallel '%s': %w", s.name, err)
	}
	s.transition.render(d)
	return d, nil
}

func (s *Parallel) transitions() []State {
	return append([]State{s.next}, s.catchTargets()...)
}
