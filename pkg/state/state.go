// Package state models Amazon States Language states. States are linked
// into a graph with GoesTo, When and Catch; Collect walks that graph from
// its start state and Render turns it into an ASL document.
package state

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateState is returned when two distinct states share a name.
	ErrDuplicateState = errors.New("duplicate state name")
	// ErrInvalidState is returned when a state cannot be rendered to ASL.
	ErrInvalidState = errors.New("invalid state")
)

// State is one node of a state machine.
type State interface {
	Name() string
	// Definition renders the state as an ASL state object.
	Definition() (map[string]any, error)
	// transitions lists the states reachable directly from this one.
	transitions() []State
}

// common holds the fields every state type carries.
type common struct {
	name       string
	Comment    string
	InputPath  string
	OutputPath string
}

func (c *common) Name() string { return c.name }

func (c *common) definition(kind string) map[string]any {
	d := map[string]any{"Type": kind}
	if c.Comment != "" {
		d["Comment"] = c.Comment
	}
	if c.InputPath != "" {
		d["InputPath"] = c.InputPath
	}
	if c.OutputPath != "" {
		d["OutputPath"] = c.OutputPath
	}
	return d
}

// transition is embedded by states that may continue to another state.
type transition struct {
	next State
}

// GoesTo sets the state executed after this one. A nil next ends the
// state machine (or branch) here.
func (t *transition) GoesTo(next State) {
	t.next = next
}

// NextState returns the following state, or nil if this state ends.
func (t *transition) NextState() State {
	return t.next
}

func (t *transition) render(d map[string]any) {
	if t.next != nil {
		d["Next"] = t.next.Name()
	} else {
		d["End"] = true
	}
}

// Collect walks the graph from start and returns its states by name.
func Collect(start State) (map[string]State, error) {
	states := make(map[string]State)
	stack := []State{start}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s == nil {
			continue
		}
		if existing, ok := states[s.Name()]; ok {
			if existing != s {
				return nil, fmt.Errorf("%w: '%s'", ErrDuplicateState, s.Name())
			}
			continue
		}
		states[s.Name()] = s
		stack = append(stack, s.transitions()...)
	}
	return states, nil
}

// Render collects the graph from start and renders each state, returning
// the StartAt name and the ASL "States" object.
func Render(start State) (string, map[string]any, error) {
	if start == nil {
		return "", nil, fmt.Errorf("%w: no start state", ErrInvalidState)
	}
	states, err := Collect(start)
	if err != nil {
		return "", nil, err
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make(map[string]any, len(states))
	for _, name := range names {
		d, err := states[name].Definition()
		if err != nil {
			return "", nil, fmt.Errorf("rendering state '%s': %w", name, err)
		}
		defs[name] = d
	}
	return start.Name(), defs, nil
}

// Succeed ends the state machine successfully.
type Succeed struct {
	common
}

// NewSucceed creates a Succeed state.
func NewSucceed(name string) *Succeed {
	return &Succeed{common: common{name: name}}
}

// Definition renders the Succeed state.
func (s *Succeed) Definition() (map[string]any, error) {
	return s.definition("Succeed"), nil
}

func (s *Succeed) transitions() []State { return nil }

// Fail ends the state machine with an error.
type Fail struct {
	common
	Error string
	Cause string
}

// NewFail creates a Fail state.
func NewFail(name, errorCode, cause string) *Fail {
	return &Fail{common: common{name: name}, Error: errorCode, Cause: cause}
}

// Definition renders the Fail state with its Error and Cause.
func (s *Fail) Definition() (map[string]any, error) {
	d := s.definition("Fail")
	if s.Error != "" {
		d["Error"] = s.Error
	}
	if s.Cause != "" {
		d["Cause"] = s.Cause
	}
	return d, nil
}

func (s *Fail) transitions() []State { return nil }

// Pass passes its input (or a fixed Result) to its output.
type Pass struct {
	common
	transition
	Result     any
	ResultPath string
	Parameters map[string]any
}

// NewPass creates a Pass state.
func NewPass(name string) *Pass {
	return &Pass{common: common{name: name}}
}

// Definition renders the Pass state, its Result and paths.
func (s *Pass) Definition() (map[string]any, error) {
	d := s.definition("Pass")
	if s.Result != nil {
		d["Result"] = s.Result
	}
	if s.ResultPath != "" {
		d["ResultPath"] = s.ResultPath
	}
	if s.Parameters != nil {
		d["Parameters"] = s.Parameters
	}
	s.render(d)
	return d, nil
}

func (s *Pass) transitions() []State { return []State{s.next} }
