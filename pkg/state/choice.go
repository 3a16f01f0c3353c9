package state

import (
	"fmt"
	"time"
)

// Rule is a Choice condition.
type Rule interface {
	rule() (map[string]any, error)
}

// Comparison compares the value at Variable with a literal.
type Comparison struct {
	Variable string
	Operator string
	Value    any
}

func (c *Comparison) rule() (map[string]any, error) {
	if c.Variable == "" {
		return nil, fmt.Errorf("%w: %s comparison has no variable", ErrInvalidState, c.Operator)
	}
	return map[string]any{"Variable": c.Variable, c.Operator: c.Value}, nil
}

func compare(op, variable string, value any) *Comparison {
	return &Comparison{Variable: variable, Operator: op, Value: value}
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// BooleanEquals matches when the boolean at variable equals v.
func BooleanEquals(variable string, v bool) *Comparison {
	return compare("BooleanEquals", variable, v)
}

// NumericEquals matches when the number at variable equals v.
func NumericEquals(variable string, v float64) *Comparison {
	return compare("NumericEquals", variable, v)
}

// NumericGreaterThan matches when the number at variable is greater than v.
func NumericGreaterThan(variable string, v float64) *Comparison {
	return compare("NumericGreaterThan", variable, v)
}

// NumericGreaterThanEquals matches when the number at variable is greater than or equal to v.
func NumericGreaterThanEquals(variable string, v float64) *Comparison {
	return compare("NumericGreaterThanEquals", variable, v)
}

// NumericLessThan matches when the number at variable is less than v.
func NumericLessThan(variable string, v float64) *Comparison {
	return compare("NumericLessThan", variable, v)
}

// NumericLessThanEquals matches when the number at variable is less than or equal to v.
func NumericLessThanEquals(variable string, v float64) *Comparison {
	return compare("NumericLessThanEquals", variable, v)
}

// StringEquals matches when the string at variable equals v.
func StringEquals(variable, v string) *Comparison {
	return compare("StringEquals", variable, v)
}

// StringGreaterThan matches when the string at variable is greater than v.
func StringGreaterThan(variable, v string) *Comparison {
	return compare("StringGreaterThan", variable, v)
}

// StringGreaterThanEquals matches when the string at variable is greater than or equal to v.
func StringGreaterThanEquals(variable, v string) *Comparison {
	return compare("StringGreaterThanEquals", variable, v)
}

// StringLessThan matches when the string at variable is less than v.
func StringLessThan(variable, v string) *Comparison {
	return compare("StringLessThan", variable, v)
}

// StringLessThanEquals matches when the string at variable is less than or equal to v.
func StringLessThanEquals(variable, v string) *Comparison {
	return compare("StringLessThanEquals", variable, v)
}

// TimestampEquals matches when the timestamp at variable equals v.
func TimestampEquals(variable string, v time.Time) *Comparison {
	return compare("TimestampEquals", variable, timestamp(v))
}

// TimestampGreaterThan matches when the timestamp at variable is greater than v.
func TimestampGreaterThan(variable string, v time.Time) *Comparison {
	return compare("TimestampGreaterThan", variable, timestamp(v))
}

// TimestampGreaterThanEquals matches when the timestamp at variable is greater than or equal to v.
func TimestampGreaterThanEquals(variable string, v time.Time) *Comparison {
	return compare("TimestampGreaterThanEquals", variable, timestamp(v))
}

// TimestampLessThan matches when the timestamp at variable is less than v.
func TimestampLessThan(variable string, v time.Time) *Comparison {
	return compare("TimestampLessThan", variable, timestamp(v))
}

// TimestampLessThanEquals matches when the timestamp at variable is less than or equal to v.
func TimestampLessThanEquals(variable string, v time.Time) *Comparison {
	return compare("TimestampLessThanEquals", variable, timestamp(v))
}

type logical struct {
	op    string
	rules []Rule
}

func (l *logical) rule() (map[string]any, error) {
	if len(l.rules) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one rule", ErrInvalidState, l.op)
	}
	sub := make([]any, 0, len(l.rules))
	for _, r := range l.rules {
		d, err := r.rule()
		if err != nil {
			return nil, err
		}
		sub = append(sub, d)
	}
	return map[string]any{l.op: sub}, nil
}

// And matches when every rule matches.
func And(rules ...Rule) Rule {
	return &logical{op: "And", rules: rules}
}

// Or matches when any rule matches.
func Or(rules ...Rule) Rule {
	return &logical{op: "Or", rules: rules}
}

type not struct {
	r Rule
}

func (n *not) rule() (map[string]any, error) {
	if n.r == nil {
		return nil, fmt.Errorf("%w: Not needs a rule", ErrInvalidState)
	}
	d, err := n.r.rule()
	if err != nil {
		return nil, err
	}
	return map[string]any{"Not": d}, nil
}

// Not matches when r does not.
func Not(r Rule) Rule {
	return &not{r: r}
}

type branch struct {
	rule Rule
	next State
}

// Choice branches on the first matching rule, falling back to Default.
type Choice struct {
	common
	Default  State
	branches []branch
}

// NewChoice creates a Choice state with no rules.
func NewChoice(name string) *Choice {
	return &Choice{common: common{name: name}}
}

// When adds a rule moving to next when it matches.
func (s *Choice) When(r Rule, next State) *Choice {
	s.branches = append(s.branches, branch{rule: r, next: next})
	return s
}

// Otherwise sets the default state.
func (s *Choice) Otherwise(next State) *Choice {
	s.Default = next
	return s
}

// Definition renders the Choice with its rules and Default.
func (s *Choice) Definition() (map[string]any, error) {
	if len(s.branches) == 0 {
		return nil, fmt.Errorf("%w: choice '%s' has no rules", ErrInvalidState, s.name)
	}
	d := s.definition("Choice")
	choices := make([]any, 0, len(s.branches))
	for _, b := range s.branches {
		if b.rule == nil || b.next == nil {
			return nil, fmt.Errorf("%w: choice '%s' needs a rule and a next state for each branch", ErrInvalidState, s.name)
		}
		rd, err := b.rule.rule()
		if err != nil {
			return nil, fmt.Errorf("choice '%s': %w", s.name, err)
		}
		rd["Next"] = b.next.Name()
		choices = append(choices, rd)
	}
	d["Choices"] = choices
	if s.Default != nil {
		d["Default"] = s.Default.Name()
	}
	return d, nil
}

func (s *Choice) transitions() []State {
	out := make([]State, 0, len(s.branches)+1)
	for _, b := range s.branches {
		out = append(out, b.next)
	}
	return append(out, s.Default)
}
