package state

import (
	"fmt"
	"time"
)

// Wait delays the execution, either for a duration or until a time, each
// given literally or via a path into the input.
type Wait struct {
	common
	transition
	// Seconds is nil when the wait is not a fixed duration; zero is a
	// valid wait.
	Seconds       *int
	Timestamp     time.Time
	SecondsPath   string
	TimestampPath string
}

// NewWait creates a Wait state for a fixed duration.
func NewWait(name string, d time.Duration) *Wait {
	seconds := int(d / time.Second)
	return &Wait{common: common{name: name}, Seconds: &seconds}
}

// NewWaitUntil creates a Wait state ending at t.
func NewWaitUntil(name string, t time.Time) *Wait {
	return &Wait{common: common{name: name}, Timestamp: t}
}

// NewWaitSecondsPath waits for the number of seconds found at path.
func NewWaitSecondsPath(name, path string) *Wait {
	return &Wait{common: common{name: name}, SecondsPath: path}
}

// NewWaitTimestampPath waits until the timestamp found at path.
func NewWaitTimestampPath(name, path string) *Wait {
	return &Wait{common: common{name: name}, TimestampPath: path}
}

// Definition renders the Wait. Exactly one way of waiting must be set.
func (s *Wait) Definition() (map[string]any, error) {
	d := s.definition("Wait")
	set := 0
	if s.Seconds != nil {
		if *s.Seconds < 0 {
			return nil, fmt.Errorf("%w: wait '%s' has negative Seconds %d", ErrInvalidState, s.name, *s.Seconds)
		}
		d["Seconds"] = *s.Seconds
		set++
	}
	if !s.Timestamp.IsZero() {
		d["Timestamp"] = s.Timestamp.UTC().Format(time.RFC3339)
		set++
	}
	if s.SecondsPath != "" {
		d["SecondsPath"] = s.SecondsPath
		set++
	}
	if s.TimestampPath != "" {
		d["TimestampPath"] = s.TimestampPath
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: wait '%s' needs exactly one of Seconds, Timestamp, SecondsPath, TimestampPath", ErrInvalidState, s.name)
	}
	s.render(d)
	return d, nil
}

func (s *Wait) transitions() []State { return []State{s.next} }
