package observability

import (
	"fmt"
	"time"
)

// ActivityMetrics counts task outcomes of one activity.
type ActivityMetrics struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	// AvgDurationMs averages succeeded and failed tasks.
	AvgDurationMs float64 `json:"avg_duration_ms"`

	durationTotal float64
	durationCount int
}

// FailureRate is failed over finished tasks, 0 when none finished.
func (a *ActivityMetrics) FailureRate() float64 {
	finished := a.Succeeded + a.Failed
	if finished == 0 {
		return 0
	}
	return float64(a.Failed) / float64(finished)
}

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	TasksStarted            int                         `json:"tasks_started"`
	TasksSucceeded          int                         `json:"tasks_succeeded"`
	TasksFailed             int                         `json:"tasks_failed"`
	TasksCancelled          int                         `json:"tasks_cancelled"`
	Activities              map[string]*ActivityMetrics `json:"activities"`
	FailuresByCode          map[string]int              `json:"failures_by_code"`
	ActivitiesRegistered    int                         `json:"activities_registered"`
	StateMachinesRegistered int                         `json:"state_machines_registered"`
	ExecutionsStarted       int                         `json:"executions_started"`
	ExecutionsStopped       int                         `json:"executions_stopped"`
	ExecutionsByStatus      map[string]int              `json:"executions_by_status"`
	EventCount              int                         `json:"event_count"`
	OldestEvent             *time.Time                  `json:"oldest_event,omitempty"`
	NewestEvent             *time.Time                  `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a MetricsCalculator reading from eventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate aggregates every event since the given time.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		Activities:         make(map[string]*ActivityMetrics),
		FailuresByCode:     make(map[string]int),
		ExecutionsByStatus: make(map[string]int),
		EventCount:         len(events),
	}
	activity := func(e Event) *ActivityMetrics {
		name, _ := e.Data["activity"].(string)
		am, ok := m.Activities[name]
		if !ok {
			am = &ActivityMetrics{}
			m.Activities[name] = am
		}
		return am
	}

	for i, event := range events {
		t := event.Time
		if i == 0 {
			m.OldestEvent = &t
		}
		m.NewestEvent = &t

		switch event.Type {
		case EventTaskStarted:
			m.TasksStarted++
			activity(event).Started++
		case EventTaskSucceeded:
			m.TasksSucceeded++
			am := activity(event)
			am.Succeeded++
			am.addDuration(event)
		case EventTaskFailed:
			m.TasksFailed++
			am := activity(event)
			am.Failed++
			am.addDuration(event)
			if code, ok := event.Data["error"].(string); ok {
				m.FailuresByCode[code]++
			}
		case EventTaskCancelled:
			m.TasksCancelled++
			activity(event).Cancelled++
		case EventActivityRegistered:
			m.ActivitiesRegistered++
		case EventStateMachineRegistered:
			m.StateMachinesRegistered++
		case EventExecutionStarted:
			m.ExecutionsStarted++
		case EventExecutionStopped:
			m.ExecutionsStopped++
		case EventExecutionFinished:
			if status, ok := event.Data["status"].(string); ok {
				m.ExecutionsByStatus[status]++
			}
		}
	}
	return m, nil
}

func (a *ActivityMetrics) addDuration(e Event) {
	var d float64
	switch v := e.Data["duration_ms"].(type) {
	case float64:
		d = v
	case int64:
		d = float64(v)
	case int:
		d = float64(v)
	default:
		return
	}
	a.durationTotal += d
	a.durationCount++
	a.AvgDurationMs = a.durationTotal / float64(a.durationCount)
}
