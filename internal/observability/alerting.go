package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/valter-silva-au/sfini/pkg/worker"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID        string        `json:"id"`
	Condition string        `json:"condition"`
	Severity  AlertSeverity `json:"severity"`
	// Activity is the full name of the activity the alert concerns.
	Activity    string    `json:"activity,omitempty"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AlertThresholds configures when alerts fire.
type AlertThresholds struct {
	// FailureRatePercent of finished tasks of one activity.
	FailureRatePercent int `yaml:"failure_rate_percent" json:"failure_rate_percent"`
	// MinFinishedTasks before a failure rate is judged.
	MinFinishedTasks int `yaml:"min_finished_tasks" json:"min_finished_tasks"`
	// MaxCancelled tasks of one activity, usually heartbeat timeouts.
	MaxCancelled int `yaml:"max_cancelled" json:"max_cancelled"`
	// StuckMinutes a started task may run without a result.
	StuckMinutes int `yaml:"stuck_minutes" json:"stuck_minutes"`
}

// DefaultAlertThresholds returns the default thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		FailureRatePercent: 50,
		MinFinishedTasks:   5,
		MaxCancelled:       3,
		StuckMinutes:       60,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates an AlertEngine over eventLog.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks every condition and returns the triggered alerts sorted
// by ID.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkFailureRates(events, now)...)
	alerts = append(alerts, ae.checkCancellations(events, now)...)
	alerts = append(alerts, ae.checkStuckTasks(events, now)...)
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

func (ae *alertEngine) checkFailureRates(events []Event, now time.Time) []Alert {
	finished := make(map[string]*ActivityMetrics)
	for _, e := range events {
		if e.Type != EventTaskSucceeded && e.Type != EventTaskFailed {
			continue
		}
		name, _ := e.Data["activity"].(string)
		am, ok := finished[name]
		if !ok {
			am = &ActivityMetrics{}
			finished[name] = am
		}
		if e.Type == EventTaskFailed {
			am.Failed++
		} else {
			am.Succeeded++
		}
	}

	var alerts []Alert
	for name, am := range finished {
		if am.Succeeded+am.Failed < ae.thresholds.MinFinishedTasks {
			continue
		}
		rate := am.FailureRate() * 100
		if rate >= float64(ae.thresholds.FailureRatePercent) {
			alerts = append(alerts, Alert{
				ID:          "failure-rate-" + name,
				Condition:   "activity_failure_rate",
				Severity:    SeverityHigh,
				Activity:    name,
				Message:     fmt.Sprintf("activity %s failed %d of %d tasks (%.0f%%)", name, am.Failed, am.Succeeded+am.Failed, rate),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

func (ae *alertEngine) checkCancellations(events []Event, now time.Time) []Alert {
	cancelled := make(map[string]int)
	for _, e := range events {
		if e.Type == EventTaskCancelled {
			name, _ := e.Data["activity"].(string)
			cancelled[name]++
		}
	}

	var alerts []Alert
	for name, n := range cancelled {
		if n > ae.thresholds.MaxCancelled {
			alerts = append(alerts, Alert{
				ID:          "cancelled-" + name,
				Condition:   "tasks_cancelled",
				Severity:    SeverityMedium,
				Activity:    name,
				Message:     fmt.Sprintf("activity %s had %d tasks cancelled by SFN; check its heartbeat and timeout", name, n),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkStuckTasks looks for started tasks with no later result.
func (ae *alertEngine) checkStuckTasks(events []Event, now time.Time) []Alert {
	type started struct {
		activity string
		at       time.Time
	}
	open := make(map[string]started)
	for _, e := range events {
		token, _ := e.Data["token"].(string)
		if token == "" {
			continue
		}
		switch e.Type {
		case EventTaskStarted:
			name, _ := e.Data["activity"].(string)
			open[token] = started{activity: name, at: e.Time}
		case EventTaskSucceeded, EventTaskFailed, EventTaskCancelled:
			delete(open, token)
		}
	}

	threshold := time.Duration(ae.thresholds.StuckMinutes) * time.Minute
	var alerts []Alert
	for token, s := range open {
		if now.Sub(s.at) <= threshold {
			continue
		}
		id := worker.TokenID(token)
		alerts = append(alerts, Alert{
			ID:          "stuck-" + id,
			Condition:   "task_stuck",
			Severity:    SeverityLow,
			Activity:    s.activity,
			Message:     fmt.Sprintf("task %s of activity %s started more than %d minutes ago with no result", id, s.activity, ae.thresholds.StuckMinutes),
			TriggeredAt: now,
		})
	}
	return alerts
}
