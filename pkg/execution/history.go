package execution

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/fatih/color"
)

// Event is a flattened execution history event.
type Event struct {
	ID         int64
	PreviousID int64
	Time       time.Time
	Type       string
	// State is the state the event belongs to, empty for execution-level events.
	State      string
	Resource   string
	WorkerName string
	Input      string
	Output     string
	Error      string
	Cause      string
}

// Failed reports whether the event records a failure.
func (ev Event) Failed() bool {
	return ev.Error != "" || strings.HasSuffix(ev.Type, "Failed") || strings.HasSuffix(ev.Type, "TimedOut") || strings.HasSuffix(ev.Type, "Aborted")
}

// History fetches every history event of the execution, oldest first.
func (e *Execution) History(ctx context.Context) ([]Event, error) {
	if e.ARN == "" {
		return nil, ErrNotStarted
	}
	var raw []types.HistoryEvent
	p := sfn.NewGetExecutionHistoryPaginator(e.session.SFN(), &sfn.GetExecutionHistoryInput{ExecutionArn: aws.String(e.ARN)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching history of %s: %w", e, err)
		}
		raw = append(raw, page.Events...)
	}
	return ParseHistory(raw), nil
}

// ParseHistory flattens SFN history events, attributing each event to the
// state it occurred in by following previous-event links.
func ParseHistory(raw []types.HistoryEvent) []Event {
	stateOf := make(map[int64]string, len(raw))
	events := make([]Event, 0, len(raw))
	for _, h := range raw {
		ev := Event{
			ID:         h.Id,
			PreviousID: h.PreviousEventId,
			Time:       aws.ToTime(h.Timestamp),
			Type:       string(h.Type),
		}
		fill(&ev, h)

		switch {
		case h.StateEnteredEventDetails != nil:
			stateOf[ev.ID] = ev.State
		case h.StateExitedEventDetails != nil:
			// exiting closes the state; later events are outside it
		default:
			if name, ok := stateOf[ev.PreviousID]; ok {
				ev.State = name
				stateOf[ev.ID] = name
			}
		}
		events = append(events, ev)
	}
	return events
}

func fill(ev *Event, h types.HistoryEvent) {
	errCause := func(e, c *string) {
		ev.Error = aws.ToString(e)
		ev.Cause = aws.ToString(c)
	}
	switch {
	case h.ExecutionStartedEventDetails != nil:
		ev.Input = aws.ToString(h.ExecutionStartedEventDetails.Input)
	case h.ExecutionSucceededEventDetails != nil:
		ev.Output = aws.ToString(h.ExecutionSucceededEventDetails.Output)
	case h.ExecutionFailedEventDetails != nil:
		errCause(h.ExecutionFailedEventDetails.Error, h.ExecutionFailedEventDetails.Cause)
	case h.ExecutionAbortedEventDetails != nil:
		errCause(h.ExecutionAbortedEventDetails.Error, h.ExecutionAbortedEventDetails.Cause)
	case h.ExecutionTimedOutEventDetails != nil:
		errCause(h.ExecutionTimedOutEventDetails.Error, h.ExecutionTimedOutEventDetails.Cause)
	case h.StateEnteredEventDetails != nil:
		ev.State = aws.ToString(h.StateEnteredEventDetails.Name)
		ev.Input = aws.ToString(h.StateEnteredEventDetails.Input)
	case h.StateExitedEventDetails != nil:
		ev.State = aws.ToString(h.StateExitedEventDetails.Name)
		ev.Output = aws.ToString(h.StateExitedEventDetails.Output)
	case h.ActivityScheduledEventDetails != nil:
		ev.Resource = aws.ToString(h.ActivityScheduledEventDetails.Resource)
		ev.Input = aws.ToString(h.ActivityScheduledEventDetails.Input)
	case h.ActivityStartedEventDetails != nil:
		ev.WorkerName = aws.ToString(h.ActivityStartedEventDetails.WorkerName)
	case h.ActivitySucceededEventDetails != nil:
		ev.Output = aws.ToString(h.ActivitySucceededEventDetails.Output)
	case h.ActivityFailedEventDetails != nil:
		errCause(h.ActivityFailedEventDetails.Error, h.ActivityFailedEventDetails.Cause)
	case h.ActivityTimedOutEventDetails != nil:
		errCause(h.ActivityTimedOutEventDetails.Error, h.ActivityTimedOutEventDetails.Cause)
	case h.LambdaFunctionScheduledEventDetails != nil:
		ev.Resource = aws.ToString(h.LambdaFunctionScheduledEventDetails.Resource)
		ev.Input = aws.ToString(h.LambdaFunctionScheduledEventDetails.Input)
	case h.LambdaFunctionSucceededEventDetails != nil:
		ev.Output = aws.ToString(h.LambdaFunctionSucceededEventDetails.Output)
	case h.LambdaFunctionFailedEventDetails != nil:
		errCause(h.LambdaFunctionFailedEventDetails.Error, h.LambdaFunctionFailedEventDetails.Cause)
	}
}

// FormatHistory writes one line per event. Failures are red and
// successes green when colour is enabled.
func FormatHistory(w io.Writer, events []Event, useColor bool) error {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)
	if !useColor {
		red.DisableColor()
		green.DisableColor()
		faint.DisableColor()
	}

	for _, ev := range events {
		var b strings.Builder
		b.WriteString(faint.Sprint(ev.Time.UTC().Format(time.RFC3339)))
		b.WriteString(" ")
		if ev.State != "" {
			fmt.Fprintf(&b, "[%s] ", ev.State)
		}
		switch {
		case ev.Failed():
			b.WriteString(red.Sprint(ev.Type))
		case strings.HasSuffix(ev.Type, "Succeeded"):
			b.WriteString(green.Sprint(ev.Type))
		default:
			b.WriteString(ev.Type)
		}
		if ev.Resource != "" {
			fmt.Fprintf(&b, " resource=%s", ev.Resource)
		}
		if ev.WorkerName != "" {
			fmt.Fprintf(&b, " worker=%s", ev.WorkerName)
		}
		if ev.Error != "" || ev.Cause != "" {
			fmt.Fprintf(&b, " error=%s cause=%q", ev.Error, ev.Cause)
		}
		b.WriteString("\n")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
