package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valter-silva-au/sfini/pkg/session"
)

type fakeActivity struct{ hb int }

func (f fakeActivity) ResourceARN() string   { return "arn:aws:states:us-east-1:1:activity:work" }
func (f fakeActivity) HeartbeatSeconds() int { return f.hb }

func TestSucceedAndFail(t *testing.T) {
	s := NewSucceed("Done")
	s.Comment = "all good"
	d, err := s.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"Type": "Succeed", "Comment": "all good"}, d); diff != "" {
		t.Errorf("succeed definition mismatch (-want +got):\n%s", diff)
	}

	f := NewFail("Broken", "MyError", "it broke")
	d, err = f.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{"Type": "Fail", "Error": "MyError", "Cause": "it broke"}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("fail definition mismatch (-want +got):\n%s", diff)
	}
}

func TestPass_NextAndEnd(t *testing.T) {
	done := NewSucceed("Done")
	p := NewPass("Inject")
	p.Result = map[string]any{"x": 1}
	p.ResultPath = "$.injected"
	p.InputPath = "$.in"
	p.OutputPath = "$.out"

	d, err := p.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d["End"] != true {
		t.Errorf("expected End true without next, got %v", d)
	}

	p.GoesTo(done)
	d, err = p.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"Type":       "Pass",
		"Result":     map[string]any{"x": 1},
		"ResultPath": "$.injected",
		"InputPath":  "$.in",
		"OutputPath": "$.out",
		"Next":       "Done",
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("pass definition mismatch (-want +got):\n%s", diff)
	}
	if p.NextState() != done {
		t.Error("NextState should return the state set by GoesTo")
	}
}

func TestWait_Variants(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	tests := []struct {
		name string
		s    *Wait
		key  string
		want any
	}{
		{"seconds", NewWait("W", 90*time.Second), "Seconds", 90},
		{"zero seconds", NewWait("W", 0), "Seconds", 0},
		{"under a second", NewWait("W", 500*time.Millisecond), "Seconds", 0},
		{"timestamp", NewWaitUntil("W", at), "Timestamp", "2025-03-01T11:00:00Z"},
		{"seconds path", NewWaitSecondsPath("W", "$.delay"), "SecondsPath", "$.delay"},
		{"timestamp path", NewWaitTimestampPath("W", "$.until"), "TimestampPath", "$.until"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.s.Definition()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d[tt.key] != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, d[tt.key], tt.want)
			}
		})
	}
}

func TestWait_Invalid(t *testing.T) {
	w := &Wait{common: common{name: "W"}}
	if _, err := w.Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for empty wait, got %v", err)
	}
	w = NewWait("W", -time.Second)
	if _, err := w.Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for negative wait, got %v", err)
	}
	w = NewWait("W", time.Minute)
	w.SecondsPath = "$.x"
	if _, err := w.Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for two wait kinds, got %v", err)
	}
}

func TestTask_Definition(t *testing.T) {
	failed := NewFail("Failed", "", "")
	next := NewSucceed("Done")
	task := NewTask("Work", fakeActivity{hb: 20})
	task.TimeoutSeconds = 300
	task.ResultPath = "$.result"
	task.Retry(Retrier{ErrorEquals: []string{"States.Timeout"}, IntervalSeconds: 5, MaxAttempts: 3, BackoffRate: 2})
	task.Catch([]string{"States.ALL"}, failed, "$.error")
	task.GoesTo(next)

	d, err := task.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"Type":             "Task",
		"Resource":         "arn:aws:states:us-east-1:1:activity:work",
		"ResultPath":       "$.result",
		"TimeoutSeconds":   300,
		"HeartbeatSeconds": 20,
		"Retry": []any{map[string]any{
			"ErrorEquals":     []string{"States.Timeout"},
			"IntervalSeconds": 5,
			"MaxAttempts":     3,
			"BackoffRate":     2.0,
		}},
		"Catch": []any{map[string]any{
			"ErrorEquals": []string{"States.ALL"},
			"Next":        "Failed",
			"ResultPath":  "$.error",
		}},
		"Next": "Done",
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("task definition mismatch (-want +got):\n%s", diff)
	}
}

func TestTask_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Task
	}{
		{"no resource", func() *Task { return NewTask("T", nil) }},
		{"heartbeat above timeout", func() *Task {
			task := NewTask("T", fakeActivity{hb: 20})
			task.TimeoutSeconds = 10
			return task
		}},
		{"retrier without errors", func() *Task {
			task := NewTask("T", ARN("arn:x"))
			task.Retry(Retrier{})
			return task
		}},
		{"backoff below one", func() *Task {
			task := NewTask("T", ARN("arn:x"))
			task.Retry(Retrier{ErrorEquals: []string{"E"}, BackoffRate: 0.5})
			return task
		}},
		{"catcher without next", func() *Task {
			task := NewTask("T", ARN("arn:x"))
			task.Catch([]string{"E"}, nil, "")
			return task
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build().Definition(); !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestLambdaResource(t *testing.T) {
	sess := session.NewStatic("ap-southeast-2", "999", nil)
	task := NewTask("Resize", NewLambda("resize", sess))
	d, err := task.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d["Resource"] != "arn:aws:lambda:ap-southeast-2:999:function:resize" {
		t.Errorf("unexpected resource %v", d["Resource"])
	}
	if _, ok := d["HeartbeatSeconds"]; ok {
		t.Error("lambda task should not get a heartbeat")
	}
}

func TestChoice_Definition(t *testing.T) {
	big := NewPass("Big")
	small := NewPass("Small")
	other := NewFail("Other", "Unknown", "")
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	c := NewChoice("Route").
		When(And(NumericGreaterThan("$.size", 100), Not(BooleanEquals("$.skip", true))), big).
		When(Or(StringEquals("$.kind", "thumb"), TimestampLessThan("$.at", since)), small).
		Otherwise(other)

	d, err := c.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Compare through JSON to ignore Go numeric types.
	got, _ := json.Marshal(d)
	want := `{"Choices":[` +
		`{"And":[{"NumericGreaterThan":100,"Variable":"$.size"},{"Not":{"BooleanEquals":true,"Variable":"$.skip"}}],"Next":"Big"},` +
		`{"Next":"Small","Or":[{"StringEquals":"thumb","Variable":"$.kind"},{"TimestampLessThan":"2025-01-01T00:00:00Z","Variable":"$.at"}]}` +
		`],"Default":"Other","Type":"Choice"}`
	if string(got) != want {
		t.Errorf("choice definition mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestChoice_Invalid(t *testing.T) {
	if _, err := NewChoice("Empty").Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for empty choice, got %v", err)
	}
	c := NewChoice("C").When(And(), NewSucceed("S"))
	if _, err := c.Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for empty And, got %v", err)
	}
	c = NewChoice("C").When(StringEquals("", "x"), NewSucceed("S"))
	if _, err := c.Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for missing variable, got %v", err)
	}
}

func TestParallel_Branches(t *testing.T) {
	a1 := NewPass("A1")
	a2 := NewSucceed("A2")
	a1.GoesTo(a2)
	b1 := NewPass("B1")

	p := NewParallel("Both")
	p.AddBranch(a1)
	p.AddBranch(b1)
	p.ResultPath = "$.both"

	d, err := p.Definition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	branches, ok := d["Branches"].([]any)
	if !ok || len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %v", d["Branches"])
	}
	first := branches[0].(map[string]any)
	if first["StartAt"] != "A1" {
		t.Errorf("first branch StartAt = %v", first["StartAt"])
	}
	if states := first["States"].(map[string]any); len(states) != 2 {
		t.Errorf("first branch should have 2 states, got %d", len(states))
	}
	if d["End"] != true {
		t.Error("parallel without next should end")
	}

	if _, err := NewParallel("Empty").Definition(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for parallel without branches, got %v", err)
	}
}

func TestCollect_WalksGraph(t *testing.T) {
	done := NewSucceed("Done")
	failed := NewFail("Failed", "", "")
	work := NewTask("Work", ARN("arn:x"))
	work.Catch([]string{"States.ALL"}, failed, "")
	work.GoesTo(done)
	check := NewChoice("Check").When(BooleanEquals("$.ok", true), work).Otherwise(failed)
	start := NewPass("Start")
	start.GoesTo(check)

	states, err := Collect(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"Start", "Check", "Work", "Done", "Failed"} {
		if _, ok := states[name]; !ok {
			t.Errorf("missing state %s", name)
		}
	}
	if len(states) != 5 {
		t.Errorf("expected 5 states, got %d", len(states))
	}
}

func TestCollect_Loop(t *testing.T) {
	wait := NewWait("Wait", time.Second)
	poll := NewChoice("Poll")
	wait.GoesTo(poll)
	poll.When(BooleanEquals("$.ready", false), wait).Otherwise(NewSucceed("Ready"))

	states, err := Collect(wait)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 3 {
		t.Errorf("expected 3 states, got %d", len(states))
	}
}

func TestCollect_DuplicateName(t *testing.T) {
	a := NewPass("Same")
	b := NewSucceed("Same")
	a.GoesTo(b)

	if _, err := Collect(a); !errors.Is(err, ErrDuplicateState) {
		t.Errorf("expected ErrDuplicateState, got %v", err)
	}
}

func TestRender_NilStart(t *testing.T) {
	if _, _, err := Render(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}
