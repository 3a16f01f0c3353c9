package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/sfini/internal/sfntest"
	"github.com/valter-silva-au/sfini/pkg/activity"
	"github.com/valter-silva-au/sfini/pkg/session"
	"github.com/valter-silva-au/sfini/pkg/state"
)

const role = "arn:aws:iam::123456789012:role/sfn"

func newSession(fake *sfntest.Fake) *session.Session {
	return session.NewStatic(sfntest.Region, sfntest.Account, fake)
}

// buildPipeline wires: Start -> Check -(ok)-> Work -> Done, with failures
// caught into Failed.
func buildPipeline(sess *session.Session) state.State {
	work := activity.New("imaging!1!resize", sess, activity.WithHeartbeat(30*time.Second))

	done := state.NewSucceed("Done")
	failed := state.NewFail("Failed", "PipelineFailed", "see history")
	task := state.NewTask("Work", work)
	task.TimeoutSeconds = 600
	task.Catch([]string{"States.ALL"}, failed, "$.error")
	task.GoesTo(done)
	check := state.NewChoice("Check").
		When(state.BooleanEquals("$.ok", true), task).
		Otherwise(failed)
	start := state.NewPass("Start")
	start.GoesTo(check)
	return start
}

func TestConstruct_Definition(t *testing.T) {
	sess := newSession(sfntest.New())
	sm, err := Construct("pipeline", buildPipeline(sess), sess, WithComment("demo"), WithTimeout(3600))
	require.NoError(t, err)
	assert.Len(t, sm.States(), 5)

	js, err := sm.DefinitionJSON()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(js), &got))
	want := map[string]any{
		"Comment":        "demo",
		"TimeoutSeconds": 3600.0,
		"StartAt":        "Start",
		"States": map[string]any{
			"Start": map[string]any{"Type": "Pass", "Next": "Check"},
			"Check": map[string]any{
				"Type":    "Choice",
				"Choices": []any{map[string]any{"Variable": "$.ok", "BooleanEquals": true, "Next": "Work"}},
				"Default": "Failed",
			},
			"Work": map[string]any{
				"Type":             "Task",
				"Resource":         "arn:aws:states:us-east-1:123456789012:activity:imaging!1!resize",
				"TimeoutSeconds":   600.0,
				"HeartbeatSeconds": 30.0,
				"Catch":            []any{map[string]any{"ErrorEquals": []any{"States.ALL"}, "Next": "Failed", "ResultPath": "$.error"}},
				"Next":             "Done",
			},
			"Done":   map[string]any{"Type": "Succeed"},
			"Failed": map[string]any{"Type": "Fail", "Error": "PipelineFailed", "Cause": "see history"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}

	// A generated definition always passes structural validation.
	assert.NoError(t, ValidateDefinition(got))
}

func TestConstruct_Errors(t *testing.T) {
	sess := newSession(sfntest.New())

	_, err := Construct("bad name", state.NewSucceed("S"), sess)
	assert.True(t, errors.Is(err, session.ErrInvalidName))

	_, err = Construct("ok", nil, sess)
	assert.True(t, errors.Is(err, state.ErrInvalidState))

	a := state.NewPass("X")
	a.GoesTo(state.NewSucceed("X"))
	_, err = Construct("ok", a, sess)
	assert.True(t, errors.Is(err, state.ErrDuplicateState))
}

func TestRegister_CreateThenUpdate(t *testing.T) {
	fake := sfntest.New()
	sess := newSession(fake)
	sm, err := Construct("pipeline", buildPipeline(sess), sess, WithRoleARN(role))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sm.Register(ctx, false))
	rec, ok := fake.StateMachine(sm.ARN())
	require.True(t, ok)
	assert.Equal(t, role, rec.RoleARN)
	assert.Contains(t, rec.Definition, `"StartAt": "Start"`)

	err = sm.Register(ctx, false)
	var exists *types.StateMachineAlreadyExists
	assert.True(t, errors.As(err, &exists))

	require.NoError(t, sm.Register(ctx, true))
	rec, _ = fake.StateMachine(sm.ARN())
	assert.Equal(t, 1, rec.Updates)

	registered, err := sm.IsRegistered(ctx)
	require.NoError(t, err)
	assert.True(t, registered)

	require.NoError(t, sm.Deregister(ctx))
	registered, err = sm.IsRegistered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestRegister_NeedsRole(t *testing.T) {
	sess := newSession(sfntest.New())
	sm, err := Construct("pipeline", state.NewSucceed("S"), sess)
	require.NoError(t, err)
	assert.Error(t, sm.Register(context.Background(), false))
}

func TestRegister_OtherErrorNotUpdated(t *testing.T) {
	fake := sfntest.New()
	fake.FailNext("CreateStateMachine", errors.New("access denied"))
	sess := newSession(fake)
	sm, err := Construct("pipeline", state.NewSucceed("S"), sess, WithRoleARN(role))
	require.NoError(t, err)

	err = sm.Register(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 0, fake.Calls("UpdateStateMachine"))
}

func TestStartAndListExecutions(t *testing.T) {
	fake := sfntest.New()
	sess := newSession(fake)
	sm, err := Construct("pipeline", state.NewSucceed("S"), sess, WithRoleARN(role))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sm.Register(ctx, false))

	named, err := sm.StartExecution(ctx, map[string]bool{"ok": true}, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", named.Name)

	generated, err := sm.StartExecution(ctx, nil, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(generated.Name, "pipeline_"))

	execs, err := sm.ListExecutions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestDefaultExecutionName(t *testing.T) {
	short := DefaultExecutionName("pipeline")
	assert.True(t, strings.HasPrefix(short, "pipeline_"))
	assert.NoError(t, session.ValidateName(short))

	long := DefaultExecutionName(strings.Repeat("x", 79))
	assert.Len(t, long, session.MaxNameLength)
	assert.NoError(t, session.ValidateName(long))
	assert.NotEqual(t, DefaultExecutionName("a"), DefaultExecutionName("a"))

	wide := DefaultExecutionName(strings.Repeat("é", 60))
	assert.True(t, utf8.ValidString(wide))
	assert.Equal(t, session.MaxNameLength, utf8.RuneCountInString(wide))
	assert.True(t, strings.HasPrefix(wide, strings.Repeat("é", 43)+"_"))
	assert.NoError(t, session.ValidateName(wide))
}

func TestPublishAndDelete(t *testing.T) {
	fake := sfntest.New()
	sess := newSession(fake)
	ctx := context.Background()

	require.NoError(t, Publish(ctx, sess, nil, "raw", `{"StartAt":"S","States":{"S":{"Type":"Succeed"}}}`, role, false))
	items, err := List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, Delete(ctx, sess, nil, "raw"))
	items, err = List(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, items)
}
