package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/sfini/internal/sfntest"
	"github.com/valter-silva-au/sfini/pkg/activity"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command tests use sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandHandler_EchoesInput(t *testing.T) {
	requireShell(t)
	h := NewCommandHandler("sh", "-c", "cat")

	out, err := h.Handle(context.Background(), json.RawMessage(`{"a":[1,2]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(out.(json.RawMessage)))
}

func TestCommandHandler_TaskEnv(t *testing.T) {
	requireShell(t)
	h := NewCommandHandler("sh", "-c", `printf '{"activity":"%s","worker":"%s"}' "$SFINI_ACTIVITY" "$SFINI_WORKER"`)
	ctx := context.WithValue(context.Background(), taskKey{}, TaskInfo{Activity: "jobs!1!resize", Worker: "w1", Token: "tok"})

	out, err := h.Handle(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"activity":"jobs!1!resize","worker":"w1"}`, string(out.(json.RawMessage)))
}

func TestCommandHandler_BuildEnv(t *testing.T) {
	h := NewCommandHandler("true")
	base := []string{"PATH=/bin"}
	env := h.BuildEnv(base, TaskInfo{Activity: "a", Worker: "w", Token: "t"})

	assert.Equal(t, []string{"PATH=/bin", "SFINI_ACTIVITY=a", "SFINI_WORKER=w", "SFINI_TASK_TOKEN=t"}, env)
	assert.Len(t, base, 1)
}

func TestCommandHandler_Failures(t *testing.T) {
	requireShell(t)
	tests := []struct {
		name     string
		script   string
		wantCode string
		wantExit int
		wantMsg  string
	}{
		{"non-zero exit", "echo oops >&2; exit 3", CommandFailedCode, 3, "sh exited with status 3: oops"},
		{"exit without stderr", "exit 1", CommandFailedCode, 1, "sh exited with status 1"},
		{"not json", "echo not json", InvalidOutputCode, 0, "sh printed output that is not JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCommandHandler("sh", "-c", tt.script)
			_, err := h.Handle(context.Background(), json.RawMessage(`{}`))

			var cmdErr *CommandError
			require.True(t, errors.As(err, &cmdErr))
			assert.Equal(t, tt.wantCode, cmdErr.Code)
			assert.Equal(t, tt.wantExit, cmdErr.ExitCode)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.wantCode, errorCode(err))
		})
	}
}

func TestCommandHandler_EmptyOutput(t *testing.T) {
	requireShell(t)
	var stderr bytes.Buffer
	h := NewCommandHandler("sh", "-c", "echo progress >&2")
	h.Stderr = &stderr

	out, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "progress\n", stderr.String())
}

func TestCommandHandler_MissingProgram(t *testing.T) {
	h := NewCommandHandler("/nonexistent/sfini-handler")
	_, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)

	var cmdErr *CommandError
	assert.False(t, errors.As(err, &cmdErr))
	assert.Equal(t, DefaultErrorCode, errorCode(err))
}

func TestCommandHandler_Cancelled(t *testing.T) {
	requireShell(t)
	h := NewCommandHandler("sh", "-c", "exec sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.Handle(ctx, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_RunsCommand(t *testing.T) {
	requireShell(t)
	h := NewCommandHandler("sh", "-c", `read line; echo "{\"got\":$line}"`)
	fake, a, arn := setup(t, activity.Handler(h), time.Second)
	stop := start(t, New(a))

	token := fake.EnqueueTask(arn, `{"n":1}`)
	task, ok := fake.WaitTask(token, waitTimeout)
	require.True(t, ok)
	assert.JSONEq(t, `{"got":{"n":1}}`, task.Output)

	failing := fake.EnqueueTask(arn, `not json`)
	task, ok = fake.WaitTask(failing, waitTimeout)
	require.True(t, ok)
	assert.Equal(t, sfntest.TaskFailed, task.Status)
	require.NoError(t, stop())
}
