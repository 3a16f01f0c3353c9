package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Error codes reported for external commands.
const (
	CommandFailedCode = "CommandFailed"
	InvalidOutputCode = "InvalidCommandOutput"
)

// killGrace bounds how long a cancelled program's output pipes are drained.
const killGrace = 2 * time.Second

// CommandHandler implements an activity with an external program. The task
// input is written to the program's stdin and its stdout, which must be
// JSON, becomes the task output. Empty stdout yields a null output.
type CommandHandler struct {
	Command string
	Args    []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Stderr, when set, also receives the program's stderr.
	Stderr io.Writer
}

// NewCommandHandler creates a handler running command with args.
func NewCommandHandler(command string, args ...string) *CommandHandler {
	return &CommandHandler{Command: command, Args: args}
}

// CommandError is returned when the program exits non-zero or prints
// output that is not JSON.
type CommandError struct {
	Code     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Code == InvalidOutputCode {
		return fmt.Sprintf("%s printed output that is not JSON", e.Command)
	}
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ErrorCode implements Coder.
func (e *CommandError) ErrorCode() string {
	return e.Code
}

// BuildEnv appends SFINI_* variables describing the task to base.
func (h *CommandHandler) BuildEnv(base []string, info TaskInfo) []string {
	env := make([]string, len(base), len(base)+3)
	copy(env, base)
	return append(env,
		"SFINI_ACTIVITY="+info.Activity,
		"SFINI_WORKER="+info.Worker,
		"SFINI_TASK_TOKEN="+info.Token,
	)
}

// Handle runs the program for one task.
func (h *CommandHandler) Handle(ctx context.Context, input json.RawMessage) (any, error) {
	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Dir = h.Dir
	cmd.WaitDelay = killGrace
	cmd.Env = os.Environ()
	if info, ok := TaskFromContext(ctx); ok {
		cmd.Env = h.BuildEnv(cmd.Env, info)
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if h.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, h.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandError{
				Code:     CommandFailedCode,
				Command:  h.Command,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("executing %s: %w", h.Command, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, nil
	}
	if !json.Valid(out) {
		return nil, &CommandError{Code: InvalidOutputCode, Command: h.Command, Stderr: stderr.String()}
	}
	return json.RawMessage(out), nil
}
