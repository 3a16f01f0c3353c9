// Package worker runs activity tasks: it long-polls SFN for tasks of one
// activity, heartbeats while the handler runs and reports the result.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valter-silva-au/sfini/pkg/activity"
)

// Limits SFN places on task failure reports.
const (
	MaxErrorLength = 256
	MaxCauseLength = 32768
)

const (
	// DefaultPollErrorBackoff is the pause after a failed poll.
	DefaultPollErrorBackoff = 5 * time.Second

	// DefaultErrorCode is reported for handler errors that carry no code.
	DefaultErrorCode = "ActivityFailed"
	// WorkerCancelCode is reported for tasks interrupted by worker shutdown.
	WorkerCancelCode = "WorkerCancel"

	reportTimeout = 10 * time.Second

	// maxHeartbeatMargin caps how early a heartbeat is sent before the
	// task's heartbeat timeout.
	maxHeartbeatMargin = 5 * time.Second
)

// ErrTaskCancelled is the cancellation cause seen by a handler whose task
// timed out or was closed by SFN. Its result is never reported.
var ErrTaskCancelled = errors.New("task cancelled by SFN")

// Coder is implemented by handler errors that carry their own SFN error
// code, which Retry and Catch rules match on.
type Coder interface {
	ErrorCode() string
}

// Outcome is a stage of a task's lifecycle.
type Outcome string

const (
	// TaskStarted is recorded when a poller receives a task.
	TaskStarted Outcome = "started"
	// TaskSucceeded is recorded once SFN accepts the task's output.
	TaskSucceeded Outcome = "succeeded"
	// TaskFailed is recorded once SFN accepts the task's failure.
	TaskFailed Outcome = "failed"
	// TaskCancelled is recorded for tasks SFN closed first, through a
	// timeout or a rejected heartbeat or result.
	TaskCancelled Outcome = "cancelled"
)

// TaskEvent describes one lifecycle step of a task.
type TaskEvent struct {
	Outcome   Outcome
	Activity  string
	Worker    string
	Token     string
	Duration  time.Duration
	ErrorCode string
	Cause     string
}

// Recorder receives task lifecycle events. Implementations must be safe
// for concurrent use when the worker has several pollers.
type Recorder interface {
	RecordTask(TaskEvent)
}

// TaskInfo identifies the task a handler is running.
type TaskInfo struct {
	Activity string
	Worker   string
	Token    string
}

type taskKey struct{}

// TaskFromContext returns the task a handler's context belongs to.
func TaskFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskKey{}).(TaskInfo)
	return info, ok
}

// Worker executes tasks of one activity.
type Worker struct {
	Name    string
	Pollers int

	activity *activity.CallableActivity
	logger   *zap.Logger
	recorder Recorder
	backoff  time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithName sets the worker name reported to SFN.
func WithName(name string) Option {
	return func(w *Worker) { w.Name = name }
}

// WithPollers sets how many tasks the worker runs concurrently.
func WithPollers(n int) Option {
	return func(w *Worker) { w.Pollers = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithRecorder sets the task lifecycle recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithPollErrorBackoff sets the pause after a failed poll.
func WithPollErrorBackoff(d time.Duration) Option {
	return func(w *Worker) { w.backoff = d }
}

// New creates a worker for a.
func New(a *activity.CallableActivity, opts ...Option) *Worker {
	w := &Worker{
		Pollers:  1,
		activity: a,
		logger:   zap.NewNop(),
		backoff:  DefaultPollErrorBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.Name == "" {
		w.Name = DefaultName()
	}
	if w.Pollers < 1 {
		w.Pollers = 1
	}
	w.logger = w.logger.With(zap.String("worker", w.Name), zap.String("activity", a.Name))
	return w
}

// DefaultName is "<hostname>-<8 hex chars>".
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sfini"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (w *Worker) String() string {
	return fmt.Sprintf("Worker '%s' for %s", w.Name, w.activity)
}

// Run polls for and executes tasks until ctx is cancelled, which is a
// clean shutdown and returns nil. It returns an error if the activity does
// not exist in SFN.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Int("pollers", w.Pollers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Pollers; i++ {
		g.Go(func() error { return w.poll(gctx) })
	}
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) poll(ctx context.Context) error {
	client := w.activity.Session().SFN()
	arn := w.activity.ARN()
	for ctx.Err() == nil {
		resp, err := client.GetActivityTask(ctx, &sfn.GetActivityTaskInput{
			ActivityArn: aws.String(arn),
			WorkerName:  aws.String(w.Name),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var missing *types.ActivityDoesNotExist
			if errors.As(err, &missing) {
				return fmt.Errorf("%s: %w", w, err)
			}
			w.logger.Warn("polling for task failed", apiErrorFields(err)...)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		token := aws.ToString(resp.TaskToken)
		if token == "" {
			continue
		}
		w.execute(ctx, token, json.RawMessage(aws.ToString(resp.Input)))
	}
	return nil
}

func apiErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.String("code", apiErr.ErrorCode()), zap.String("fault", apiErr.ErrorFault().String()))
	}
	return fields
}

// execute runs one task to completion and reports its result.
func (w *Worker) execute(ctx context.Context, token string, input json.RawMessage) {
	info := TaskInfo{Activity: w.activity.Name, Worker: w.Name, Token: token}
	taskCtx, cancel := context.WithCancelCause(context.WithValue(ctx, taskKey{}, info))
	defer cancel(nil)

	log := w.logger.With(zap.String("token", TokenID(token)))
	log.Debug("task started")
	start := time.Now()
	w.record(TaskEvent{Outcome: TaskStarted, Token: token})

	stop := make(chan struct{})
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(taskCtx, token, stop, cancel, log)
	}()

	output, err := w.activity.CallWith(taskCtx, input)
	close(stop)
	<-hbDone

	elapsed := time.Since(start)
	if errors.Is(context.Cause(taskCtx), ErrTaskCancelled) {
		log.Warn("task cancelled by SFN, result discarded")
		w.record(TaskEvent{Outcome: TaskCancelled, Token: token, Duration: elapsed})
		return
	}

	// ctx may already be cancelled by shutdown; reports still go out.
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer rcancel()

	if err == nil {
		var out []byte
		out, err = json.Marshal(output)
		if err == nil {
			w.succeed(rctx, log, token, string(out), elapsed)
			return
		}
		err = fmt.Errorf("encoding task output: %w", err)
	}

	code := errorCode(err)
	if ctx.Err() != nil {
		code = WorkerCancelCode
	}
	w.fail(rctx, log, token, code, err.Error(), elapsed)
}

func (w *Worker) heartbeat(ctx context.Context, token string, stop <-chan struct{}, cancel context.CancelCauseFunc, log *zap.Logger) {
	budget := w.activity.Heartbeat
	if budget <= 0 {
		budget = activity.DefaultHeartbeat
	}
	ticker := time.NewTicker(HeartbeatInterval(budget))
	defer ticker.Stop()

	client := w.activity.Session().SFN()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, err := client.SendTaskHeartbeat(ctx, &sfn.SendTaskHeartbeatInput{TaskToken: aws.String(token)})
		if err == nil {
			continue
		}
		if taskClosed(err) {
			cancel(ErrTaskCancelled)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("heartbeat failed", apiErrorFields(err)...)
	}
}

// HeartbeatInterval is how often a worker heartbeats a task whose heartbeat
// timeout is budget. SFN starts its clock before the task reaches the
// worker, so heartbeats go out a quarter of the budget early, at most 5s.
func HeartbeatInterval(budget time.Duration) time.Duration {
	interval := budget - min(budget/4, maxHeartbeatMargin)
	if interval <= 0 {
		return budget
	}
	return interval
}

func taskClosed(err error) bool {
	var timedOut *types.TaskTimedOut
	var missing *types.TaskDoesNotExist
	return errors.As(err, &timedOut) || errors.As(err, &missing)
}

func (w *Worker) succeed(ctx context.Context, log *zap.Logger, token, output string, elapsed time.Duration) {
	_, err := w.activity.Session().SFN().SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(output),
	})
	if err != nil {
		log.Error("reporting task success failed", apiErrorFields(err)...)
		if taskClosed(err) {
			w.record(TaskEvent{Outcome: TaskCancelled, Token: token, Duration: elapsed})
		}
		return
	}
	log.Info("task succeeded", zap.Duration("duration", elapsed))
	w.record(TaskEvent{Outcome: TaskSucceeded, Token: token, Duration: elapsed})
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, token, code, cause string, elapsed time.Duration) {
	code = truncate(code, MaxErrorLength)
	cause = truncate(cause, MaxCauseLength)
	_, err := w.activity.Session().SFN().SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(token),
		Error:     aws.String(code),
		Cause:     aws.String(cause),
	})
	if err != nil {
		log.Error("reporting task failure failed", apiErrorFields(err)...)
		if taskClosed(err) {
			w.record(TaskEvent{Outcome: TaskCancelled, Token: token, Duration: elapsed})
		}
		return
	}
	log.Info("task failed", zap.String("error", code), zap.Duration("duration", elapsed))
	w.record(TaskEvent{Outcome: TaskFailed, Token: token, Duration: elapsed, ErrorCode: code, Cause: cause})
}

func (w *Worker) record(ev TaskEvent) {
	if w.recorder == nil {
		return
	}
	ev.Activity = w.activity.Name
	ev.Worker = w.Name
	w.recorder.RecordTask(ev)
}

func errorCode(err error) string {
	var c Coder
	if errors.As(err, &c) && c.ErrorCode() != "" {
		return c.ErrorCode()
	}
	return DefaultErrorCode
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// tokenSpace namespaces the name-based UUIDs behind TokenID.
var tokenSpace = uuid.MustParse("5b0f6c1e-8a44-4c3f-9a55-2f8f0d1c7e21")

// TokenID is a short stable identifier for a task token. SFN tokens share
// long prefixes, so it hashes the whole token.
func TokenID(token string) string {
	sum := uuid.NewSHA1(tokenSpace, []byte(token)).String()
	return strings.ReplaceAll(sum, "-", "")[:12]
}
