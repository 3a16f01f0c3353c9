package observability

import (
	"time"

	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/pkg/worker"
)

// TaskRecorder persists worker task events to an event log.
type TaskRecorder struct {
	log    EventLog
	logger *zap.Logger
	now    func() time.Time
}

// NewTaskRecorder returns a worker.Recorder writing to log. Write failures
// are logged and never interrupt the worker.
func NewTaskRecorder(log EventLog, logger *zap.Logger) *TaskRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskRecorder{log: log, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

var _ worker.Recorder = (*TaskRecorder)(nil)

// RecordTask implements worker.Recorder.
func (r *TaskRecorder) RecordTask(ev worker.TaskEvent) {
	event := Event{
		Time:  r.now(),
		Level: LevelInfo,
		Data: map[string]any{
			"activity": ev.Activity,
			"worker":   ev.Worker,
			"token":    ev.Token,
		},
	}
	switch ev.Outcome {
	case worker.TaskStarted:
		event.Type = EventTaskStarted
		event.Message = "task started"
	case worker.TaskSucceeded:
		event.Type = EventTaskSucceeded
		event.Message = "task succeeded"
	case worker.TaskFailed:
		event.Type = EventTaskFailed
		event.Level = LevelError
		event.Message = "task failed: " + ev.ErrorCode
		event.Data["error"] = ev.ErrorCode
		event.Data["cause"] = ev.Cause
	case worker.TaskCancelled:
		event.Type = EventTaskCancelled
		event.Level = LevelWarn
		event.Message = "task cancelled by SFN"
	default:
		return
	}
	if ev.Outcome != worker.TaskStarted {
		event.Data["duration_ms"] = ev.Duration.Milliseconds()
	}
	if err := r.log.Write(event); err != nil {
		r.logger.Warn("recording task event failed", zap.String("type", event.Type), zap.Error(err))
	}
}
