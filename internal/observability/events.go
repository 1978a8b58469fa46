package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// LogSink mirrors execution events to a logger. Terminal and failure events are
// logged at info and warn; the rest at debug.
type LogSink struct {
	logger *zap.Logger
}

var _ schemas.EventSink = (*LogSink)(nil)

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(event schemas.ExecutionEvent) {
	level := zapcore.DebugLevel
	switch event.State {
	case schemas.TaskStart, schemas.TaskOK, schemas.TaskCancel, schemas.TaskPause, schemas.TaskResume:
		level = zapcore.InfoLevel
	case schemas.TaskFail, schemas.StepFail, schemas.ActFail:
		level = zapcore.WarnLevel
	}
	if ce := s.logger.Check(level, "Execution event."); ce != nil {
		ce.Write(
			zap.String("task_id", event.TaskID),
			zap.String("actor", string(event.Actor)),
			zap.String("state", string(event.State)),
			zap.Int("step", event.Step),
			zap.Int("max_steps", event.MaxSteps),
			zap.String("details", event.Details),
		)
	}
}
