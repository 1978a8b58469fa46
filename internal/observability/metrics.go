package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// MetricsSink turns execution events into prometheus metrics: event counts by
// actor and state, step and task durations, and terminal task statuses.
type MetricsSink struct {
	events       *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	tasks        *prometheus.CounterVec
	taskDuration prometheus.Histogram

	mu sync.Mutex
	// started maps task id + actor to the StepStart time, and task id to TaskStart.
	started map[string]time.Time
}

var _ schemas.EventSink = (*MetricsSink)(nil)

// NewMetricsSink registers the metrics on reg under namespace.
func NewMetricsSink(reg prometheus.Registerer, namespace string) *MetricsSink {
	factory := promauto.With(reg)
	return &MetricsSink{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_events_total",
			Help:      "Execution events by actor and state.",
		}, []string{"actor", "state"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of planner, navigator and validator steps.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"actor", "result"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by terminal state.",
		}, []string{"state"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of finished tasks.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		started: make(map[string]time.Time),
	}
}

func (m *MetricsSink) Emit(event schemas.ExecutionEvent) {
	m.events.WithLabelValues(string(event.Actor), string(event.State)).Inc()

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	stepKey := event.TaskID + "/" + string(event.Actor)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch event.State {
	case schemas.TaskStart:
		m.started[event.TaskID] = at
	case schemas.StepStart:
		m.started[stepKey] = at
	case schemas.StepOK, schemas.StepFail:
		if start, ok := m.started[stepKey]; ok {
			result := "ok"
			if event.State == schemas.StepFail {
				result = "fail"
			}
			m.stepDuration.WithLabelValues(string(event.Actor), result).Observe(at.Sub(start).Seconds())
			delete(m.started, stepKey)
		}
	}

	if event.State.IsTerminal() {
		m.tasks.WithLabelValues(string(event.State)).Inc()
		if start, ok := m.started[event.TaskID]; ok {
			m.taskDuration.Observe(at.Sub(start).Seconds())
		}
		for k := range m.started {
			if k == event.TaskID || strings.HasPrefix(k, event.TaskID+"/") {
				delete(m.started, k)
			}
		}
	}
}
