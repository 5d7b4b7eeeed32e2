// Package metrics exposes the Prometheus collectors of the mission service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksClaimed counts tasks moved to processing by a processor tick.
	tasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_tasks_claimed_total",
		Help: "Total number of tasks claimed by processor ticks",
	})

	// tasksFinished counts terminal writes by type and outcome.
	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_tasks_finished_total",
		Help: "Total number of tasks finished by type and status",
	}, []string{"type", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mission_task_duration_seconds",
		Help:    "Time spent executing a task handler by type",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 45},
	}, []string{"type"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mission_processor_tick_duration_seconds",
		Help:    "Duration of a full processor tick",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mission_tasks_in_flight",
		Help: "Number of task handlers currently running in this process",
	})

	// lateFinishes counts completions rejected because the task was already
	// terminal, typically cancelled by an operator while running.
	lateFinishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_tasks_late_finish_total",
		Help: "Total number of terminal writes rejected because the task had already finished",
	}, []string{"type"})

	tasksRescued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_tasks_rescued_total",
		Help: "Total number of stuck tasks returned to pending",
	})

	tasksCleanedUp = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_tasks_cleaned_up_total",
		Help: "Total number of terminal tasks deleted by retention cleanup",
	})

	followupsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_followups_total",
		Help: "Follow-up scheduler rows by outcome",
	}, []string{"outcome"}) // outcome: enqueued, existing, capped

	quotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_quota_denials_total",
		Help: "Total number of admissions denied by the quota ledger",
	}, []string{"resource"})
)

// Recorder records service metrics. The zero value is ready to use.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordClaimed(n int) {
	tasksClaimed.Add(float64(n))
}

// RecordTask records one handler run and its terminal status.
func (r *Recorder) RecordTask(taskType, status string, d time.Duration) {
	taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	tasksFinished.WithLabelValues(taskType, status).Inc()
}

func (r *Recorder) RecordTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

func (r *Recorder) TaskStarted() {
	tasksInFlight.Inc()
}

func (r *Recorder) TaskDone() {
	tasksInFlight.Dec()
}

func (r *Recorder) RecordLateFinish(taskType string) {
	lateFinishes.WithLabelValues(taskType).Inc()
}

func (r *Recorder) RecordRescued(n int) {
	tasksRescued.Add(float64(n))
}

func (r *Recorder) RecordCleanedUp(n int64) {
	tasksCleanedUp.Add(float64(n))
}

func (r *Recorder) RecordFollowups(enqueued, existing, capped int) {
	followupsQueued.WithLabelValues("enqueued").Add(float64(enqueued))
	followupsQueued.WithLabelValues("existing").Add(float64(existing))
	followupsQueued.WithLabelValues("capped").Add(float64(capped))
}

func (r *Recorder) RecordQuotaDenied(resource string) {
	quotaDenials.WithLabelValues(resource).Inc()
}
