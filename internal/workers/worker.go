package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/metrics"
	"github.com/leadforge/mission-service/internal/pipeline"
	"github.com/leadforge/mission-service/internal/pkg/ids"
	"github.com/leadforge/mission-service/internal/taskqueue"
	"github.com/leadforge/mission-service/internal/telemetry"
)

const (
	defaultBatchSize         = 5
	defaultConcurrency       = 3
	defaultPollInterval      = 15 * time.Second
	defaultTaskTimeout       = 45 * time.Second
	defaultHeartbeatInterval = 10 * time.Second

	// finishTimeout bounds the terminal write after the task context expired.
	finishTimeout = 10 * time.Second
)

// Queue is the part of the task store the processor drives.
type Queue interface {
	ClaimNextPending(ctx context.Context, in taskqueue.ClaimInput) ([]*taskqueue.Task, error)
	Complete(ctx context.Context, id string, result any) (*taskqueue.Task, error)
	Fail(ctx context.Context, id, msg string) (*taskqueue.Task, error)
	Heartbeat(ctx context.Context, id string, progress *taskqueue.Progress) error
}

type Config struct {
	WorkerID          string
	Source            string
	BatchSize         int
	Concurrency       int
	PollInterval      time.Duration
	TaskTimeout       time.Duration
	HeartbeatInterval time.Duration
	Types             []taskqueue.TaskType
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = ids.New("wrk")
	}
	if c.Source == "" {
		c.Source = "processor"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
}

// TaskOutcome is what happened to one claimed task during a tick.
type TaskOutcome struct {
	TaskID string               `json:"taskId"`
	Type   taskqueue.TaskType   `json:"type"`
	Status taskqueue.TaskStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

type TickResult struct {
	Claimed   int           `json:"claimed"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Tasks     []TaskOutcome `json:"tasks"`
}

// Processor claims pending tasks and runs the handler registered for their
// type. Failed tasks are not retried here; only the stuck-task sweep puts a
// task back to pending.
type Processor struct {
	queue    Queue
	config   Config
	handlers map[taskqueue.TaskType]pipeline.Handler
	sem      *semaphore.Weighted
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	logger   zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(queue Queue, handlers map[taskqueue.TaskType]pipeline.Handler, config Config, logger zerolog.Logger) *Processor {
	config.applyDefaults()
	if len(config.Types) == 0 {
		for typ := range handlers {
			config.Types = append(config.Types, typ)
		}
	}
	return &Processor{
		queue:    queue,
		config:   config,
		handlers: handlers,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		metrics:  metrics.NewRecorder(),
		tracer:   telemetry.Tracer(),
		logger: logger.With().
			Str("component", "processor").
			Str("worker_id", config.WorkerID).
			Logger(),
		stopChan: make(chan struct{}),
	}
}

// Tick claims one batch and waits for every claimed task to finish.
func (p *Processor) Tick(ctx context.Context) (*TickResult, error) {
	start := time.Now()
	defer func() { p.metrics.RecordTick(time.Since(start)) }()

	tasks, err := p.queue.ClaimNextPending(ctx, taskqueue.ClaimInput{
		WorkerID:     p.config.WorkerID,
		WorkerSource: p.config.Source,
		Limit:        p.config.BatchSize,
		Types:        p.config.Types,
	})
	if err != nil {
		return nil, err
	}

	res := &TickResult{Claimed: len(tasks), Tasks: make([]TaskOutcome, len(tasks))}
	if len(tasks) == 0 {
		return res, nil
	}
	p.metrics.RecordClaimed(len(tasks))
	p.logger.Info().Int("task_count", len(tasks)).Msg("Claimed tasks")

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			// The claimed tasks stay in processing until rescued.
			p.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Tick interrupted before task started")
			res.Tasks[i] = TaskOutcome{TaskID: task.ID, Type: task.Type, Status: taskqueue.StatusProcessing}
			continue
		}
		wg.Add(1)
		go func(i int, task *taskqueue.Task) {
			defer wg.Done()
			defer p.sem.Release(1)
			res.Tasks[i] = p.runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	for _, o := range res.Tasks {
		switch o.Status {
		case taskqueue.StatusCompleted:
			res.Completed++
		case taskqueue.StatusFailed:
			res.Failed++
		}
	}
	return res, nil
}

func (p *Processor) runTask(parent context.Context, task *taskqueue.Task) TaskOutcome {
	log := p.logger.With().
		Str("task_id", task.ID).
		Str("task_type", string(task.Type)).
		Str("mission_id", task.MissionID).
		Logger()

	ctx, span := p.tracer.Start(parent, "task "+string(task.Type), trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
		attribute.String("mission.id", task.MissionID),
		attribute.Int("task.retry_count", task.RetryCount),
	))
	defer span.End()

	p.metrics.TaskStarted()
	defer p.metrics.TaskDone()
	start := time.Now()

	outcome := TaskOutcome{TaskID: task.ID, Type: task.Type}
	handler, ok := p.handlers[task.Type]
	if !ok {
		msg := fmt.Sprintf("no handler registered for type %s", task.Type)
		log.Warn().Msg("No handler for task type")
		p.finish(ctx, log, task, nil, errors.New(msg), &outcome)
		span.SetStatus(codes.Error, msg)
		p.metrics.RecordTask(string(task.Type), string(outcome.Status), time.Since(start))
		return outcome
	}

	taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	hbDone := p.heartbeat(taskCtx, log, task.ID)
	result, err := p.invoke(taskCtx, handler, task)
	cancel()
	<-hbDone

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindQuota {
			if r, ok := e.Details["resource"]; ok {
				p.metrics.RecordQuotaDenied(fmt.Sprint(r))
			}
		}
	}
	p.finish(ctx, log, task, result, err, &outcome)
	p.metrics.RecordTask(string(task.Type), string(outcome.Status), time.Since(start))

	log.Info().
		Str("status", string(outcome.Status)).
		Dur("duration", time.Since(start)).
		Msg("Task finished")
	return outcome
}

func (p *Processor) invoke(ctx context.Context, h pipeline.Handler, task *taskqueue.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("task_id", task.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = h(ctx, task)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if err == nil {
			return nil, fmt.Errorf("task timed out after %s", p.config.TaskTimeout)
		}
		err = fmt.Errorf("task timed out after %s: %w", p.config.TaskTimeout, err)
	}
	return result, err
}

// finish writes the terminal status. The write is detached from the task
// context so an expired handler still gets recorded.
func (p *Processor) finish(ctx context.Context, log zerolog.Logger, task *taskqueue.Task, result any, runErr error, out *TaskOutcome) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	var err error
	if runErr != nil {
		out.Status = taskqueue.StatusFailed
		out.Error = runErr.Error()
		_, err = p.queue.Fail(wctx, task.ID, runErr.Error())
	} else {
		out.Status = taskqueue.StatusCompleted
		_, err = p.queue.Complete(wctx, task.ID, result)
	}
	if err == nil {
		return
	}

	if apperr.IsKind(err, apperr.KindConflict) {
		// Cancelled while running. The cancel stands.
		p.metrics.RecordLateFinish(string(task.Type))
		log.Warn().
			Str("attempted_status", string(out.Status)).
			Msg("Task already finished, late result discarded")
		out.Status = taskqueue.StatusFailed
		out.Error = taskqueue.CancelMessage
		return
	}
	log.Error().Err(err).Str("attempted_status", string(out.Status)).Msg("Failed to record task outcome")
	out.Status = taskqueue.StatusProcessing
	out.Error = err.Error()
}

// heartbeat refreshes the task until ctx is done. It stops early once the
// store reports the task is no longer processing.
func (p *Processor) heartbeat(ctx context.Context, log zerolog.Logger, taskID string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.queue.Heartbeat(ctx, taskID, nil)
				if err == nil {
					continue
				}
				if apperr.IsKind(err, apperr.KindConflict) || apperr.IsKind(err, apperr.KindNotFound) {
					log.Warn().Err(err).Msg("Heartbeat rejected, stopping")
					return
				}
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Heartbeat failed")
				}
			}
		}
	}()
	return done
}

// Start runs Tick on the poll interval until ctx is cancelled or Stop is
// called.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().
		Dur("poll_interval", p.config.PollInterval).
		Int("batch_size", p.config.BatchSize).
		Int("concurrency", p.config.Concurrency).
		Msg("Starting processor")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.Info().Msg("Processor shutting down")
				return
			case <-p.stopChan:
				p.logger.Info().Msg("Processor received stop signal")
				return
			case <-ticker.C:
				if _, err := p.Tick(ctx); err != nil {
					p.logger.Error().Err(err).Msg("Processor tick failed")
				}
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight tick.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.logger.Info().Msg("Processor stopping, waiting for in-flight tasks")
	p.wg.Wait()
	p.logger.Info().Msg("Processor stopped")
}
