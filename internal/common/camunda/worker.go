// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"enquiry-workers/internal/common/config"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc is the signature every job handler exposes through Handle.
type HandlerFunc func(client worker.JobClient, job entities.Job)

// Job outcomes as seen from the command a handler issued.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeError     = "bpmn_error"
	OutcomeNone      = "unanswered"
)

// Observer receives a span and an outcome per handled job.
type Observer interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, duration time.Duration, status string)
}

// outcomeClient remembers which command the handler answered the job with.
type outcomeClient struct {
	worker.JobClient
	outcome string
}

func (c *outcomeClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	c.outcome = OutcomeCompleted
	return c.JobClient.NewCompleteJobCommand()
}

func (c *outcomeClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	c.outcome = OutcomeFailed
	return c.JobClient.NewFailJobCommand()
}

func (c *outcomeClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	c.outcome = OutcomeError
	return c.JobClient.NewThrowErrorCommand()
}

// Instrument wraps a handler with the active-jobs gauge and duration histogram,
// and reports the job outcome to observer when one is set.
func Instrument(taskType string, handler HandlerFunc, observer Observer) HandlerFunc {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		start := time.Now()
		oc := &outcomeClient{JobClient: client, outcome: OutcomeNone}

		var span trace.Span
		ctx := context.Background()
		if observer != nil {
			ctx, span = observer.StartSpan(ctx, taskType)
			span.SetAttributes(
				attribute.Int64("job.key", job.Key),
				attribute.Int64("process.instance.key", job.ProcessInstanceKey),
			)
		}

		defer func() {
			elapsed := time.Since(start)
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
			if observer != nil {
				observer.RecordJobProcessed(ctx, taskType, oc.outcome)
				observer.RecordJobDuration(ctx, taskType, elapsed, oc.outcome)
				span.SetAttributes(attribute.String("job.outcome", oc.outcome))
				span.End()
			}
		}()
		handler(oc, job)
	}
}

// Workers keeps the opened job workers so they can be closed on shutdown.
type Workers struct {
	client   zbc.Client
	log      logger.Logger
	observer Observer
	workers  []worker.JobWorker
}

func NewWorkers(client zbc.Client, log logger.Logger) *Workers {
	return &Workers{client: client, log: log}
}

// WithObserver reports every job started afterwards to o.
func (w *Workers) WithObserver(o Observer) *Workers {
	w.observer = o
	return w
}

// Start opens a job worker for taskType unless it is disabled in configuration.
func (w *Workers) Start(taskType string, wcfg config.WorkerConfig, handler HandlerFunc) {
	if !wcfg.Enabled {
		w.log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}

	jobWorker := w.client.NewJobWorker().
		JobType(taskType).
		Handler(worker.JobHandler(Instrument(taskType, handler, w.observer))).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	w.workers = append(w.workers, jobWorker)

	w.log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
}

// Count returns the number of opened workers.
func (w *Workers) Count() int {
	return len(w.workers)
}

// Close stops polling on every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	for _, jw := range w.workers {
		jw.Close()
		jw.AwaitClose()
	}
	w.log.Info("workers stopped", map[string]interface{}{"count": len(w.workers)})
}
