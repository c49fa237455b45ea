// internal/workers/enquiry/complete-indent/handler.go
package completeindent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"enquiry-workers/internal/common/config"
	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/internal/enquiry"
	"enquiry-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType  = registry.TaskCompleteIndent
	ConfigKey = "complete-indent"
)

type Handler struct {
	config       *Config
	reconciler   *enquiry.Reconciler
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Reconciler   *enquiry.Reconciler
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("%s: reconciler is required", ConfigKey)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		reconciler:   opts.Reconciler,
		logger:       log,
		errorHandler: commonerrors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	input, err := parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func parseInput(job entities.Job) (*Input, error) {
	result, err := registry.ValidateVariables(TaskType, []byte(job.Variables))
	if err != nil {
		return nil, commonerrors.NewParseError(err)
	}
	if !result.Valid {
		return nil, commonerrors.NewValidationFailedError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, commonerrors.NewParseError(err)
	}
	input.IndentNumber = strings.TrimSpace(input.IndentNumber)
	if input.IndentNumber == "" {
		return nil, commonerrors.NewValidationFailedError("indentNumber: required field missing")
	}
	return &input, nil
}

// execute patches the requisition row. A failed patch fails the job so the
// broker retries it; both patches are safe to repeat.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	report, err := h.reconciler.MarkIndentComplete(ctx, input.IndentNumber)
	if err != nil {
		return nil, err
	}
	if err := report.Err(); err != nil {
		return nil, err
	}

	output := &Output{
		IndentNumber:  report.IndentNumber,
		IndentPatched: report.Applied(),
		IndentRow:     report.Row,
	}
	for _, p := range report.Patches {
		output.Patches = append(output.Patches, PatchResult{
			Column: p.Column,
			State:  string(p.State),
			Error:  p.Error,
		})
	}
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("requisition patched", map[string]interface{}{
		"jobKey":        job.Key,
		"indentNumber":  output.IndentNumber,
		"indentPatched": output.IndentPatched,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := enquiry.ToStandardError(TaskType, err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
