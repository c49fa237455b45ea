// internal/workers/enquiry/submit/handler.go
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"enquiry-workers/internal/common/config"
	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/internal/enquiry"
	"enquiry-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType  = registry.TaskSubmit
	ConfigKey = "enquiry-submit"
)

type Handler struct {
	config       *Config
	saga         *enquiry.Saga
	fetcher      enquiry.Fetcher
	redis        redis.Cmdable
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Saga         *enquiry.Saga
	Fetcher      enquiry.Fetcher // optional; enables autofill and header placement
	Redis        redis.Cmdable
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if opts.Saga == nil {
		return nil, fmt.Errorf("%s: submission saga is required", ConfigKey)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		saga:         opts.Saga,
		fetcher:      opts.Fetcher,
		redis:        opts.Redis,
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
		"retries":            job.Retries,
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

// parseInput decodes the submission. A missing submission ID is derived from the
// element instance key so retries of the same job replay the same journal.
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

	if input.ID == "" {
		key := strconv.FormatInt(job.ElementInstanceKey, 10)
		input.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
	}
	if input.SessionID == "" {
		input.SessionID = strconv.FormatInt(job.ProcessInstanceKey, 10)
	}
	input.IndentNumber = strings.TrimSpace(input.IndentNumber)
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	var snapshots *enquiry.SnapshotCache
	if h.fetcher != nil {
		var opts []enquiry.SnapshotOption
		if h.redis != nil {
			opts = append(opts, enquiry.WithRedis(h.redis, h.config.SnapshotTTL))
		}
		snapshots = enquiry.NewSnapshotCache(h.fetcher, input.SessionID, h.logger, opts...)
	}

	outcome, err := h.saga.Run(ctx, input.Submission, snapshots)
	if err != nil {
		return nil, err
	}
	return &Output{
		SubmissionOutcome: outcome,
		Status:            string(input.EffectiveStatus()),
	}, nil
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
	fields := map[string]interface{}{
		"jobKey":                 job.Key,
		"submissionId":           output.SubmissionID,
		"candidateEnquiryNumber": output.CandidateEnquiryNumber,
		"indentPatched":          output.IndentPatched,
	}
	if output.IndentError != "" {
		fields["indentError"] = output.IndentError
		h.logger.Warn("submission stored, requisition not patched", fields)
		return
	}
	h.logger.Info("submission stored", fields)
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := enquiry.ToStandardError(TaskType, err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
