// internal/workers/enquiry/generate-identifiers/handler.go
package generateidentifiers

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
	"github.com/redis/go-redis/v9"
)

const (
	TaskType  = registry.TaskGenerateIdentifiers
	ConfigKey = "generate-identifiers"
)

type Handler struct {
	config       *Config
	fetcher      enquiry.Fetcher
	redis        redis.Cmdable
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Fetcher      enquiry.Fetcher
	Redis        redis.Cmdable // optional; shares snapshots across jobs of a session
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("%s: table service client is required", ConfigKey)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
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
	if input.SessionID == "" {
		input.SessionID = strconv.FormatInt(job.ProcessInstanceKey, 10)
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	var opts []enquiry.SnapshotOption
	if h.redis != nil {
		opts = append(opts, enquiry.WithRedis(h.redis, h.config.SnapshotTTL))
	}
	cache := enquiry.NewSnapshotCache(h.fetcher, input.SessionID, h.logger, opts...)

	snap, err := cache.Summaries(ctx)
	if err != nil {
		return nil, err
	}

	output := &Output{
		SessionID:              input.SessionID,
		CandidateEnquiryNumber: snap.NextCandidateID(),
	}

	if input.IndentNumber == "" {
		output.IndentNumber = snap.NextRequisitionID()
		return output, nil
	}

	output.IndentNumber = input.IndentNumber
	if indent, ok := enquiry.LookupIndent(snap.Indents, input.IndentNumber); ok {
		output.IndentFound = true
		output.Post = indent.Post
		output.Department = indent.Department
	} else {
		h.logger.Warn("indent number not in requisition table", map[string]interface{}{
			"indentNumber": input.IndentNumber,
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
	h.logger.Info("identifiers generated", map[string]interface{}{
		"jobKey":                 job.Key,
		"candidateEnquiryNumber": output.CandidateEnquiryNumber,
		"indentNumber":           output.IndentNumber,
		"indentFound":            output.IndentFound,
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
