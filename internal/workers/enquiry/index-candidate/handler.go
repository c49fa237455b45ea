// internal/workers/enquiry/index-candidate/handler.go
package indexcandidate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"enquiry-workers/internal/common/config"
	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/internal/models"
	"enquiry-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/elastic/go-elasticsearch/v8"
)

const (
	TaskType  = registry.TaskIndexCandidate
	ConfigKey = "index-candidate"
)

var ErrIndexRejected = errors.New("INDEX_REJECTED")

type Handler struct {
	config       *Config
	client       *elasticsearch.Client
	now          func() time.Time
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Client       *elasticsearch.Client
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("%s: elasticsearch client is required", ConfigKey)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType, "index": cfg.Index})

	return &Handler{
		config:       cfg,
		client:       opts.Client,
		now:          time.Now,
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
	if input.Status == "" {
		input.Status = string(models.StatusNeedMore)
	}
	return &input, nil
}

func buildDocument(input *Input, indexedAt time.Time) Document {
	return Document{
		CandidateEnquiryNumber: input.CandidateEnquiryNumber,
		IndentNumber:           input.IndentNumber,
		Status:                 input.Status,
		Post:                   input.Post,
		Name:                   input.Candidate.Name,
		Phone:                  input.Candidate.Phone,
		Email:                  input.Candidate.Email,
		Department:             input.Candidate.Department,
		PreviousCompany:        input.Candidate.PreviousCompany,
		PreviousPosition:       input.Candidate.PreviousPosition,
		JobExperience:          input.Candidate.JobExperience,
		PhotoURL:               input.PhotoURL,
		ResumeURL:              input.ResumeURL,
		IndexedAt:              indexedAt.UTC(),
	}
}

type indexResponse struct {
	ID      string `json:"_id"`
	Result  string `json:"result"`
	Version int64  `json:"_version"`
}

// execute upserts the candidate document keyed by its enquiry number, so a
// repeated job overwrites rather than duplicates.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	body, err := json.Marshal(buildDocument(input, h.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	res, err := h.client.Index(
		h.config.Index,
		bytes.NewReader(body),
		h.client.Index.WithContext(ctx),
		h.client.Index.WithDocumentID(input.CandidateEnquiryNumber),
	)
	if err != nil {
		return nil, commonerrors.NewIndexingFailedError(h.config.Index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		stdErr := commonerrors.NewIndexingFailedError(h.config.Index,
			fmt.Errorf("%w: %s: %s", ErrIndexRejected, res.Status(), strings.TrimSpace(string(raw))))
		stdErr.Retryable = res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests
		return nil, stdErr
	}

	var parsed indexResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, commonerrors.NewIndexingFailedError(h.config.Index, fmt.Errorf("decode response: %w", err))
	}

	return &Output{
		Indexed:    true,
		DocumentID: parsed.ID,
		Result:     parsed.Result,
		Version:    parsed.Version,
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
	h.logger.Info("candidate indexed", map[string]interface{}{
		"jobKey":     job.Key,
		"documentId": output.DocumentID,
		"result":     output.Result,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := commonerrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
