// internal/workers/communication/notify-outcome/handler.go
package notifyoutcome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"enquiry-workers/internal/common/aws"
	"enquiry-workers/internal/common/config"
	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/pkg/registry"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"github.com/ttacon/libphonenumber"
)

const (
	TaskType  = registry.TaskNotifyOutcome
	ConfigKey = "notify-outcome"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type template struct {
	subject string
	body    string
}

var templates = map[string]template{
	TypeSubmissionSucceeded: {
		subject: "Enquiry {{candidateEnquiryNumber}} recorded",
		body:    "Candidate enquiry {{candidateEnquiryNumber}} for indent {{indentNumber}} was saved.{{indentNote}}",
	},
	TypeSubmissionFailed: {
		subject: "Enquiry submission failed",
		body:    "Submission {{submissionId}} for indent {{indentNumber}} could not be saved: {{errorMessage}}",
	},
}

type Handler struct {
	config       *Config
	sesClient    SESService
	snsClient    SNSService
	now          func() time.Time
	logger       logger.Logger
	errorHandler *commonerrors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	SES          SESService
	SNS          SNSService
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if cfg.EmailEnabled && opts.SES == nil {
		return nil, fmt.Errorf("%s: SES client is required when email is enabled", ConfigKey)
	}
	if cfg.SMSEnabled && opts.SNS == nil {
		return nil, fmt.Errorf("%s: SNS client is required when sms is enabled", ConfigKey)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		sesClient:    opts.SES,
		snsClient:    opts.SNS,
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
	input.RecipientPhone = strings.TrimSpace(input.RecipientPhone)
	return &input, nil
}

func notificationType(input *Input) string {
	if input.Success {
		return TypeSubmissionSucceeded
	}
	return TypeSubmissionFailed
}

func (h *Handler) render(input *Input) (kind, subject, body string) {
	kind = notificationType(input)

	errorMessage := input.ErrorMessage
	if errorMessage == "" {
		errorMessage = "unknown error"
	}
	indentNote := ""
	if input.IndentError != "" {
		indentNote = " The requisition could not be marked complete: " + input.IndentError
	}

	data := map[string]interface{}{
		"submissionId":           input.SubmissionID,
		"candidateEnquiryNumber": input.CandidateEnquiryNumber,
		"indentNumber":           input.IndentNumber,
		"errorMessage":           errorMessage,
		"indentNote":             indentNote,
	}
	tmpl := templates[kind]
	return kind, renderTemplate(tmpl.subject, data), renderTemplate(tmpl.body, data)
}

// execute sends exactly one message per enabled channel. An email failure
// fails the job for retry; an SMS failure after a delivered email is only
// logged so a retry never repeats the email.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	kind, subject, body := h.render(input)
	output := &Output{
		NotificationID:   uuid.New().String(),
		NotificationType: kind,
		Status:           StatusDisabled,
		Message:          body,
		SentAt:           h.now().UTC().Format(time.RFC3339),
	}

	sendSMS := h.config.SMSEnabled && input.RecipientPhone != ""
	if !h.config.EmailEnabled && !sendSMS {
		h.logger.Info("notification channels disabled", map[string]interface{}{
			"notificationType": kind,
		})
		return output, nil
	}

	if h.config.EmailEnabled {
		if _, err := h.sesClient.SendEmail(ctx, aws.TextEmail(h.config.FromEmail, h.config.To, subject, body)); err != nil {
			return nil, commonerrors.NewNotificationSendFailedError(kind, fmt.Errorf("email: %w", err))
		}
		output.Status = StatusSent
	}

	if sendSMS {
		phone, err := normalizePhone(input.RecipientPhone, h.config.PhoneRegion)
		if err != nil {
			if output.Status != StatusSent {
				return nil, commonerrors.NewValidationFailedError(fmt.Sprintf("recipientPhone: %v", err))
			}
			h.logger.Warn("sms skipped", map[string]interface{}{
				"error": err,
				"phone": input.RecipientPhone,
			})
			return output, nil
		}
		if _, err := h.snsClient.Publish(ctx, aws.SMS(phone, body)); err != nil {
			if output.Status != StatusSent {
				return nil, commonerrors.NewNotificationSendFailedError(kind, fmt.Errorf("sms: %w", err))
			}
			h.logger.Warn("sms send failed", map[string]interface{}{
				"error": err,
				"phone": phone,
			})
		} else {
			output.Status = StatusSent
		}
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
	h.logger.Info("outcome notified", map[string]interface{}{
		"jobKey":           job.Key,
		"notificationId":   output.NotificationID,
		"notificationType": output.NotificationType,
		"status":           output.Status,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := commonerrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

// normalizePhone returns number in E.164, reading numbers without a country
// code as local to region.
func normalizePhone(number, region string) (string, error) {
	p, err := libphonenumber.Parse(number, region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number %q is not valid", number)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// renderTemplate substitutes {{key}} placeholders and drops any left unresolved.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
