package notifyoutcome

import (
	"context"
	"errors"
	"testing"
	"time"

	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	sent          []*ses.SendEmailInput
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.sent = append(m.sent, params)
	if m.SendEmailFunc == nil {
		return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
	}
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	published   []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.published = append(m.published, params)
	if m.PublishFunc == nil {
		return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
	}
	return m.PublishFunc(ctx, params, optFns...)
}

func createTestConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
		EmailEnabled:  true,
		SMSEnabled:    true,
		FromEmail:     "hr-bot@example.com",
		To:            []string{"recruiting@example.com"},
		AWSRegion:     "ap-south-1",
		PhoneRegion:   "IN",
	}
}

func newTestHandler(t *testing.T, cfg *Config, sesMock *MockSESService, snsMock *MockSNSService) *Handler {
	t.Helper()
	opts := HandlerOptions{CustomConfig: cfg, Logger: logger.NewTestLogger(t)}
	if sesMock != nil {
		opts.SES = sesMock
	}
	if snsMock != nil {
		opts.SNS = snsMock
	}
	h, err := NewHandler(opts)
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2024, time.March, 7, 4, 5, 6, 0, time.UTC) }
	return h
}

func TestHandler_Execute_Success(t *testing.T) {
	sesMock, snsMock := &MockSESService{}, &MockSNSService{}
	h := newTestHandler(t, createTestConfig(), sesMock, snsMock)

	out, err := h.Execute(context.Background(), &Input{
		Success:                true,
		CandidateEnquiryNumber: "ENQ-05",
		IndentNumber:           "AAP-03",
		RecipientPhone:         "81234 56789",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, TypeSubmissionSucceeded, out.NotificationType)
	assert.NotEmpty(t, out.NotificationID)
	assert.Equal(t, "2024-03-07T04:05:06Z", out.SentAt)
	assert.Equal(t, "Candidate enquiry ENQ-05 for indent AAP-03 was saved.", out.Message)

	require.Len(t, sesMock.sent, 1)
	email := sesMock.sent[0]
	assert.Equal(t, "hr-bot@example.com", aws.ToString(email.Source))
	assert.Equal(t, []string{"recruiting@example.com"}, email.Destination.ToAddresses)
	assert.Equal(t, "Enquiry ENQ-05 recorded", aws.ToString(email.Message.Subject.Data))

	require.Len(t, snsMock.published, 1)
	assert.Equal(t, "+918123456789", aws.ToString(snsMock.published[0].PhoneNumber))
}

func TestHandler_Execute_FailureCarriesMessage(t *testing.T) {
	sesMock := &MockSESService{}
	cfg := createTestConfig()
	cfg.SMSEnabled = false
	h := newTestHandler(t, cfg, sesMock, nil)

	out, err := h.Execute(context.Background(), &Input{
		Success:      false,
		SubmissionID: "sub-7",
		IndentNumber: "AAP-03",
		ErrorMessage: "REMOTE_REJECTED: Sheet is protected",
	})
	require.NoError(t, err)

	assert.Equal(t, TypeSubmissionFailed, out.NotificationType)
	assert.Equal(t, "Submission sub-7 for indent AAP-03 could not be saved: REMOTE_REJECTED: Sheet is protected", out.Message)
	require.Len(t, sesMock.sent, 1)
	assert.Equal(t, "Enquiry submission failed", aws.ToString(sesMock.sent[0].Message.Subject.Data))
}

func TestHandler_Execute_IndentNote(t *testing.T) {
	cfg := createTestConfig()
	cfg.SMSEnabled = false
	h := newTestHandler(t, cfg, &MockSESService{}, nil)

	out, err := h.Execute(context.Background(), &Input{
		Success:                true,
		CandidateEnquiryNumber: "ENQ-05",
		IndentNumber:           "AAP-03",
		IndentError:            "ROW_NOT_FOUND",
	})
	require.NoError(t, err)
	assert.Contains(t, out.Message, "could not be marked complete: ROW_NOT_FOUND")
}

func TestHandler_Execute_ChannelFailures(t *testing.T) {
	sendErr := errors.New("throttled")

	t.Run("email failure is retryable", func(t *testing.T) {
		sesMock := &MockSESService{SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, sendErr
		}}
		snsMock := &MockSNSService{}
		h := newTestHandler(t, createTestConfig(), sesMock, snsMock)

		_, err := h.Execute(context.Background(), &Input{Success: true, RecipientPhone: "+918123456789"})
		require.Error(t, err)
		stdErr := commonerrors.Normalize(err)
		assert.Equal(t, commonerrors.ErrCodeNotificationSendFailed, stdErr.Code)
		assert.True(t, stdErr.Retryable)
		assert.Empty(t, snsMock.published)
	})

	t.Run("sms failure after email is logged", func(t *testing.T) {
		snsMock := &MockSNSService{PublishFunc: func(context.Context, *sns.PublishInput, ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, sendErr
		}}
		h := newTestHandler(t, createTestConfig(), &MockSESService{}, snsMock)

		out, err := h.Execute(context.Background(), &Input{Success: true, RecipientPhone: "+918123456789"})
		require.NoError(t, err)
		assert.Equal(t, StatusSent, out.Status)
	})

	t.Run("sms only failure fails the job", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.EmailEnabled = false
		snsMock := &MockSNSService{PublishFunc: func(context.Context, *sns.PublishInput, ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, sendErr
		}}
		h := newTestHandler(t, cfg, nil, snsMock)

		_, err := h.Execute(context.Background(), &Input{Success: false, RecipientPhone: "+918123456789"})
		require.Error(t, err)
		assert.Equal(t, commonerrors.ErrCodeNotificationSendFailed, commonerrors.Normalize(err).Code)
	})
}

func TestHandler_Execute_InvalidPhone(t *testing.T) {
	t.Run("skipped after email", func(t *testing.T) {
		snsMock := &MockSNSService{}
		h := newTestHandler(t, createTestConfig(), &MockSESService{}, snsMock)

		out, err := h.Execute(context.Background(), &Input{Success: true, RecipientPhone: "12"})
		require.NoError(t, err)
		assert.Equal(t, StatusSent, out.Status)
		assert.Empty(t, snsMock.published)
	})

	t.Run("sms only is a validation failure", func(t *testing.T) {
		cfg := createTestConfig()
		cfg.EmailEnabled = false
		snsMock := &MockSNSService{}
		h := newTestHandler(t, cfg, nil, snsMock)

		_, err := h.Execute(context.Background(), &Input{Success: true, RecipientPhone: "12"})
		require.Error(t, err)
		stdErr := commonerrors.Normalize(err)
		assert.Equal(t, commonerrors.ErrCodeValidationFailed, stdErr.Code)
		assert.False(t, stdErr.Retryable)
		assert.Empty(t, snsMock.published)
	})
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "8123456789", want: "+918123456789"},
		{in: "+91 81234 56789", want: "+918123456789"},
		{in: "+1 650-253-0000", want: "+16502530000"},
		{in: "12", wantErr: true},
		{in: "not a phone", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizePhone(tt.in, "IN")
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestHandler_Execute_Disabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.EmailEnabled = false
	snsMock := &MockSNSService{}
	h := newTestHandler(t, cfg, nil, snsMock)

	out, err := h.Execute(context.Background(), &Input{Success: true})
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, out.Status)
	assert.Empty(t, snsMock.published, "no phone, no sms")
}

func TestParseInput(t *testing.T) {
	job := func(vars string) entities.Job {
		return entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 1, Variables: vars}}
	}

	input, err := parseInput(job(`{"success":false,"errorMessage":"boom","recipientPhone":" +91 "}`))
	require.NoError(t, err)
	assert.False(t, input.Success)
	assert.Equal(t, "+91", input.RecipientPhone)

	_, err = parseInput(job(`{"errorMessage":"boom"}`))
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeValidationFailed, commonerrors.Normalize(err).Code)

	_, err = parseInput(job(`{"success":`))
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeParseError, commonerrors.Normalize(err).Code)
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]interface{}
		want string
	}{
		{"substitutes", "Hello {{name}}", map[string]interface{}{"name": "Asha"}, "Hello Asha"},
		{"drops missing", "Hello {{name}}{{suffix}}!", map[string]interface{}{"name": "Asha"}, "Hello Asha!"},
		{"formats non strings", "{{count}} rows", map[string]interface{}{"count": 3}, "3 rows"},
		{"unterminated", "Hello {{name", nil, "Hello {{name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTemplate(tt.tmpl, tt.data))
		})
	}
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(HandlerOptions{CustomConfig: createTestConfig(), Logger: logger.NewNoOpLogger()})
	assert.ErrorContains(t, err, "SES client is required")

	cfg := createTestConfig()
	cfg.To = nil
	_, err = NewHandler(HandlerOptions{CustomConfig: cfg, SES: &MockSESService{}, SNS: &MockSNSService{}, Logger: logger.NewNoOpLogger()})
	assert.ErrorContains(t, err, "recipient")
}
