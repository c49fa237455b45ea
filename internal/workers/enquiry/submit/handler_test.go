package submit

import (
	"context"
	"testing"
	"time"

	commonerrors "enquiry-workers/internal/common/errors"
	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/common/sheets/sheetstest"
	"enquiry-workers/internal/enquiry"
	"enquiry-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv     *sheetstest.Server
	handler *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := sheetstest.NewServer()
	t.Cleanup(srv.Close)

	srv.SetTable(sheets.TableIndent, sheetstest.Layout(
		[]string{"Timestamp", "Indent Number", "Post", "Department", "Status", "Actual 2"},
		[]string{"02/03/2024 10:00:00", "AAP-03", "Accountant", "Finance", "Pending", ""},
	))
	srv.SetTable(sheets.TableEnquiry, sheetstest.Layout(enquiry.EnquiryColumns,
		[]string{"03/03/2024 11:00:00", "AAP-03", "ENQ-04"},
	))

	log := logger.NewTestLogger(t)
	client := sheets.NewClient(sheets.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, log)
	saga := enquiry.NewSaga(
		enquiry.NewReconciler(client, time.UTC, log),
		filestore.NewScriptStore(client, "folder-1", 1024),
		enquiry.NewMemoryJournal(),
		log,
	)

	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Saga:         saga,
		Fetcher:      client,
		Logger:       log,
	})
	require.NoError(t, err)
	return &fixture{srv: srv, handler: h}
}

func testJob(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                2251799813685260,
		ProcessInstanceKey: 2251799813685249,
		ElementInstanceKey: 2251799813685255,
		Variables:          variables,
		Retries:            3,
	}}
}

const needMoreVariables = `{
	"indentNumber": "AAP-03",
	"candidate": {"name": "Asha Verma", "phone": "9876543210", "email": "asha@example.com", "dob": "1995-03-05"},
	"photo": {"name": "asha.jpg", "mimeType": "image/jpeg", "data": "aGVsbG8="}
}`

func TestParseInput(t *testing.T) {
	first, err := parseInput(testJob(needMoreVariables))
	require.NoError(t, err)
	second, err := parseInput(testJob(needMoreVariables))
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID, "submission id is stable across retries of one job")
	assert.Equal(t, "2251799813685249", first.SessionID)
	assert.Equal(t, models.StatusNeedMore, first.EffectiveStatus())
	require.NotNil(t, first.Photo)
	assert.Equal(t, []byte("hello"), first.Photo.Data)

	explicit, err := parseInput(testJob(`{"submissionId":"sub-7","indentNumber":"AAP-03","candidate":{"name":"A","phone":"1","email":"a@b.co"}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub-7", explicit.ID)
}

func TestParseInput_SchemaViolations(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		field     string
	}{
		{"missing candidate", `{"indentNumber":"AAP-03"}`, "candidate"},
		{"missing email", `{"indentNumber":"AAP-03","candidate":{"name":"A","phone":"1"}}`, "candidate.email"},
		{"unknown status", `{"indentNumber":"AAP-03","status":"Done","candidate":{"name":"A","phone":"1","email":"a@b.co"}}`, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseInput(testJob(tt.variables))
			require.Error(t, err)
			stdErr := commonerrors.Normalize(err)
			assert.Equal(t, commonerrors.ErrCodeValidationFailed, stdErr.Code)
			assert.Contains(t, stdErr.Details, tt.field)
		})
	}
}

func TestHandler_Execute_NeedMore(t *testing.T) {
	f := newFixture(t)
	input, err := parseInput(testJob(needMoreVariables))
	require.NoError(t, err)

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "NeedMore", out.Status)
	assert.Equal(t, "ENQ-05", out.CandidateEnquiryNumber)
	assert.Equal(t, "https://drive.example.com/folder-1/ENQ-05_photo_asha.jpg", out.PhotoURL)
	assert.False(t, out.IndentPatched)
	assert.Len(t, f.srv.CallsFor("insert", sheets.TableEnquiry), 1)
	assert.Empty(t, f.srv.CallsFor("updateCell", ""))

	rows := f.srv.Table(sheets.TableEnquiry)
	last := rows[len(rows)-1]
	assert.Equal(t, "ENQ-05", last[2])
	assert.Equal(t, "Accountant", last[3], "post is filled from the requisition")
}

func TestHandler_Execute_CompletePatchesIndent(t *testing.T) {
	f := newFixture(t)
	input, err := parseInput(testJob(`{
		"status": "Complete",
		"indentNumber": "AAP-03",
		"candidate": {"name": "Asha Verma", "phone": "9876543210", "email": "asha@example.com"}
	}`))
	require.NoError(t, err)

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "Complete", out.Status)
	assert.True(t, out.IndentPatched)
	assert.Empty(t, out.IndentError)
	assert.Len(t, f.srv.CallsFor("insert", sheets.TableEnquiry), 1)
	assert.Len(t, f.srv.CallsFor("updateCell", sheets.TableIndent), 2)
}

func TestHandler_Execute_RetryReplaysJournal(t *testing.T) {
	f := newFixture(t)
	input, err := parseInput(testJob(needMoreVariables))
	require.NoError(t, err)

	first, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	retry, err := parseInput(testJob(needMoreVariables))
	require.NoError(t, err)
	second, err := f.handler.Execute(context.Background(), retry)
	require.NoError(t, err)

	assert.Equal(t, first.CandidateEnquiryNumber, second.CandidateEnquiryNumber)
	assert.Equal(t, first.PhotoURL, second.PhotoURL)
	assert.Len(t, f.srv.CallsFor("insert", ""), 1)
	assert.Len(t, f.srv.CallsFor("uploadFile", ""), 1)
}

func TestHandler_Execute_Failures(t *testing.T) {
	t.Run("invalid email", func(t *testing.T) {
		f := newFixture(t)
		input, err := parseInput(testJob(`{"indentNumber":"AAP-03","candidate":{"name":"A","phone":"1","email":"not-an-address"}}`))
		require.NoError(t, err)

		_, err = f.handler.Execute(context.Background(), input)
		require.Error(t, err)
		assert.Equal(t, commonerrors.ErrCodeValidationFailed, enquiry.ToStandardError(TaskType, err).Code)
		assert.Empty(t, f.srv.Calls())
	})

	t.Run("insert rejected", func(t *testing.T) {
		f := newFixture(t)
		f.srv.Reject("insert", "Sheet is protected")
		input, err := parseInput(testJob(needMoreVariables))
		require.NoError(t, err)

		_, err = f.handler.Execute(context.Background(), input)
		require.Error(t, err)
		stdErr := enquiry.ToStandardError(TaskType, err)
		assert.Equal(t, commonerrors.ErrCodeRemoteRejected, stdErr.Code)
		assert.Contains(t, stdErr.Details, "Sheet is protected")
	})

	t.Run("oversize photo", func(t *testing.T) {
		f := newFixture(t)
		input, err := parseInput(testJob(needMoreVariables))
		require.NoError(t, err)
		input.Photo.Data = make([]byte, 2048)

		_, err = f.handler.Execute(context.Background(), input)
		require.Error(t, err)
		assert.Equal(t, commonerrors.ErrCodeFileTooLarge, enquiry.ToStandardError(TaskType, err).Code)
		assert.Empty(t, f.srv.CallsFor("uploadFile", ""))
		assert.Empty(t, f.srv.CallsFor("insert", ""))
	})
}

func TestNewHandler_RequiresSaga(t *testing.T) {
	_, err := NewHandler(HandlerOptions{CustomConfig: DefaultConfig(), Logger: logger.NewNoOpLogger()})
	assert.ErrorContains(t, err, "saga")
}
