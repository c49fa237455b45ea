package enquiry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/lock"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/common/sheets/sheetstest"
	"enquiry-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sagaFixture struct {
	srv     *sheetstest.Server
	client  *sheets.Client
	journal *MemoryJournal
}

func newSagaFixture(t *testing.T) *sagaFixture {
	srv, client := newFakeService(t)
	seedIndent(srv, indentHeaders)
	seedEnquiry(srv, []string{"03/03/2024 11:00:00", "AAP-03", "ENQ-04"})
	return &sagaFixture{srv: srv, client: client, journal: NewMemoryJournal()}
}

func (f *sagaFixture) saga(t *testing.T, tables TableService, opts ...SagaOption) *Saga {
	if tables == nil {
		tables = f.client
	}
	s := NewSaga(
		newTestReconciler(t, tables),
		filestore.NewScriptStore(f.client, "folder-1", 0),
		f.journal,
		logger.NewTestLogger(t),
		opts...,
	)
	s.now = fixedNow
	return s
}

// callsSince returns the calls recorded after the first n.
func (f *sagaFixture) callsSince(n int) []sheetstest.Call {
	return f.srv.Calls()[n:]
}

func submission(status models.Status) models.Submission {
	return models.Submission{
		ID:                     "sub-1",
		Status:                 status,
		IndentNumber:           "AAP-03",
		CandidateEnquiryNumber: "ENQ-05",
		Post:                   "Accountant",
		Candidate: models.Candidate{
			Name:  "Asha Verma",
			Phone: "9876543210",
			Email: "asha@example.com",
			DOB:   "1995-03-05",
		},
	}
}

func stepStates(outcome *models.SubmissionOutcome) map[models.StepName]models.StepState {
	out := make(map[models.StepName]models.StepState)
	for _, s := range outcome.Steps {
		out[s.Step] = s.State
	}
	return out
}

func TestSaga_NeedMoreMakesOneInsert(t *testing.T) {
	f := newSagaFixture(t)

	outcome, err := f.saga(t, nil).Run(context.Background(), submission(models.StatusNeedMore), nil)
	require.NoError(t, err)

	calls := f.srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "insert", calls[0].Action)
	assert.Equal(t, sheets.TableEnquiry, calls[0].Sheet)
	assert.Empty(t, f.srv.CallsFor("fetch", sheets.TableIndent))

	assert.Equal(t, "ENQ-05", outcome.CandidateEnquiryNumber)
	assert.False(t, outcome.IndentPatched)
	assert.Equal(t, map[models.StepName]models.StepState{
		models.StepUploadPhoto:    models.StepSkipped,
		models.StepUploadResume:   models.StepSkipped,
		models.StepInsertEnquiry:  models.StepOK,
		models.StepCompleteIndent: models.StepSkipped,
	}, stepStates(outcome))
}

func TestSaga_CompleteUploadsInsertsAndPatches(t *testing.T) {
	f := newSagaFixture(t)
	sub := submission(models.StatusComplete)
	sub.Photo = &models.Upload{Name: "me.jpg", MimeType: "image/jpeg", Data: []byte("jpg")}
	sub.Resume = &models.Upload{Name: "cv.pdf", MimeType: "application/pdf", Data: []byte("pdf")}

	outcome, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)

	uploads := f.srv.CallsFor("uploadFile", "")
	require.Len(t, uploads, 2)
	assert.Equal(t, "ENQ-05_photo_me.jpg", uploads[0].Form.Get("fileName"))
	assert.Equal(t, "ENQ-05_resume_cv.pdf", uploads[1].Form.Get("fileName"))
	assert.Len(t, f.srv.CallsFor("insert", sheets.TableEnquiry), 1)
	assert.Len(t, f.srv.CallsFor("fetch", sheets.TableIndent), 1)
	assert.Len(t, f.srv.CallsFor("updateCell", sheets.TableIndent), 2)

	assert.Equal(t, "https://drive.example.com/folder-1/ENQ-05_photo_me.jpg", outcome.PhotoURL)
	assert.Equal(t, "https://drive.example.com/folder-1/ENQ-05_resume_cv.pdf", outcome.ResumeURL)
	assert.True(t, outcome.IndentPatched)
	assert.Empty(t, outcome.IndentError)

	var row []string
	require.NoError(t, json.Unmarshal([]byte(f.srv.CallsFor("insert", "")[0].Form.Get("rowData")), &row))
	assert.Equal(t, outcome.PhotoURL, row[15])
	assert.Equal(t, outcome.ResumeURL, row[19])
	assert.Equal(t, "5-March-95", row[5])
}

func TestSaga_ReplaySkipsCompletedSteps(t *testing.T) {
	f := newSagaFixture(t)
	sub := submission(models.StatusComplete)
	sub.Photo = &models.Upload{Name: "me.jpg", Data: []byte("jpg")}

	first, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	n := len(f.srv.Calls())

	second, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Empty(t, f.callsSince(n), "nothing is re-executed")
	assert.Equal(t, first.PhotoURL, second.PhotoURL)
	assert.True(t, second.IndentPatched)
}

func TestSaga_ResumesAfterInsertFailure(t *testing.T) {
	f := newSagaFixture(t)
	flaky := &flakyTables{TableService: f.client, failInserts: 1}
	sub := submission(models.StatusNeedMore)
	sub.Photo = &models.Upload{Name: "me.jpg", Data: []byte("jpg")}

	_, err := f.saga(t, flaky).Run(context.Background(), sub, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sheets.ErrRemoteUnreachable)
	assert.Len(t, f.srv.CallsFor("uploadFile", ""), 1)

	results, err := f.journal.Load(context.Background(), "sub-1")
	require.NoError(t, err)
	states := latest(results)
	assert.Equal(t, models.StepOK, states[models.StepUploadPhoto].State)
	assert.Equal(t, models.StepPending, states[models.StepInsertEnquiry].State, "an unanswered insert keeps its intent")
	assert.Equal(t, "ENQ-05", states[models.StepInsertEnquiry].Detail)
	_, reached := states[models.StepCompleteIndent]
	assert.False(t, reached, "failure aborts the remaining steps")

	outcome, err := f.saga(t, flaky).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Len(t, f.srv.CallsFor("uploadFile", ""), 1, "photo is not uploaded twice")
	assert.Len(t, f.srv.CallsFor("insert", ""), 1)
	assert.NotEmpty(t, outcome.PhotoURL)
}

func TestSaga_RejectedInsertIsFailed(t *testing.T) {
	f := newSagaFixture(t)
	f.srv.Reject("insert", "Sheet is protected")

	_, err := f.saga(t, nil).Run(context.Background(), submission(models.StatusNeedMore), nil)
	require.ErrorIs(t, err, sheets.ErrRemoteRejected)

	results, err := f.journal.Load(context.Background(), "sub-1")
	require.NoError(t, err)
	insert := latest(results)[models.StepInsertEnquiry]
	assert.Equal(t, models.StepFailed, insert.State)
	assert.Contains(t, insert.Detail, "Sheet is protected")
}

func TestSaga_UnansweredInsertIsNotDuplicated(t *testing.T) {
	f := newSagaFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.NewRedisLocker(rdb, 5*time.Second, 0, logger.NewTestLogger(t))

	sub := submission(models.StatusNeedMore)
	sub.CandidateEnquiryNumber = ""

	// The row lands but the response never arrives.
	lost := &lostInsertTables{TableService: f.client, lose: 1}
	first := newCache(t, f.client, "")
	_, err := f.saga(t, lost, WithSerializedWrites(locker)).Run(context.Background(), sub, first)
	require.ErrorIs(t, err, sheets.ErrRemoteUnreachable)
	require.Len(t, f.srv.CallsFor("insert", ""), 1)

	retry := newCache(t, f.client, "")
	outcome, err := f.saga(t, lost, WithSerializedWrites(locker)).Run(context.Background(), sub, retry)
	require.NoError(t, err)
	assert.Equal(t, "ENQ-05", outcome.CandidateEnquiryNumber, "the retry keeps its own number")
	assert.Len(t, f.srv.CallsFor("insert", ""), 1, "no duplicate row")
	assert.Equal(t, models.StepOK, stepStates(outcome)[models.StepInsertEnquiry])
}

func TestSaga_ReplayReportsStatusPatchAsJournaled(t *testing.T) {
	f := newSagaFixture(t)
	seedIndent(f.srv, []string{"Timestamp", "Indent Number", "Post", "Department", "State", "Actual 2"})
	sub := submission(models.StatusComplete)

	first, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.False(t, first.IndentPatched)
	assert.Len(t, f.srv.CallsFor("updateCell", ""), 1)

	second, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.False(t, second.IndentPatched, "replay must not claim a Status patch that never happened")
	assert.Len(t, f.srv.CallsFor("updateCell", ""), 1)

	results, err := f.journal.Load(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "row 9 status=skipped", latest(results)[models.StepCompleteIndent].Detail)
}

func TestStatusApplied(t *testing.T) {
	assert.True(t, statusApplied("row 9 status=applied"))
	assert.False(t, statusApplied("row 9 status=skipped"))
	assert.False(t, statusApplied("row 9"))
}

func TestSaga_OversizeUploadMakesNoRemoteCall(t *testing.T) {
	f := newSagaFixture(t)
	sub := submission(models.StatusNeedMore)
	sub.Resume = &models.Upload{Name: "huge.pdf", Data: make([]byte, filestore.DefaultMaxBytes+1)}

	_, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, filestore.ErrFileTooLarge)
	assert.Empty(t, f.srv.Calls())

	std := ToStandardError("submit", err)
	assert.Equal(t, "FILE_TOO_LARGE", string(std.Code))
}

func TestSaga_MissingIndentRowIsReportedNotReturned(t *testing.T) {
	f := newSagaFixture(t)
	sub := submission(models.StatusComplete)
	sub.IndentNumber = "AAP-42"

	outcome, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.NoError(t, err)
	assert.Len(t, f.srv.CallsFor("insert", ""), 1, "the enquiry row stays appended")
	assert.Empty(t, f.srv.CallsFor("updateCell", ""))
	assert.False(t, outcome.IndentPatched)
	assert.Contains(t, outcome.IndentError, "ROW_NOT_FOUND")
	assert.Equal(t, models.StepFailed, stepStates(outcome)[models.StepCompleteIndent])
}

func TestSaga_ValidatesRequiredFields(t *testing.T) {
	f := newSagaFixture(t)
	sub := submission(models.StatusNeedMore)
	sub.Candidate.Email = "not-an-email"
	sub.Candidate.Phone = ""

	_, err := f.saga(t, nil).Run(context.Background(), sub, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.Contains(t, err.Error(), "email: must be a valid email address")
	assert.Contains(t, err.Error(), "phone: required field missing")
	assert.Empty(t, f.srv.Calls())

	sub = submission("Done")
	_, err = f.saga(t, nil).Run(context.Background(), sub, nil)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}

func TestSaga_AutofillsFromSnapshot(t *testing.T) {
	f := newSagaFixture(t)
	snapshots := newCache(t, f.client, "")
	_, err := snapshots.Summaries(context.Background())
	require.NoError(t, err)
	n := len(f.srv.Calls())

	sub := submission(models.StatusNeedMore)
	sub.CandidateEnquiryNumber = ""
	sub.Post = ""

	outcome, err := f.saga(t, nil).Run(context.Background(), sub, snapshots)
	require.NoError(t, err)
	assert.Equal(t, "ENQ-05", outcome.CandidateEnquiryNumber)

	calls := f.callsSince(n)
	require.Len(t, calls, 1)
	var row []string
	require.NoError(t, json.Unmarshal([]byte(calls[0].Form.Get("rowData")), &row))
	assert.Equal(t, "Accountant", row[3])
	assert.Equal(t, "Finance", row[10])
}

func TestSaga_SerializedWritesReassignTakenNumber(t *testing.T) {
	f := newSagaFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.NewRedisLocker(rdb, 5*time.Second, 0, logger.NewTestLogger(t))

	snapshots := newCache(t, f.client, "")
	_, err := snapshots.Summaries(context.Background())
	require.NoError(t, err)

	// Another submitter takes ENQ-05 after our snapshot was loaded.
	seedEnquiry(f.srv,
		[]string{"03/03/2024 11:00:00", "AAP-03", "ENQ-04"},
		[]string{"06/03/2024 11:00:00", "AAP-03", "ENQ-05"},
	)

	sub := submission(models.StatusNeedMore)
	sub.CandidateEnquiryNumber = ""

	outcome, err := f.saga(t, nil, WithSerializedWrites(locker)).Run(context.Background(), sub, snapshots)
	require.NoError(t, err)
	assert.Equal(t, "ENQ-06", outcome.CandidateEnquiryNumber)
	assert.False(t, mr.Exists(SubmitLockKey))
}

func TestSaga_LockHeldElsewhere(t *testing.T) {
	f := newSagaFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set(SubmitLockKey, "other"))

	locker := lock.NewRedisLocker(rdb, 5*time.Second, 0, logger.NewTestLogger(t))
	_, err := f.saga(t, nil, WithSerializedWrites(locker)).Run(context.Background(), submission(models.StatusNeedMore), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLockNotObtained)
	assert.Empty(t, f.srv.CallsFor("insert", ""))
	assert.True(t, ToStandardError("submit", err).Retryable)
}

func TestSaga_JournalFailure(t *testing.T) {
	f := newSagaFixture(t)
	s := f.saga(t, nil)
	s.journal = brokenJournal{}

	_, err := s.Run(context.Background(), submission(models.StatusNeedMore), nil)
	assert.ErrorIs(t, err, ErrJournalFailed)
	assert.Empty(t, f.srv.Calls())
}

type flakyTables struct {
	TableService
	failInserts int
}

func (f *flakyTables) Insert(ctx context.Context, table string, row []string) error {
	if f.failInserts > 0 {
		f.failInserts--
		return sheets.ErrRemoteUnreachable
	}
	return f.TableService.Insert(ctx, table, row)
}

type brokenJournal struct{}

func (brokenJournal) Load(context.Context, string) ([]models.StepResult, error) {
	return nil, errors.New("connection refused")
}

func (brokenJournal) Record(context.Context, models.StepResult) error {
	return errors.New("connection refused")
}

// lostInsertTables forwards inserts but reports the first lose of them as unanswered.
type lostInsertTables struct {
	TableService
	lose int
}

func (l *lostInsertTables) Insert(ctx context.Context, table string, row []string) error {
	if err := l.TableService.Insert(ctx, table, row); err != nil {
		return err
	}
	if l.lose > 0 {
		l.lose--
		return sheets.ErrRemoteUnreachable
	}
	return nil
}
