package enquiry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/lock"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/common/validation"
	"enquiry-workers/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SubmitLockKey guards candidate numbering and the writes that follow it.
const SubmitLockKey = "enquiry:submit"

var (
	ErrInvalidSubmission = errors.New("VALIDATION_FAILED")
	ErrJournalFailed     = errors.New("JOURNAL_FAILED")
)

// Validate runs the required-field checks on a submission.
func Validate(sub models.Submission) error {
	result := validation.ValidateStruct(sub)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSubmission, strings.Join(result.GetErrorMessages(), "; "))
}

// Saga runs a submission as journaled steps: upload_photo, upload_resume,
// insert_enquiry, complete_indent. Steps already journaled ok are replayed from
// the journal instead of being executed again.
type Saga struct {
	reconciler *Reconciler
	files      filestore.Store
	journal    Journal
	locker     lock.Locker
	serialize  bool
	now        func() time.Time
	tracer     trace.Tracer
	logger     logger.Logger
}

type SagaOption func(*Saga)

// WithSerializedWrites runs numbering, insert and requisition patch under locker.
func WithSerializedWrites(locker lock.Locker) SagaOption {
	return func(s *Saga) {
		s.locker = locker
		s.serialize = true
	}
}

func NewSaga(reconciler *Reconciler, files filestore.Store, journal Journal, log logger.Logger, opts ...SagaOption) *Saga {
	s := &Saga{
		reconciler: reconciler,
		files:      files,
		journal:    journal,
		locker:     lock.NoopLocker{},
		now:        time.Now,
		tracer:     otel.Tracer("enquiry-workers/enquiry"),
		logger:     log.WithFields(map[string]interface{}{"component": "saga"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sagaRun struct {
	saga    *Saga
	sub     models.Submission
	prior   map[models.StepName]models.StepResult
	outcome *models.SubmissionOutcome
	logger  logger.Logger
}

// Run executes the submission. snapshots may be nil, in which case the
// submission must already carry its candidate number and the row is written in
// canonical column order. A failed complete_indent is reported in the outcome,
// not returned.
func (s *Saga) Run(ctx context.Context, sub models.Submission, snapshots *SnapshotCache) (*models.SubmissionOutcome, error) {
	if err := Validate(sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "enquiry.submit", trace.WithAttributes(
		attribute.String("enquiry.submission_id", sub.ID),
		attribute.String("enquiry.indent_number", sub.IndentNumber),
		attribute.String("enquiry.status", string(sub.EffectiveStatus())),
	))
	defer span.End()

	outcome, err := s.run(ctx, sub, snapshots)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
	}
	return outcome, err
}

func (s *Saga) run(ctx context.Context, sub models.Submission, snapshots *SnapshotCache) (*models.SubmissionOutcome, error) {
	results, err := s.journal.Load(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalFailed, err)
	}

	r := &sagaRun{
		saga:    s,
		sub:     sub,
		prior:   latest(results),
		outcome: &models.SubmissionOutcome{SubmissionID: sub.ID},
		logger:  s.logger.WithFields(map[string]interface{}{"submissionId": sub.ID}),
	}

	insert, hasInsert := r.prior[models.StepInsertEnquiry]
	if hasInsert && (insert.State == models.StepOK || insert.State == models.StepPending) {
		r.sub.CandidateEnquiryNumber = insert.Detail
	}

	var headers []string
	if snapshots != nil {
		snap, err := snapshots.Summaries(ctx)
		if err != nil {
			return r.outcome, err
		}
		headers = snap.EnquiryHeaders
		r.autofill(snap)
	}
	if r.sub.CandidateEnquiryNumber == "" {
		return r.outcome, fmt.Errorf("%w: candidateEnquiryNumber: not assigned", ErrInvalidSubmission)
	}
	r.outcome.CandidateEnquiryNumber = r.sub.CandidateEnquiryNumber

	photoURL, err := r.step(ctx, models.StepUploadPhoto, func(ctx context.Context) (string, models.StepState, error) {
		return r.upload(ctx, r.sub.Photo, filestore.KindPhoto)
	})
	if err != nil {
		return r.outcome, err
	}
	r.outcome.PhotoURL = photoURL

	resumeURL, err := r.step(ctx, models.StepUploadResume, func(ctx context.Context) (string, models.StepState, error) {
		return r.upload(ctx, r.sub.Resume, filestore.KindResume)
	})
	if err != nil {
		return r.outcome, err
	}
	r.outcome.ResumeURL = resumeURL

	err = s.locker.WithLock(ctx, SubmitLockKey, func(ctx context.Context) error {
		alreadyInserted := false
		if hasInsert && insert.State == models.StepPending {
			found, current, err := s.reconciler.EnquiryRecorded(ctx, insert.Detail)
			if err != nil {
				return err
			}
			alreadyInserted = found
			if snapshots != nil && len(current) > 0 {
				headers = current
			}
		} else if s.serialize && snapshots != nil {
			fresh, err := r.reassign(ctx, snapshots)
			if err != nil {
				return err
			}
			if fresh != nil {
				headers = fresh
			}
		}

		if _, err := r.step(ctx, models.StepInsertEnquiry, func(ctx context.Context) (string, models.StepState, error) {
			number := r.sub.CandidateEnquiryNumber
			if alreadyInserted {
				r.logger.Info("enquiry row from an earlier attempt found, not inserting again", map[string]interface{}{
					"candidateEnquiryNumber": number,
				})
				return number, models.StepOK, nil
			}
			if err := r.recordIntent(ctx, number); err != nil {
				return "", models.StepFailed, err
			}

			record := models.SubmissionRecord{
				Timestamp:              s.now(),
				IndentNumber:           r.sub.IndentNumber,
				CandidateEnquiryNumber: r.sub.CandidateEnquiryNumber,
				Post:                   r.sub.Post,
				Candidate:              r.sub.Candidate,
				PhotoURL:               r.outcome.PhotoURL,
				ResumeURL:              r.outcome.ResumeURL,
			}
			err := s.reconciler.SubmitEnquiry(ctx, record, headers)
			if errors.Is(err, sheets.ErrRemoteUnreachable) {
				return number, models.StepPending, err
			}
			return number, models.StepOK, err
		}); err != nil {
			return err
		}
		r.outcome.CandidateEnquiryNumber = r.sub.CandidateEnquiryNumber

		_, err := r.step(ctx, models.StepCompleteIndent, r.completeIndent)
		if err != nil && !errors.Is(err, ErrJournalFailed) {
			r.outcome.IndentError = err.Error()
			return nil
		}
		return err
	})
	if err != nil {
		return r.outcome, err
	}

	r.logger.Info("submission finished", map[string]interface{}{
		"candidateEnquiryNumber": r.outcome.CandidateEnquiryNumber,
		"indentPatched":          r.outcome.IndentPatched,
	})
	return r.outcome, nil
}

// autofill completes the post, department and candidate number from the snapshot.
func (r *sagaRun) autofill(snap *Snapshot) {
	if indent, ok := LookupIndent(snap.Indents, r.sub.IndentNumber); ok {
		if r.sub.Post == "" {
			r.sub.Post = indent.Post
		}
		if r.sub.Candidate.Department == "" {
			r.sub.Candidate.Department = indent.Department
		}
	}
	if r.sub.CandidateEnquiryNumber == "" {
		r.sub.CandidateEnquiryNumber = snap.NextCandidateID()
	}
}

// recordIntent journals the candidate number before the insert is sent, so a
// retry after an unanswered insert can recognise its own row.
func (r *sagaRun) recordIntent(ctx context.Context, number string) error {
	err := r.saga.journal.Record(ctx, models.StepResult{
		SubmissionID: r.sub.ID,
		Step:         models.StepInsertEnquiry,
		State:        models.StepPending,
		Detail:       number,
		RecordedAt:   r.saga.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %s intent: %v", ErrJournalFailed, models.StepInsertEnquiry, err)
	}
	return nil
}

// reassign re-reads ENQUIRY inside the critical section and moves the
// submission to a fresh candidate number when its own has been taken. It
// returns the current ENQUIRY headers.
func (r *sagaRun) reassign(ctx context.Context, snapshots *SnapshotCache) ([]string, error) {
	if done, ok := r.prior[models.StepInsertEnquiry]; ok && done.State == models.StepOK {
		return nil, nil
	}

	snap, err := snapshots.RefreshEnquiries(ctx)
	if err != nil {
		return nil, err
	}
	if CandidateIDTaken(r.sub.CandidateEnquiryNumber, snap.Enquiries) {
		next := snap.NextCandidateID()
		r.logger.Warn("candidate number taken, reassigning", map[string]interface{}{
			"taken":    r.sub.CandidateEnquiryNumber,
			"assigned": next,
		})
		r.sub.CandidateEnquiryNumber = next
	}
	return snap.EnquiryHeaders, nil
}

func (r *sagaRun) upload(ctx context.Context, upload *models.Upload, kind filestore.Kind) (string, models.StepState, error) {
	if upload == nil || len(upload.Data) == 0 {
		return "", models.StepSkipped, nil
	}
	fileURL, err := r.saga.files.Put(ctx, *upload, r.sub.CandidateEnquiryNumber, kind)
	return fileURL, models.StepOK, err
}

func (r *sagaRun) completeIndent(ctx context.Context) (string, models.StepState, error) {
	if r.sub.EffectiveStatus() != models.StatusComplete {
		return "", models.StepSkipped, nil
	}

	report, err := r.saga.reconciler.MarkIndentComplete(ctx, r.sub.IndentNumber)
	if err != nil {
		return "", models.StepFailed, err
	}
	r.outcome.IndentPatched = report.Applied()
	if err := report.Err(); err != nil {
		return "", models.StepFailed, err
	}
	return fmt.Sprintf("row %d status=%s", report.Row, report.StatusState()), models.StepOK, nil
}

// statusApplied reads back the Status patch state journaled by completeIndent.
func statusApplied(detail string) bool {
	return strings.HasSuffix(detail, " status="+string(PatchApplied))
}

// step replays a journaled ok result or executes fn and journals its outcome.
func (r *sagaRun) step(ctx context.Context, name models.StepName, fn func(context.Context) (string, models.StepState, error)) (string, error) {
	if done, ok := r.prior[name]; ok && done.State == models.StepOK {
		metrics.SubmissionSteps.WithLabelValues(string(name), "replayed").Inc()
		r.logger.Debug("step replayed from journal", map[string]interface{}{"step": string(name)})
		if name == models.StepCompleteIndent {
			r.outcome.IndentPatched = statusApplied(done.Detail)
		}
		r.outcome.Steps = append(r.outcome.Steps, done)
		return done.Detail, nil
	}

	detail, state, err := fn(ctx)
	if err != nil && state != models.StepPending {
		state = models.StepFailed
		detail = err.Error()
	}

	result := models.StepResult{
		SubmissionID: r.sub.ID,
		Step:         name,
		State:        state,
		Detail:       detail,
		RecordedAt:   r.saga.now().UTC(),
	}
	r.outcome.Steps = append(r.outcome.Steps, result)
	metrics.SubmissionSteps.WithLabelValues(string(name), string(state)).Inc()

	if jerr := r.saga.journal.Record(ctx, result); jerr != nil {
		r.logger.Error("failed to journal step", map[string]interface{}{
			"step":  string(name),
			"error": jerr.Error(),
		})
		if err == nil {
			return "", fmt.Errorf("%w: %s: %v", ErrJournalFailed, name, jerr)
		}
	}

	if err != nil {
		r.logger.Error("step failed", map[string]interface{}{
			"step":  string(name),
			"error": err.Error(),
		})
		return "", err
	}
	return detail, nil
}
