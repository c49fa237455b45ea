package enquiry

import (
	"context"
	"database/sql"
	"fmt"

	"enquiry-workers/internal/models"
)

const (
	createStepsTable = `CREATE TABLE IF NOT EXISTS enquiry_submission_steps (
	submission_id TEXT NOT NULL,
	step TEXT NOT NULL,
	state TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (submission_id, step)
)`

	selectSteps = `SELECT submission_id, step, state, detail, recorded_at FROM enquiry_submission_steps WHERE submission_id = $1 ORDER BY recorded_at`

	upsertStep = `INSERT INTO enquiry_submission_steps (submission_id, step, state, detail, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (submission_id, step)
DO UPDATE SET state = EXCLUDED.state, detail = EXCLUDED.detail, recorded_at = EXCLUDED.recorded_at`
)

// PostgresJournal stores step results in enquiry_submission_steps.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the steps table when it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, createStepsTable); err != nil {
		return fmt.Errorf("create enquiry_submission_steps: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Load(ctx context.Context, submissionID string) ([]models.StepResult, error) {
	rows, err := j.db.QueryContext(ctx, selectSteps, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load journal %s: %w", submissionID, err)
	}
	defer rows.Close()

	var out []models.StepResult
	for rows.Next() {
		var r models.StepResult
		var step, state string
		if err := rows.Scan(&r.SubmissionID, &step, &state, &r.Detail, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		r.Step = models.StepName(step)
		r.State = models.StepState(state)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load journal %s: %w", submissionID, err)
	}
	return out, nil
}

func (j *PostgresJournal) Record(ctx context.Context, r models.StepResult) error {
	_, err := j.db.ExecContext(ctx, upsertStep, r.SubmissionID, string(r.Step), string(r.State), r.Detail, r.RecordedAt)
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", r.SubmissionID, r.Step, err)
	}
	return nil
}
