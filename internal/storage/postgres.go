package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
)

const schema = `
CREATE TABLE IF NOT EXISTS invoice_jobs (
	job_id                   TEXT PRIMARY KEY,
	status                   TEXT NOT NULL,
	payment_reference        TEXT NOT NULL DEFAULT '',
	payment_status           TEXT NOT NULL DEFAULT '',
	payment_metadata         JSONB,
	payment_completion_error TEXT NOT NULL DEFAULT '',
	input_data               JSONB NOT NULL,
	regulatory_context       TEXT NOT NULL DEFAULT '',
	regulatory_context_set   BOOLEAN NOT NULL DEFAULT FALSE,
	record                   JSONB,
	result                   TEXT NOT NULL DEFAULT '',
	result_digest            TEXT NOT NULL DEFAULT '',
	analysis                 TEXT NOT NULL DEFAULT '',
	error                    JSONB,
	finalized                BOOLEAN NOT NULL DEFAULT FALSE,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_invoice_jobs_payment_reference ON invoice_jobs (payment_reference);
CREATE INDEX IF NOT EXISTS idx_invoice_jobs_status ON invoice_jobs (status);
`

const jobColumns = `job_id, status, payment_reference, payment_status, payment_metadata,
	payment_completion_error, input_data, regulatory_context, regulatory_context_set, record,
	result, result_digest, analysis, error, finalized, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

// jobRow is the database representation of domain.Job.
type jobRow struct {
	JobID                  string    `db:"job_id"`
	Status                 string    `db:"status"`
	PaymentReference       string    `db:"payment_reference"`
	PaymentStatus          string    `db:"payment_status"`
	PaymentMetadata        []byte    `db:"payment_metadata"`
	PaymentCompletionError string    `db:"payment_completion_error"`
	InputData              []byte    `db:"input_data"`
	RegulatoryContext      string    `db:"regulatory_context"`
	RegulatoryContextSet   bool      `db:"regulatory_context_set"`
	Record                 []byte    `db:"record"`
	Result                 string    `db:"result"`
	ResultDigest           string    `db:"result_digest"`
	Analysis               string    `db:"analysis"`
	Error                  []byte    `db:"error"`
	Finalized              bool      `db:"finalized"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func toRow(job *domain.Job) (*jobRow, error) {
	row := &jobRow{
		JobID:                  job.ID,
		Status:                 string(job.Status),
		PaymentReference:       job.PaymentReference,
		PaymentStatus:          job.PaymentStatus,
		PaymentCompletionError: job.PaymentCompletionError,
		RegulatoryContext:      job.RegulatoryContext,
		RegulatoryContextSet:   job.RegulatoryContextSet,
		Result:                 job.Result,
		ResultDigest:           job.ResultDigest,
		Analysis:               job.Analysis,
		Finalized:              job.Finalized,
		CreatedAt:              job.CreatedAt,
		UpdatedAt:              job.UpdatedAt,
	}

	var err error
	if row.InputData, err = json.Marshal(job.Input); err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	if job.PaymentMetadata != nil {
		if row.PaymentMetadata, err = json.Marshal(job.PaymentMetadata); err != nil {
			return nil, fmt.Errorf("failed to marshal payment metadata: %w", err)
		}
	}
	if job.Record != nil {
		if row.Record, err = json.Marshal(job.Record); err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
	}
	if job.Error != nil {
		if row.Error, err = json.Marshal(job.Error); err != nil {
			return nil, fmt.Errorf("failed to marshal error: %w", err)
		}
	}
	return row, nil
}

func (r *jobRow) toJob() (*domain.Job, error) {
	job := &domain.Job{
		ID:                     r.JobID,
		Status:                 domain.Status(r.Status),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
		PaymentReference:       r.PaymentReference,
		PaymentStatus:          r.PaymentStatus,
		PaymentCompletionError: r.PaymentCompletionError,
		RegulatoryContext:      r.RegulatoryContext,
		RegulatoryContextSet:   r.RegulatoryContextSet,
		Result:                 r.Result,
		ResultDigest:           r.ResultDigest,
		Analysis:               r.Analysis,
		Finalized:              r.Finalized,
	}

	if err := json.Unmarshal(r.InputData, &job.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if len(r.PaymentMetadata) > 0 {
		if err := json.Unmarshal(r.PaymentMetadata, &job.PaymentMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment metadata: %w", err)
		}
	}
	if len(r.Record) > 0 {
		var rec invoice.Record
		if err := json.Unmarshal(r.Record, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		job.Record = &rec
	}
	if len(r.Error) > 0 {
		var jobErr domain.JobError
		if err := json.Unmarshal(r.Error, &jobErr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
		job.Error = &jobErr
	}
	return job, nil
}

// PostgresStore keeps the job table in PostgreSQL. Status changes are
// conditional updates so that several workers can share the table.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the job table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	query := `INSERT INTO invoice_jobs (` + jobColumns + `)
		VALUES (:job_id, :status, :payment_reference, :payment_status, :payment_metadata,
			:payment_completion_error, :input_data, :regulatory_context, :regulatory_context_set, :record,
			:result, :result_digest, :analysis, :error, :finalized, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return nil
}

func (s *PostgresStore) get(ctx context.Context, where string, arg any) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM invoice_jobs WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.get(ctx, "job_id = $1", id)
}

func (s *PostgresStore) GetByPaymentReference(ctx context.Context, ref string) (*domain.Job, error) {
	return s.get(ctx, "payment_reference = $1 ORDER BY created_at DESC LIMIT 1", ref)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM invoice_jobs WHERE status = $1 ORDER BY created_at, job_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to domain.Status) (*domain.Job, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE invoice_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, string(to), id, string(from))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			s.logger.Warn("Failed to transition job - status moved on",
				slog.String("job_id", id),
				slog.String("from", string(from)),
				slog.String("to", string(to)),
			)
			return nil, fmt.Errorf("%w: job %s is not %s", domain.ErrAlreadyClaimed, id, from)
		}
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("status", string(to)),
	)
	return row.toJob()
}

func (s *PostgresStore) Save(ctx context.Context, job *domain.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE invoice_jobs
		SET status = $1,
		    payment_reference = $2,
		    payment_status = $3,
		    payment_metadata = $4,
		    payment_completion_error = $5,
		    input_data = $6,
		    regulatory_context = $7,
		    regulatory_context_set = $8,
		    record = $9,
		    result = $10,
		    result_digest = $11,
		    analysis = $12,
		    error = $13,
		    finalized = $14,
		    updated_at = NOW()
		WHERE job_id = $15
		  AND status = ANY($16)
	`

	res, err := s.db.ExecContext(ctx, query,
		row.Status, row.PaymentReference, row.PaymentStatus, row.PaymentMetadata,
		row.PaymentCompletionError, row.InputData, row.RegulatoryContext, row.RegulatoryContextSet,
		row.Record, row.Result, row.ResultDigest, row.Analysis, row.Error, row.Finalized,
		row.JobID, pq.Array(priorStatuses(job.Status)),
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		current, getErr := s.Get(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, job.Status)
	}
	return nil
}
