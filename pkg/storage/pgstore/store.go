// Package pgstore is a domain.Store backed by PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS company_collections (
	id              UUID PRIMARY KEY,
	collection_name TEXT NOT NULL UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS company_collection_associations (
	id            BIGSERIAL PRIMARY KEY,
	company_id    BIGINT NOT NULL,
	collection_id UUID NOT NULL REFERENCES company_collections(id) ON DELETE CASCADE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, collection_id)
);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id                   UUID PRIMARY KEY,
	job_type             TEXT NOT NULL,
	source_collection_id UUID NOT NULL,
	target_collection_id UUID,
	company_ids          BIGINT[] NOT NULL,
	total_count          INTEGER NOT NULL,
	processed_count      INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	error_message        TEXT,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS batch_jobs_status_idx ON batch_jobs (status);
`

const jobColumns = `id, job_type, source_collection_id, target_collection_id, company_ids,
	total_count, processed_count, status, error_message, created_at, updated_at`

// Store implements domain.Store with PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to connString and makes sure the schema exists
func Open(ctx context.Context, connString string, options ...Option) (*Store, error) {
	s := &Store{logger: zerolog.Nop()}
	for _, option := range options {
		option(s)
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s.pool = pool
	s.logger.Info().Str("host", config.ConnConfig.Host).Str("database", config.ConnConfig.Database).Msg("Connected to postgres")
	return s, nil
}

// Close releases all pooled connections
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanJob(row pgx.Row) (*domain.BatchJob, error) {
	var (
		job       domain.BatchJob
		jobType   string
		status    string
		entityIDs []int64
	)
	err := row.Scan(
		&job.ID, &jobType, &job.SourceCollectionID, &job.TargetCollectionID, &entityIDs,
		&job.TotalCount, &job.ProcessedCount, &status, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if entityIDs == nil {
		entityIDs = []int64{}
	}
	job.EntityIDs = entityIDs
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// CreateJob inserts a new job row
func (s *Store) CreateJob(ctx context.Context, job *domain.BatchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO batch_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, string(job.Type), job.SourceCollectionID, job.TargetCollectionID, job.EntityIDs,
		job.TotalCount, job.ProcessedCount, string(job.Status), job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, job.ID)
	}
	return err
}

// GetJob returns the committed job row
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.JobNotFound(id)
	}
	return job, err
}

// UpdateJob locks the row and applies the update inside one transaction
func (s *Store) UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.BatchJob, error) {
	return s.mutateJob(ctx, id, func(job *domain.BatchJob, now time.Time) error {
		return update.Apply(job, now)
	})
}

// CancelJob flips a non-terminal job to CANCELLED
func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	return s.mutateJob(ctx, id, domain.Cancel)
}

func (s *Store) mutateJob(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob, time.Time) error) (*domain.BatchJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM batch_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.JobNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(job, time.Now()); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `UPDATE batch_jobs
		SET status = $2, processed_count = $3, error_message = $4, updated_at = $5
		WHERE id = $1`,
		id, string(job.Status), job.ProcessedCount, job.ErrorMessage, job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM batch_jobs`
	var args []interface{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// CollectionExists reports whether a collection id is registered
func (s *Store) CollectionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM company_collections WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// CreateCollection inserts a collection row
func (s *Store) CreateCollection(ctx context.Context, collection *domain.Collection) error {
	if strings.TrimSpace(collection.Name) == "" {
		return &domain.ValidationError{Field: "collection_name", Reason: "collection name cannot be empty"}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_collections (id, collection_name, created_at) VALUES ($1, $2, $3)`,
		collection.ID, collection.Name, collection.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: collection name %q already exists", domain.ErrConflict, collection.Name)
	}
	return err
}

// GetCollection returns a collection by id
func (s *Store) GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	var c domain.Collection
	err := s.pool.QueryRow(ctx,
		`SELECT id, collection_name, created_at FROM company_collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.CollectionNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// DeleteCollection removes the collection, its associations and referencing jobs
func (s *Store) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	jobs, err := tx.Exec(ctx,
		`DELETE FROM batch_jobs WHERE source_collection_id = $1 OR target_collection_id = $1`, id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM company_collection_associations WHERE collection_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM company_collections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.CollectionNotFound(id)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Debug().Str("collection", id.String()).Int64("jobs_removed", jobs.RowsAffected()).Msg("Deleted collection")
	return nil
}

// AssociationExists reports whether entityID belongs to the collection
func (s *Store) AssociationExists(ctx context.Context, entityID int64, collectionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM company_collection_associations WHERE company_id = $1 AND collection_id = $2)`,
		entityID, collectionID,
	).Scan(&exists)
	return exists, err
}

// InsertAssociations bulk-loads associations with COPY. A pair inserted by a
// concurrent writer after the caller's existence check fails the whole batch
// with a unique violation.
func (s *Store) InsertAssociations(ctx context.Context, associations []domain.Association) error {
	if len(associations) == 0 {
		return nil
	}

	checked := make(map[uuid.UUID]bool)
	rows := make([][]interface{}, 0, len(associations))
	for _, a := range associations {
		if !checked[a.CollectionID] {
			exists, err := s.CollectionExists(ctx, a.CollectionID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.CollectionNotFound(a.CollectionID)
			}
			checked[a.CollectionID] = true
		}
		rows = append(rows, []interface{}{a.EntityID, a.CollectionID})
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"company_collection_associations"},
		[]string{"company_id", "collection_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert associations: %w", err)
	}
	return nil
}

// DeleteAssociation removes the pair if present
func (s *Store) DeleteAssociation(ctx context.Context, entityID int64, collectionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM company_collection_associations WHERE company_id = $1 AND collection_id = $2`,
		entityID, collectionID,
	)
	return err
}

// ListEntityIDs returns the members of a collection in ascending order
func (s *Store) ListEntityIDs(ctx context.Context, collectionID uuid.UUID) ([]int64, error) {
	exists, err := s.CollectionExists(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.CollectionNotFound(collectionID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT company_id FROM company_collection_associations WHERE collection_id = $1 ORDER BY company_id`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// Stats returns pool statistics and row counts
func (s *Store) Stats() map[string]interface{} {
	stat := s.pool.Stat()
	stats := map[string]interface{}{
		"backend":        "postgres",
		"total_conns":    stat.TotalConns(),
		"idle_conns":     stat.IdleConns(),
		"acquired_conns": stat.AcquiredConns(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var collections, associations, jobs int
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM company_collections),
		(SELECT count(*) FROM company_collection_associations),
		(SELECT count(*) FROM batch_jobs)`,
	).Scan(&collections, &associations, &jobs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count rows for stats")
		return stats
	}
	stats["collections"] = collections
	stats["associations"] = associations
	stats["jobs"] = jobs
	return stats
}
