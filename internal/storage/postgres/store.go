package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"surveySync/internal/storage"
)

var _ storage.Records = (*Store)(nil)

// Store provides Postgres persistence for survey records and indexer state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the survey and indexer_state schema.
func (s *Store) Migrate(logger *zap.Logger) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return storage.RunMigrations(logger, db, "postgres", Migrations)
}

// MarkSurvey sets flag on every field group of the survey.
func (s *Store) MarkSurvey(ctx context.Context, surveyID string, flag storage.SurveyFlag) error {
	if flag != storage.SurveyCreated {
		return fmt.Errorf("unsupported survey flag: %s", flag)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE survey_groups SET created = true, updated_at = now() WHERE survey_id = $1`, surveyID)
	if err != nil {
		return fmt.Errorf("mark survey %s: %w", surveyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("survey %s: %w", surveyID, storage.ErrNotFound)
	}
	return nil
}

// FindResponse returns the first response, in path order, created by respondent for surveyID.
func (s *Store) FindResponse(ctx context.Context, surveyID, respondent string) (storage.ResponseRef, error) {
	var ref storage.ResponseRef
	row := s.pool.QueryRow(ctx, `
		SELECT bucket, response_id FROM responses
		WHERE survey_id = $1 AND lower(creator) = lower($2)
		ORDER BY bucket, response_id
		LIMIT 1
	`, surveyID, respondent)
	if err := row.Scan(&ref.Bucket, &ref.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ResponseRef{}, fmt.Errorf("response %s/%s: %w", surveyID, respondent, storage.ErrNotFound)
		}
		return storage.ResponseRef{}, fmt.Errorf("find response %s/%s: %w", surveyID, respondent, err)
	}
	return ref, nil
}

// MarkResponse sets flag on a single response record.
func (s *Store) MarkResponse(ctx context.Context, ref storage.ResponseRef, flag storage.ResponseFlag) error {
	var query string
	switch flag {
	case storage.ResponseStarted:
		query = `UPDATE responses SET started = true, updated_at = now() WHERE bucket = $1 AND response_id = $2`
	case storage.ResponseCompleted:
		query = `UPDATE responses SET completed = true, updated_at = now() WHERE bucket = $1 AND response_id = $2`
	default:
		return fmt.Errorf("unsupported response flag: %s", flag)
	}

	tag, err := s.pool.Exec(ctx, query, ref.Bucket, ref.ID)
	if err != nil {
		return fmt.Errorf("mark response %s/%s: %w", ref.Bucket, ref.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("response %s/%s: %w", ref.Bucket, ref.ID, storage.ErrNotFound)
	}
	return nil
}

// LoadState returns last_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_block for a name. The stored value never decreases.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = GREATEST(indexer_state.last_block, EXCLUDED.last_block), updated_at = now()
	`, name, int64(block))
	return err
}
