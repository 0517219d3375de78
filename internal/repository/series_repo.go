package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskcycle/internal/model"
	"taskcycle/pkg/metrics"
)

type SeriesRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSeriesRepository(db *pgxpool.Pool, logger *zap.Logger) *SeriesRepository {
	return &SeriesRepository{db: db, logger: logger}
}

// CreateWithSeed inserts the series and its seed occurrence in one
// transaction. The seed carries the user-chosen first due date and does not
// count toward the pattern's occurrence count.
func (r *SeriesRepository) CreateWithSeed(ctx context.Context, s *model.Series, seed *model.Task) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "series", time.Since(start)) }()

	patternJSON, err := json.Marshal(s.Pattern)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO series (id, user_id, title, description, priority, pattern)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at
    `, s.ID, s.UserID, s.Title, s.Description, s.Priority, patternJSON).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert series",
			zap.String("series_id", s.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert series: %w", err)
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO tasks (id, user_id, series_id, title, description, priority, due_date, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at
    `, seed.ID, seed.UserID, seed.SeriesID, seed.Title, seed.Description,
		seed.Priority, seed.DueDate, seed.Status).
		Scan(&seed.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert seed occurrence",
			zap.String("series_id", s.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert seed occurrence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit series creation: %w", err)
	}

	r.logger.Info("Series created",
		zap.String("series_id", s.ID.String()),
		zap.String("user_id", s.UserID.String()),
		zap.String("pattern_type", string(s.Pattern.Type)),
	)
	return nil
}

func (r *SeriesRepository) Load(ctx context.Context, id uuid.UUID) (*model.Series, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "series", time.Since(start)) }()

	var s model.Series
	var patternJSON []byte
	err := r.db.QueryRow(ctx, `
        SELECT id, user_id, title, description, priority, pattern,
               occurrences_generated, created_at, updated_at
        FROM series
        WHERE id = $1
    `, id).Scan(
		&s.ID,
		&s.UserID,
		&s.Title,
		&s.Description,
		&s.Priority,
		&patternJSON,
		&s.OccurrencesGenerated,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		r.logger.Error("Failed to load series",
			zap.String("series_id", id.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to load series: %w", err)
	}

	if err := json.Unmarshal(patternJSON, &s.Pattern); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern: %w", err)
	}
	return &s, nil
}

// ListDue returns series whose latest occurrence is due at or before now and
// whose occurrence count is not exhausted, oldest first.
func (r *SeriesRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Series, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "series", time.Since(start)) }()

	rows, err := r.db.Query(ctx, `
        SELECT s.id, s.user_id, s.title, s.description, s.priority, s.pattern,
               s.occurrences_generated, s.created_at, s.updated_at
        FROM series s
        JOIN LATERAL (
            SELECT MAX(t.due_date) AS latest_due
            FROM tasks t
            WHERE t.series_id = s.id
        ) ld ON TRUE
        WHERE ld.latest_due <= $1
        AND (s.pattern->>'count' IS NULL
             OR s.occurrences_generated < (s.pattern->>'count')::int)
        ORDER BY ld.latest_due ASC
        LIMIT $2
    `, now, limit)
	if err != nil {
		r.logger.Error("Failed to list due series", zap.Error(err))
		return nil, fmt.Errorf("failed to list due series: %w", err)
	}
	defer rows.Close()

	var out []*model.Series
	for rows.Next() {
		var s model.Series
		var patternJSON []byte
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Title,
			&s.Description,
			&s.Priority,
			&patternJSON,
			&s.OccurrencesGenerated,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		if err := json.Unmarshal(patternJSON, &s.Pattern); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
