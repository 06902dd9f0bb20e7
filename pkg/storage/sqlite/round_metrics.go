package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RoundMetrics is one row of a run's metric history: the aggregated loss and
// metric map produced by the strategy at the end of one round.
type RoundMetrics struct {
	RunID     string             `json:"run_id"`
	Round     int                `json:"round"`
	Loss      float64            `json:"loss"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

type RoundMetricsRepository interface {
	Create(ctx context.Context, m RoundMetrics) error
	List(ctx context.Context, runID string, offset, limit uint64) ([]RoundMetrics, uint64, error)
}

type roundMetricsRow struct {
	RunID     string    `db:"run_id"`
	Round     int       `db:"round"`
	Loss      float64   `db:"loss"`
	Metrics   string    `db:"metrics"`
	CreatedAt time.Time `db:"created_at"`
}

type roundMetricsRepo struct {
	db *Database
}

func NewRoundMetricsRepository(db *Database) RoundMetricsRepository {
	return &roundMetricsRepo{db: db}
}

func (r *roundMetricsRepo) Create(ctx context.Context, m RoundMetrics) error {
	metrics, err := json.Marshal(m.Metrics)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	// A run restarted after a failure replays rounds from one, so an
	// existing row for the same run and round is overwritten.
	if _, err := r.db.ExecContext(
		ctx,
		`INSERT INTO round_metrics (run_id, round, loss, metrics, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, round) DO UPDATE SET loss = excluded.loss, metrics = excluded.metrics, created_at = excluded.created_at`,
		m.RunID,
		m.Round,
		m.Loss,
		string(metrics),
		m.CreatedAt,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}

	return nil
}

func (r *roundMetricsRepo) List(ctx context.Context, runID string, offset, limit uint64) ([]RoundMetrics, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM round_metrics WHERE run_id = ?`, runID); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rows []roundMetricsRow
	if err := r.db.SelectContext(
		ctx,
		&rows,
		`SELECT run_id, round, loss, metrics, created_at FROM round_metrics WHERE run_id = ? ORDER BY round ASC LIMIT ? OFFSET ?`,
		runID,
		limit,
		offset,
	); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	history := make([]RoundMetrics, 0, len(rows))
	for _, row := range rows {
		m := RoundMetrics{
			RunID:     row.RunID,
			Round:     row.Round,
			Loss:      row.Loss,
			CreatedAt: row.CreatedAt,
		}
		if err := json.Unmarshal([]byte(row.Metrics), &m.Metrics); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
		}
		history = append(history, m)
	}

	return history, total, nil
}
