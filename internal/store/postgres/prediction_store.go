package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/marketd/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionCols = `id, user_id, market_id, outcome, stake, shares,
	entry_price, funded_from_buffer, state, awarded_points, awarded_xp,
	placed_at, settled_at`

// Create inserts a new prediction.
func (s *PredictionStore) Create(ctx context.Context, p domain.Prediction) error {
	const query = `
		INSERT INTO predictions (
			id, user_id, market_id, outcome, stake, shares,
			entry_price, funded_from_buffer, state, placed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.MarketID, string(p.Outcome),
		p.Stake, p.Shares, p.EntryPrice, p.FundedFromBuffer,
		string(p.State), p.PlacedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create prediction %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create prediction %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces a prediction's settlement fields.
func (s *PredictionStore) Update(ctx context.Context, p domain.Prediction) error {
	const query = `
		UPDATE predictions SET
			state          = $2,
			awarded_points = $3,
			awarded_xp     = $4,
			settled_at     = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, string(p.State), p.AwardedPoints, p.AwardedXP, p.SettledAt)
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update prediction %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var outcome, state string
	err := row.Scan(
		&p.ID, &p.UserID, &p.MarketID, &outcome,
		&p.Stake, &p.Shares, &p.EntryPrice, &p.FundedFromBuffer,
		&state, &p.AwardedPoints, &p.AwardedXP,
		&p.PlacedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Outcome = domain.Outcome(outcome)
	p.State = domain.PredictionState(state)
	return p, nil
}

// GetByID retrieves a prediction by its primary key.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// ListOpenByMarket returns every open prediction on a market, oldest first,
// so settlement fan-out processes trades in placement order.
func (s *PredictionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1 AND state = 'open'
		 ORDER BY placed_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open predictions %s: %w", marketID, err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open predictions rows: %w", err)
	}
	return preds, nil
}

// ListPendingXPByMarket returns predictions whose points phase committed but
// whose XP award has not been recorded yet.
func (s *PredictionStore) ListPendingXPByMarket(ctx context.Context, marketID string) ([]domain.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE market_id = $1
		   AND state IN ('resolved_correct', 'resolved_incorrect')
		   AND awarded_xp IS NULL
		 ORDER BY placed_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending xp %s: %w", marketID, err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending xp prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending xp rows: %w", err)
	}
	return preds, nil
}

// ListByUser returns a user's predictions, newest first, with pagination.
func (s *PredictionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE user_id = $1 ORDER BY placed_at DESC`
	args := []any{userID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions for %s: %w", userID, err)
	}
	defer rows.Close()

	var preds []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		preds = append(preds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list predictions rows: %w", err)
	}
	return preds, nil
}

// SetAwardedXP records the scoring result and advances resolved predictions
// to settled. Open or already-settled rows are left alone.
func (s *PredictionStore) SetAwardedXP(ctx context.Context, id string, xp int64, at time.Time) error {
	const query = `
		UPDATE predictions SET
			awarded_xp = $2,
			state = CASE
				WHEN state IN ('resolved_correct', 'resolved_incorrect') THEN 'settled'
				ELSE state
			END,
			settled_at = CASE
				WHEN state IN ('resolved_correct', 'resolved_incorrect') THEN $3
				ELSE settled_at
			END
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, xp, at)
	if err != nil {
		return fmt.Errorf("postgres: set awarded xp %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set awarded xp %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PredictionStore = (*PredictionStore)(nil)
