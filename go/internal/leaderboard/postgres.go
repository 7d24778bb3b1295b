package leaderboard

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS team_scores (
    id           UUID PRIMARY KEY,
    player1_name TEXT NOT NULL,
    player2_name TEXT NOT NULL,
    score_p1     INTEGER NOT NULL,
    score_p2     INTEGER NOT NULL,
    total_score  INTEGER NOT NULL,
    lines_p1     INTEGER NOT NULL,
    lines_p2     INTEGER NOT NULL,
    recorded_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS team_scores_total_idx ON team_scores (total_score DESC);
`

// PostgresRepository stores team scores through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create team_scores: %w", err)
	}
	return nil
}

// Record inserts s. Re-recording the same ID is a no-op.
func (r *PostgresRepository) Record(ctx context.Context, s TeamScore) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
        INSERT INTO team_scores (
          id, player1_name, player2_name, score_p1, score_p2,
          total_score, lines_p1, lines_p2, recorded_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO NOTHING
    `,
		s.ID, s.Player1Name, s.Player2Name, s.ScoreP1, s.ScoreP2,
		s.TotalScore, s.LinesP1, s.LinesP2, s.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert team score: %w", err)
	}
	return nil
}

// Top returns the n best results by total score.
func (r *PostgresRepository) Top(ctx context.Context, n int) ([]TeamScore, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, player1_name, player2_name, score_p1, score_p2,
               total_score, lines_p1, lines_p2, recorded_at
        FROM team_scores
        ORDER BY total_score DESC, recorded_at ASC
        LIMIT $1
    `, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query team scores: %w", err)
	}

	scores, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TeamScore, error) {
		var s TeamScore
		err := row.Scan(
			&s.ID, &s.Player1Name, &s.Player2Name, &s.ScoreP1, &s.ScoreP2,
			&s.TotalScore, &s.LinesP1, &s.LinesP2, &s.Timestamp,
		)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan team scores: %w", err)
	}
	return scores, nil
}
