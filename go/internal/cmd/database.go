package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/config"
	"github.com/mcdev12/coopblocks/go/internal/leaderboard"
)

func setupDatabase(ctx context.Context, db config.Database) (*sql.DB, error) {
	database, err := sql.Open("postgres", db.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", db.User).
		Str("host", db.Host).
		Int("port", db.Port).
		Str("database", db.Name).
		Msg("connected to database")
	return database, nil
}

// setupLeaderboard opens a pgx pool and makes sure the score table exists.
func setupLeaderboard(ctx context.Context, db config.Database) (*leaderboard.PostgresRepository, func(), error) {
	pool, err := pgxpool.New(ctx, db.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create leaderboard pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping leaderboard database: %w", err)
	}

	repo := leaderboard.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}
