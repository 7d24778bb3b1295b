package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/config"
	"github.com/mcdev12/coopblocks/go/internal/leaderboard"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
	"github.com/mcdev12/coopblocks/go/internal/rooms"
)

// Services holds what a game command needs besides the session itself.
type Services struct {
	Store    relaystore.Store
	Rooms    *rooms.Manager
	Recorder leaderboard.Recorder

	closers []func()
}

// setupServices wires the relay store (unless withStore is false) and the
// score recorder. Close releases everything that was opened.
func setupServices(ctx context.Context, cfg config.Config, withStore bool) (*Services, error) {
	svc := &Services{Recorder: leaderboard.LogRecorder{}}

	if withStore {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		svc.Store = store
		svc.Rooms = rooms.NewManager(store, nil)
		svc.closers = append(svc.closers, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close relay store")
			}
		})
	}

	if cfg.Leaderboard {
		repo, closeRepo, err := setupLeaderboard(ctx, cfg.Database)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Recorder = repo
		svc.closers = append(svc.closers, closeRepo)
	}
	return svc, nil
}

func openStore(ctx context.Context, cfg config.Config) (relaystore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return relaystore.NewMemoryStore(), nil
	case config.BackendNATS:
		natsCfg := relaystore.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Bucket = cfg.NATS.Bucket
		natsCfg.TTL = cfg.NATS.TTL
		return relaystore.NewNATSStore(ctx, natsCfg)
	case config.BackendPostgres:
		db, err := setupDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		pgCfg := relaystore.DefaultPostgresConfig()
		pgCfg.DatabaseURL = cfg.Database.DSN()
		store, err := relaystore.NewPostgresStore(ctx, db, pgCfg)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &dbStore{PostgresStore: store, closeDB: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// dbStore closes the database handle the Postgres store was built on.
type dbStore struct {
	*relaystore.PostgresStore
	closeDB func() error
}

func (s *dbStore) Close() error {
	err := s.PostgresStore.Close()
	if dbErr := s.closeDB(); err == nil {
		err = dbErr
	}
	return err
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
