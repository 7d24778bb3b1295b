package relaystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/coopblocks/go/internal/sqlutil"
)

// PostgresConfig holds settings for the Postgres backend.
type PostgresConfig struct {
	DatabaseURL   string // DSN for LISTEN/NOTIFY
	Table         string
	NotifyChannel string
	PingInterval  time.Duration
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:         "relay_entries",
		NotifyChannel: "relay_changes",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// PostgresStore keeps entries in a table and turns NOTIFY payloads of the
// form "put:<path>" and "del:<path>" into subscription events.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      PostgresConfig
	table    string

	// mu orders subscription replay against notification dispatch.
	mu  sync.Mutex
	hub *hub

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates the table if needed and starts listening. The
// caller keeps ownership of db.
func NewPostgresStore(ctx context.Context, db *sql.DB, cfg PostgresConfig) (*PostgresStore, error) {
	s := &PostgresStore{
		db:    db,
		cfg:   cfg,
		table: pq.QuoteIdentifier(cfg.Table),
		hub:   newHub(),
		done:  make(chan struct{}),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("relay listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}
	s.listener = l

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Str("table", cfg.Table).
		Msg("relay listening for notifications")

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(runCtx)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
          path       TEXT PRIMARY KEY,
          value      JSONB,
          updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create relay table: %w", err)
	}
	return nil
}

// entryQueries binds the store's statements to one transaction.
type entryQueries struct {
	tx      *sql.Tx
	table   string
	channel string
}

func (s *PostgresStore) queries(tx *sql.Tx) *entryQueries {
	return &entryQueries{tx: tx, table: s.table, channel: s.cfg.NotifyChannel}
}

func (q *entryQueries) upsert(ctx context.Context, path string, value pqtype.NullRawMessage) error {
	_, err := q.tx.ExecContext(ctx, fmt.Sprintf(`
        INSERT INTO %s (path, value, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
    `, q.table), path, value)
	return err
}

func (q *entryQueries) deleteTree(ctx context.Context, path string) ([]string, error) {
	rows, err := q.tx.QueryContext(ctx, fmt.Sprintf(`
        DELETE FROM %s WHERE path = $1 OR path LIKE $2
        RETURNING path
    `, q.table), path, escapeLike(path)+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// notify is delivered when the transaction commits.
func (q *entryQueries) notify(ctx context.Context, op, path string) error {
	_, err := q.tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, q.channel, op+":"+path)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *PostgresStore) Write(ctx context.Context, path string, value []byte) error {
	path, err := Clean(path)
	if err != nil {
		return err
	}
	raw := pqtype.NullRawMessage{RawMessage: json.RawMessage(value), Valid: len(value) > 0}
	err = sqlutil.Run(ctx, s.db, s.queries, func(q *entryQueries) error {
		if err := q.upsert(ctx, path, raw); err != nil {
			return err
		}
		return q.notify(ctx, "put", path)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}
	var raw pqtype.NullRawMessage
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE path = $1`, s.table), path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !raw.Valid {
		return nil, nil
	}
	return raw.RawMessage, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, path string, fn func(Event)) (func(), error) {
	path, err := Clean(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT path, value FROM %s
        WHERE path = $1 OR path LIKE $2
        ORDER BY path
    `, s.table), path, escapeLike(path)+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	defer rows.Close()

	var replay []Event
	for rows.Next() {
		var (
			p   string
			raw pqtype.NullRawMessage
		)
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan relay entry: %w", err)
		}
		ev := Event{Type: EventPut, Path: p}
		if raw.Valid {
			ev.Value = raw.RawMessage
		}
		replay = append(replay, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sub, err := s.hub.add(path, fn, replay)
	if err != nil {
		return nil, err
	}
	return s.hub.detach(ctx, sub), nil
}

func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	path, err := Clean(path)
	if err != nil {
		return err
	}
	err = sqlutil.Run(ctx, s.db, s.queries, func(q *entryQueries) error {
		paths, err := q.deleteTree(ctx, path)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := q.notify(ctx, "del", p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, path string, value []byte) (string, error) {
	key := NewKey()
	if err := s.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *PostgresStore) run(ctx context.Context) {
	defer close(s.done)
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-s.listener.Notify:
			if note == nil {
				// Reconnected; changes made while disconnected were not notified.
				log.Warn().Str("channel", s.cfg.NotifyChannel).Msg("relay listener reconnected")
				continue
			}
			s.handleNotification(ctx, note.Extra)
		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping relay listener")
			}
		}
	}
}

func (s *PostgresStore) handleNotification(ctx context.Context, extra string) {
	op, path, ok := strings.Cut(extra, ":")
	if !ok {
		log.Warn().Str("payload", extra).Msg("malformed relay notification")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case "put":
		value, err := s.ReadOnce(ctx, path)
		if errors.Is(err, ErrNotFound) {
			return
		}
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to load notified entry")
			return
		}
		s.hub.publish(Event{Type: EventPut, Path: path, Value: value})
	case "del":
		s.hub.publish(Event{Type: EventDelete, Path: path})
	default:
		log.Warn().Str("payload", extra).Msg("unknown relay notification")
	}
}

// Close stops the listener. The database handle is left open.
func (s *PostgresStore) Close() error {
	s.cancel()
	<-s.done
	s.hub.close()
	return s.listener.Close()
}
