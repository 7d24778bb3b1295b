package relaystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds settings for the JetStream key-value backend.
type NATSConfig struct {
	URL           string
	Bucket        string
	TTL           time.Duration // entries expire after this long; 0 keeps them
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS settings.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Bucket:        "COOP_RELAY",
		TTL:           24 * time.Hour,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSStore keeps relay entries in a JetStream key-value bucket. Path
// separators map to the '.' token separator of KV keys, so a subtree is
// watched with the "key.>" wildcard.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	config NATSConfig
}

var _ Store = (*NATSStore)(nil)

// NewNATSStore connects and ensures the bucket exists.
func NewNATSStore(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	opts := []nats.Option{
		nats.Name("coopblocks-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := ensureBucket(ctx, js, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	return &NATSStore{nc: nc, kv: kv, config: cfg}, nil
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		log.Info().Str("bucket", cfg.Bucket).Msg("using existing relay bucket")
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Cooperative session relay",
		TTL:         cfg.TTL,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	log.Info().Str("bucket", cfg.Bucket).Msg("created relay bucket")
	return kv, nil
}

func toKey(path string) (string, error) {
	path, err := Clean(path)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(path, "/", "."), nil
}

func fromKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

func (s *NATSStore) Write(ctx context.Context, path string, value []byte) error {
	key, err := toKey(path)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	key, err := toKey(path)
	if err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Subscribe watches the key and its subtree. The watcher first yields the
// current values, ending with a nil marker, then live updates. Delete markers
// from the initial pass are skipped.
func (s *NATSStore) Subscribe(ctx context.Context, path string, fn func(Event)) (func(), error) {
	key, err := toKey(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	w, err := s.kv.WatchFiltered(ctx, []string{key, key + ".>"})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	go func() {
		defer cancel()
		initial := true
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					initial = false
					continue
				}
				ev := toEvent(entry)
				if initial && ev.Type == EventDelete {
					continue
				}
				fn(ev)
			}
		}
	}()

	return func() {
		cancel()
		_ = w.Stop()
	}, nil
}

func toEvent(entry jetstream.KeyValueEntry) Event {
	ev := Event{Path: fromKey(entry.Key())}
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		ev.Type = EventDelete
	default:
		ev.Type = EventPut
		ev.Value = entry.Value()
	}
	return ev
}

func (s *NATSStore) Remove(ctx context.Context, path string) error {
	key, err := toKey(path)
	if err != nil {
		return err
	}
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return fmt.Errorf("list keys: %w", err)
	}
	defer lister.Stop()

	var doomed []string
	for k := range lister.Keys() {
		if Within(fromKey(k), fromKey(key)) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		if err := s.kv.Delete(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func (s *NATSStore) Append(ctx context.Context, path string, value []byte) (string, error) {
	key := NewKey()
	if err := s.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *NATSStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
