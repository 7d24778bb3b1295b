package relaystore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		if len(l.events) >= n {
			out := append([]Event(nil), l.events...)
			l.mu.Unlock()
			return out
		}
		l.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events", n)
	return nil
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestMemoryReadWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.ReadOnce(ctx, "rooms/a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.Write(ctx, "/rooms/a/", []byte(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadOnce(ctx, "rooms/a")
	if err != nil || string(got) != `{"n":1}` {
		t.Fatalf("ReadOnce = %s, %v", got, err)
	}
}

func TestInvalidPaths(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	for _, p := range []string{"", "/", "a//b", "a.b", "a/b c", "a/*"} {
		if err := s.Write(context.Background(), p, []byte(`1`)); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Write(%q) err = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestSubscribeReplaysThenStreams(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_ = s.Write(ctx, "room/1/b", []byte(`"b"`))
	_ = s.Write(ctx, "room/1/a", []byte(`"a"`))
	_ = s.Write(ctx, "room/10/x", []byte(`"sibling"`))

	var log eventLog
	unsub, err := s.Subscribe(ctx, "room/1", log.add)
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	_ = s.Write(ctx, "room/1", []byte(`"self"`))
	_ = s.Write(ctx, "room/1/c/d", []byte(`"deep"`))

	events := log.waitFor(t, 4)
	want := []string{"room/1/a", "room/1/b", "room/1", "room/1/c/d"}
	for i, ev := range events {
		if ev.Path != want[i] || ev.Type != EventPut {
			t.Fatalf("event %d = %+v, want put %s", i, ev, want[i])
		}
	}
	time.Sleep(20 * time.Millisecond)
	if n := log.len(); n != 4 {
		t.Fatalf("got %d events, sibling path leaked", n)
	}
}

func TestRemoveSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_ = s.Write(ctx, "sig/r1/offer", []byte(`1`))
	_ = s.Write(ctx, "sig/r1/candidates/1/k", []byte(`2`))
	_ = s.Write(ctx, "sig/r2/offer", []byte(`3`))

	var log eventLog
	unsub, _ := s.Subscribe(ctx, "sig", log.add)
	defer unsub()
	log.waitFor(t, 3)

	if err := s.Remove(ctx, "sig/r1"); err != nil {
		t.Fatal(err)
	}
	events := log.waitFor(t, 5)
	for _, ev := range events[3:] {
		if ev.Type != EventDelete || !Within(ev.Path, "sig/r1") {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	if _, err := s.ReadOnce(ctx, "sig/r1/offer"); !errors.Is(err, ErrNotFound) {
		t.Fatal("subtree not removed")
	}
	if _, err := s.ReadOnce(ctx, "sig/r2/offer"); err != nil {
		t.Fatal("other room removed")
	}
}

func TestAppendKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	var keys []string
	for i := 0; i < 50; i++ {
		k, err := s.Append(ctx, "mailbox", []byte(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("key %d (%s) does not sort after %s", i, keys[i], keys[i-1])
		}
	}
	if _, err := s.ReadOnce(ctx, Join("mailbox", keys[0])); err != nil {
		t.Fatal(err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	defer s.Close()

	var viaFunc, viaCtx eventLog
	unsub, _ := s.Subscribe(context.Background(), "a", viaFunc.add)
	_, _ = s.Subscribe(ctx, "a", viaCtx.add)

	_ = s.Write(context.Background(), "a/1", []byte(`1`))
	viaFunc.waitFor(t, 1)
	viaCtx.waitFor(t, 1)

	unsub()
	cancel()
	time.Sleep(20 * time.Millisecond)
	_ = s.Write(context.Background(), "a/2", []byte(`2`))
	time.Sleep(20 * time.Millisecond)

	if viaFunc.len() != 1 || viaCtx.len() != 1 {
		t.Fatalf("events after unsubscribe: %d / %d", viaFunc.len(), viaCtx.len())
	}
}

func TestClosedStore(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Close()
	if err := s.Write(context.Background(), "a", []byte(`1`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, err := s.Subscribe(context.Background(), "a", func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := Join("/a/", "", "b", "c/"); got != "a/b/c" {
		t.Fatalf("Join = %q", got)
	}
	if !Within("a/b", "a") || Within("ab", "a") || !Within("a", "a") {
		t.Fatal("Within mismatch")
	}
	if Base("a/b/c") != "c" || Base("c") != "c" {
		t.Fatal("Base mismatch")
	}
	if escapeLike(`a_b%`) != `a\_b\%` {
		t.Fatalf("escapeLike = %q", escapeLike(`a_b%`))
	}
}
