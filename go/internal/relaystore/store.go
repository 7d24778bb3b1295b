// Package relaystore is the shared keyed store with change notification that
// cooperative sessions use as a relay. Paths are '/'-separated and scoped by a
// room identifier; values are JSON documents.
package relaystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("relay path not found")
	ErrInvalidPath = errors.New("invalid relay path")
	ErrClosed      = errors.New("relay store closed")
)

// EventType distinguishes writes from removals.
type EventType int

const (
	EventPut EventType = iota + 1
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a change to one path. Value is nil for deletes.
type Event struct {
	Type  EventType
	Path  string
	Value []byte
}

// Store is the relay primitive.
type Store interface {
	// Write sets the value at path.
	Write(ctx context.Context, path string, value []byte) error
	// ReadOnce returns the value at path or ErrNotFound.
	ReadOnce(ctx context.Context, path string) ([]byte, error)
	// Subscribe calls fn for every existing entry at or below path, then for
	// every later change there, in order, from a single goroutine. The
	// returned function detaches fn; cancelling ctx does the same.
	Subscribe(ctx context.Context, path string, fn func(Event)) (func(), error)
	// Remove deletes path and everything below it.
	Remove(ctx context.Context, path string) error
	// Append writes value under a new time-ordered child key of path and
	// returns that key.
	Append(ctx context.Context, path string, value []byte) (string, error)
	Close() error
}

// Join builds a path from segments, ignoring empty ones.
func Join(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

// Clean validates path and strips surrounding slashes. Segments may only
// contain letters, digits, '-' and '_', so every backend can map them.
func Clean(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		for _, r := range seg {
			if !validRune(r) {
				return "", fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, r)
			}
		}
	}
	return path, nil
}

func validRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// Within reports whether path equals prefix or lies below it.
func Within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Base returns the last segment of path.
func Base(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// NewKey returns a child key that sorts after every key generated before it
// by this process.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
