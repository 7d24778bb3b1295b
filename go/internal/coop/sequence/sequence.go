// Package sequence generates the deterministic piece streams shared by both
// peers of a cooperative session. Peers exchange a single seed and derive every
// subsequent piece locally, so the generator must never consult any other
// source of entropy once seeded.
package sequence

import "github.com/mcdev12/coopblocks/go/internal/coop/piece"

// Linear congruential generator parameters (glibc).
const (
	multiplier = 1103515245
	increment  = 12345
	modulus    = 1 << 31
)

// Slot2Offset is added to the session's base seed to derive the second
// player's stream. Both peers apply the same offset, so reseeding with one base
// value reproduces both independent streams everywhere.
const Slot2Offset = 7919

// Sequence is a reseedable stream of piece types.
type Sequence struct {
	seed int64
	next piece.Type
}

// State is the observable state of one stream.
type State struct {
	Seed int64
	Next piece.Type
}

// New returns a stream seeded with seed.
func New(seed int64) *Sequence {
	s := &Sequence{}
	s.Seed(seed)
	return s
}

// Seed resets the stream deterministically.
func (s *Sequence) Seed(value int64) {
	s.seed = normalize(value)
	s.next = s.draw()
}

// PeekNext returns the upcoming piece without consuming it.
func (s *Sequence) PeekNext() piece.Type {
	return s.next
}

// Consume returns the upcoming piece and advances the stream.
func (s *Sequence) Consume() piece.Type {
	t := s.next
	s.next = s.draw()
	return t
}

// State reports the current seed and upcoming piece.
func (s *Sequence) State() State {
	return State{Seed: s.seed, Next: s.next}
}

// Float advances the generator and returns a value in [0, 1).
func (s *Sequence) Float() float64 {
	s.seed = (multiplier*s.seed + increment) % modulus
	return float64(s.seed) / float64(modulus)
}

func (s *Sequence) draw() piece.Type {
	idx := int(s.Float() * float64(len(piece.Types)))
	return piece.Types[idx]
}

func normalize(seed int64) int64 {
	if seed < 0 {
		seed = -seed
	}
	seed %= modulus
	if seed == 0 {
		return 1
	}
	return seed
}

// Streams holds the two per-slot streams of a session.
type Streams struct {
	slots [2]*Sequence
}

// NewStreams derives both slot streams from base.
func NewStreams(base int64) *Streams {
	st := &Streams{}
	st.Reseed(base)
	return st
}

// Reseed resets both streams from the same base value.
func (st *Streams) Reseed(base int64) {
	st.slots[0] = New(base)
	st.slots[1] = New(base + Slot2Offset)
}

// Slot returns the stream for slot 1 or 2.
func (st *Streams) Slot(slot int) *Sequence {
	if slot == 2 {
		return st.slots[1]
	}
	return st.slots[0]
}
