package piece

import (
	"encoding/json"
	"fmt"
)

// Type identifies one of the seven tetromino shapes.
type Type string

const (
	TypeI Type = "I"
	TypeJ Type = "J"
	TypeL Type = "L"
	TypeO Type = "O"
	TypeS Type = "S"
	TypeT Type = "T"
	TypeZ Type = "Z"
)

// Types lists the shapes in the order used by the seeded generator.
// The order is part of the wire contract between peers: both sides map a
// random index onto this slice.
var Types = [7]Type{TypeI, TypeJ, TypeL, TypeO, TypeS, TypeT, TypeZ}

// Valid reports whether t is one of the seven known shapes.
func (t Type) Valid() bool {
	_, ok := shapes[t]
	return ok
}

// Cell is a block offset inside a piece's bounding matrix.
type Cell struct {
	Row int
	Col int
}

// Piece is an active tetromino: a shape and one of its four rotation states.
type Piece struct {
	Type     Type
	Rotation int
}

// New returns a piece of type t in its spawn rotation.
func New(t Type) *Piece {
	return &Piece{Type: t}
}

// Clone returns an independent copy.
func (p *Piece) Clone() *Piece {
	c := *p
	return &c
}

// Cells returns the occupied offsets for the current rotation.
func (p *Piece) Cells() []Cell {
	rots, ok := shapes[p.Type]
	if !ok {
		return nil
	}
	return rots[((p.Rotation%4)+4)%4][:]
}

// Size is the side of the piece's square bounding matrix.
func (p *Piece) Size() int {
	switch p.Type {
	case TypeI:
		return 4
	case TypeO:
		return 2
	default:
		return 3
	}
}

// Matrix returns the derived occupancy matrix for the current rotation.
func (p *Piece) Matrix() [][]bool {
	n := p.Size()
	m := make([][]bool, n)
	for r := range m {
		m[r] = make([]bool, n)
	}
	for _, c := range p.Cells() {
		m[c.Row][c.Col] = true
	}
	return m
}

// Rotate advances the piece one clockwise rotation state.
func (p *Piece) Rotate() {
	p.Rotation = (p.Rotation + 1) % 4
}

// Descriptor is the network form of a piece.
type Descriptor struct {
	Type     Type `json:"type"`
	Rotation int  `json:"rotationIndex"`
}

// Descriptor returns the serialisable form of p.
func (p *Piece) Descriptor() Descriptor {
	return Descriptor{Type: p.Type, Rotation: p.Rotation}
}

// FromDescriptor builds a piece from its network form.
func FromDescriptor(d Descriptor) (*Piece, error) {
	if !d.Type.Valid() {
		return nil, fmt.Errorf("unknown piece type %q", d.Type)
	}
	if d.Rotation < 0 || d.Rotation > 3 {
		return nil, fmt.Errorf("rotation index %d out of range", d.Rotation)
	}
	return &Piece{Type: d.Type, Rotation: d.Rotation}, nil
}

// UnmarshalJSON validates the type tag on decode.
func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = ""
		return nil
	}
	if !Type(s).Valid() {
		return fmt.Errorf("unknown piece type %q", s)
	}
	*t = Type(s)
	return nil
}
