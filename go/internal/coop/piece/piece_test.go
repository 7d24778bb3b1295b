package piece

import (
	"encoding/json"
	"testing"
)

func TestEveryRotationHasFourCellsInsideMatrix(t *testing.T) {
	for _, typ := range Types {
		p := New(typ)
		for r := 0; r < 4; r++ {
			cells := p.Cells()
			if len(cells) != 4 {
				t.Fatalf("%s rotation %d: %d cells", typ, r, len(cells))
			}
			for _, c := range cells {
				if c.Row < 0 || c.Col < 0 || c.Row >= p.Size() || c.Col >= p.Size() {
					t.Errorf("%s rotation %d: cell %+v outside %dx%d", typ, r, c, p.Size(), p.Size())
				}
			}
			p.Rotate()
		}
		if p.Rotation != 0 {
			t.Errorf("%s: four rotations ended at %d", typ, p.Rotation)
		}
	}
}

func TestWallKicks(t *testing.T) {
	if k := WallKicks(TypeO, 0); k != nil {
		t.Errorf("O kicks = %v, want none", k)
	}
	if got := WallKicks(TypeI, 4); got[0] != (Offset{-2, 0}) {
		t.Errorf("I kicks from 4 = %v, want the 0 -> 1 table", got)
	}
	if got := WallKicks(TypeT, -1); got[0] != (Offset{-1, 0}) {
		t.Errorf("T kicks from -1 = %v, want the 3 -> 0 table", got)
	}
}

func TestFromDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{"valid", Descriptor{Type: TypeL, Rotation: 2}, false},
		{"unknown type", Descriptor{Type: "X"}, true},
		{"negative rotation", Descriptor{Type: TypeT, Rotation: -1}, true},
		{"rotation too large", Descriptor{Type: TypeT, Rotation: 4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromDescriptor(tt.d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Descriptor() != tt.d {
				t.Errorf("round trip = %+v, want %+v", p.Descriptor(), tt.d)
			}
		})
	}
}

func TestTypeRejectsUnknownTagOnDecode(t *testing.T) {
	var d Descriptor
	if err := json.Unmarshal([]byte(`{"type":"Q","rotationIndex":0}`), &d); err == nil {
		t.Fatal("expected an error for an unknown type")
	}
	if err := json.Unmarshal([]byte(`{"type":"S","rotationIndex":1}`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Type != TypeS || d.Rotation != 1 {
		t.Errorf("decoded %+v", d)
	}
}
