package piece

// Offset is a wall-kick translation in board columns (X) and rows (Y).
// Y grows downward, so the SRS tables are stored with their Y axis negated.
type Offset struct {
	X int
	Y int
}

// Kick tables for clockwise transitions, indexed by the rotation being left.
// The in-place test (0, 0) is not part of the list; callers try it first.
var (
	kicksJLSTZ = [4][]Offset{
		{{-1, 0}, {-1, -1}, {0, 2}, {-1, 2}},  // 0 -> 1
		{{1, 0}, {1, 1}, {0, -2}, {1, -2}},    // 1 -> 2
		{{1, 0}, {1, -1}, {0, 2}, {1, 2}},     // 2 -> 3
		{{-1, 0}, {-1, 1}, {0, -2}, {-1, -2}}, // 3 -> 0
	}
	kicksI = [4][]Offset{
		{{-2, 0}, {1, 0}, {-2, 1}, {1, -2}}, // 0 -> 1
		{{-1, 0}, {2, 0}, {-1, -2}, {2, 1}}, // 1 -> 2
		{{2, 0}, {-1, 0}, {2, -1}, {-1, 2}}, // 2 -> 3
		{{1, 0}, {-2, 0}, {1, 2}, {-2, -1}}, // 3 -> 0
	}
)

// WallKicks returns the ordered kick offsets to try after a clockwise rotation
// from the given rotation state failed in place. The O piece never kicks.
func WallKicks(t Type, from int) []Offset {
	from = ((from % 4) + 4) % 4
	switch t {
	case TypeO:
		return nil
	case TypeI:
		return kicksI[from]
	default:
		return kicksJLSTZ[from]
	}
}
