package leaderboard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTeamScoreDerivesTotal(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewTeamScore("ada", "lin", 1200, 300, 9, 2, at)

	if s.TotalScore != 1500 {
		t.Fatalf("total = %d, want 1500", s.TotalScore)
	}
	if s.Timestamp != at {
		t.Fatalf("timestamp = %s", s.Timestamp)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid score rejected: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := NewTeamScore("ada", "lin", 100, 100, 1, 1, time.Now())

	tests := []struct {
		name   string
		mutate func(*TeamScore)
	}{
		{name: "missing player", mutate: func(s *TeamScore) { s.Player2Name = "  " }},
		{name: "negative score", mutate: func(s *TeamScore) { s.ScoreP1 = -1; s.TotalScore = 99 }},
		{name: "total mismatch", mutate: func(s *TeamScore) { s.TotalScore = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidScore) {
				t.Fatalf("err = %v, want ErrInvalidScore", err)
			}
		})
	}
}

func TestLogRecorderRejectsInvalid(t *testing.T) {
	var r Recorder = LogRecorder{}
	if err := r.Record(context.Background(), TeamScore{}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := r.Record(context.Background(), NewTeamScore("a", "b", 0, 0, 0, 0, time.Now())); err != nil {
		t.Fatal(err)
	}
}
