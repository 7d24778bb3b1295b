// Package leaderboard stores the final result of cooperative games.
package leaderboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrInvalidScore is returned for records that cannot be stored.
var ErrInvalidScore = errors.New("invalid team score")

// TeamScore is the record written once when a cooperative game ends.
type TeamScore struct {
	ID          uuid.UUID `json:"id"`
	Player1Name string    `json:"player1Name"`
	Player2Name string    `json:"player2Name"`
	ScoreP1     int       `json:"scoreP1"`
	ScoreP2     int       `json:"scoreP2"`
	TotalScore  int       `json:"totalScore"`
	LinesP1     int       `json:"linesP1"`
	LinesP2     int       `json:"linesP2"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTeamScore builds a record and derives its total.
func NewTeamScore(player1, player2 string, scoreP1, scoreP2, linesP1, linesP2 int, at time.Time) TeamScore {
	return TeamScore{
		ID:          uuid.New(),
		Player1Name: player1,
		Player2Name: player2,
		ScoreP1:     scoreP1,
		ScoreP2:     scoreP2,
		TotalScore:  scoreP1 + scoreP2,
		LinesP1:     linesP1,
		LinesP2:     linesP2,
		Timestamp:   at,
	}
}

// Validate checks the record before it is stored.
func (s TeamScore) Validate() error {
	switch {
	case strings.TrimSpace(s.Player1Name) == "" || strings.TrimSpace(s.Player2Name) == "":
		return errors.Join(ErrInvalidScore, errors.New("both player names are required"))
	case s.ScoreP1 < 0 || s.ScoreP2 < 0 || s.LinesP1 < 0 || s.LinesP2 < 0:
		return errors.Join(ErrInvalidScore, errors.New("scores and lines must not be negative"))
	case s.TotalScore != s.ScoreP1+s.ScoreP2:
		return errors.Join(ErrInvalidScore, errors.New("total does not match player scores"))
	}
	return nil
}

// Recorder persists final results.
type Recorder interface {
	Record(ctx context.Context, score TeamScore) error
}

// LogRecorder only logs results. It is used when no database is configured.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, s TeamScore) error {
	if err := s.Validate(); err != nil {
		return err
	}
	log.Info().
		Str("player1", s.Player1Name).
		Str("player2", s.Player2Name).
		Int("score_p1", s.ScoreP1).
		Int("score_p2", s.ScoreP2).
		Int("total", s.TotalScore).
		Int("lines_p1", s.LinesP1).
		Int("lines_p2", s.LinesP2).
		Msg("team score")
	return nil
}
