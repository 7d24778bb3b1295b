// Package game runs one side of a cooperative session: the gravity loop,
// scoring, pause and game over, and reconciliation of remote updates through
// the controller's sync hooks.
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/leaderboard"
)

// ErrGuestRestart is returned when the guest tries to restart; only the host
// picks seeds.
var ErrGuestRestart = errors.New("only the host can restart the game")

// linePoints is indexed by lines cleared at once and multiplied by the level.
var linePoints = [...]int{0, 100, 300, 500, 800}

// Config holds session settings.
type Config struct {
	Role        protocol.Role
	Seed        int64 // 0 derives the seed from the clock
	Player1Name string
	Player2Name string

	SyncInterval     time.Duration
	BaseDropInterval time.Duration
	MinDropInterval  time.Duration
	DropStep         time.Duration
	PersistTimeout   time.Duration
}

// DefaultConfig returns the standard timings for role.
func DefaultConfig(role protocol.Role) Config {
	return Config{
		Role:             role,
		Player1Name:      "Player 1",
		Player2Name:      "Player 2",
		SyncInterval:     100 * time.Millisecond,
		BaseDropInterval: time.Second,
		MinDropInterval:  100 * time.Millisecond,
		DropStep:         50 * time.Millisecond,
		PersistTimeout:   10 * time.Second,
	}
}

// Option customises a Session.
type Option func(*Session)

// WithClock replaces the real clock, typically with a fake in tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// Session coordinates the local simulation with the remote peer. Every
// mutation happens under mu, so gravity, local input and reconciliation never
// interleave; transport calls are made after mu is released.
type Session struct {
	cfg      Config
	provider protocol.Provider
	recorder leaderboard.Recorder
	clock    clockwork.Clock

	mu        sync.Mutex
	board     *board.Board
	ctrl      *controller.DualPieceController
	seed      int64
	ready     bool
	paused    bool
	gameOver  bool
	persisted bool
	scores    map[board.Slot]int
	lines     map[board.Slot]int
	level     int
	renderFn  func(protocol.State)
	started   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a session. recorder may be nil.
func NewSession(cfg Config, provider protocol.Provider, recorder leaderboard.Recorder, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		provider: provider,
		recorder: recorder,
		clock:    clockwork.NewRealClock(),
		board:    board.New(),
		scores:   make(map[board.Slot]int),
		lines:    make(map[board.Slot]int),
		level:    1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctrl = controller.New(s.board, 1)
	return s
}

// OnRender registers fn to receive the state after every change.
func (s *Session) OnRender(fn func(protocol.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderFn = fn
}

func (s *Session) localSlot() board.Slot {
	return s.cfg.Role.Slot()
}

// Start attaches the provider. The host picks and broadcasts the seed and
// spawns immediately; the guest spawns once the seed arrives.
func (s *Session) Start(ctx context.Context) error {
	if err := s.provider.Start(ctx, s, s.cfg.Role); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.provider.OnConnectionStateChange(func(cs protocol.ConnectionState) {
		log.Info().Str("role", s.cfg.Role.String()).Str("state", string(cs)).Msg("peer connection")
	})
	return s.begin(ctx)
}

func (s *Session) begin(ctx context.Context) error {
	if s.cfg.Role == protocol.Guest {
		s.awaitSeed()
		log.Info().Msg("waiting for host seed")
		return nil
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = s.clock.Now().UnixMilli()
	}
	s.applySeed(seed)
	return s.provider.BroadcastSeed(ctx, seed)
}

// awaitSeed keeps the guest listening for seeds while the session is started.
// Every seed after the first is the host restarting the game.
func (s *Session) awaitSeed() {
	s.provider.WaitForSeed(func(seed int64) {
		s.mu.Lock()
		started, restart := s.started, s.seed != 0
		s.mu.Unlock()
		if !started {
			return
		}
		if restart {
			log.Info().Int64("seed", seed).Msg("host restarted the game")
		}
		s.applySeed(seed)
		s.awaitSeed()
	})
}

func (s *Session) applySeed(seed int64) {
	s.mu.Lock()
	s.resetLocked()
	s.seed = seed
	s.ctrl.Reseed(seed)
	ok := s.ctrl.SpawnBoth()
	s.ready = true
	s.mu.Unlock()

	log.Info().Int64("seed", seed).Str("role", s.cfg.Role.String()).Msg("session seeded")
	if !ok {
		// Unreachable on an empty board.
		log.Warn().Msg("spawn blocked right after seeding")
	}
	s.render()
}

func (s *Session) resetLocked() {
	s.board.Reset()
	s.ctrl.Reset()
	s.scores = make(map[board.Slot]int)
	s.lines = make(map[board.Slot]int)
	s.level = 1
	s.paused = false
	s.gameOver = false
	s.persisted = false
	s.ready = false
}

// Seed returns the session seed, or 0 before seeding.
func (s *Session) Seed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

// Run drives gravity and the periodic state push until ctx is cancelled or
// Stop is called. A session that was not started yet is started first.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	started := s.started
	s.mu.Unlock()
	defer close(done)

	if !started {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	drop := s.clock.NewTimer(s.DropInterval())
	defer stopAndDrainTimer(drop)
	push := s.clock.NewTicker(s.cfg.SyncInterval)
	defer push.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-drop.Chan():
			s.Tick(ctx)
			drop.Reset(s.DropInterval())
		case <-push.Chan():
			s.pushState(ctx)
		}
	}
}

// stopAndDrainTimer stops a timer and drains a pending fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// Stop ends Run and stops the provider.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.provider.Stop()
}

// DropInterval is the gravity period for the current level.
func (s *Session) DropInterval() time.Duration {
	s.mu.Lock()
	level := s.level
	s.mu.Unlock()

	d := s.cfg.BaseDropInterval - time.Duration(level-1)*s.cfg.DropStep
	if d < s.cfg.MinDropInterval {
		return s.cfg.MinDropInterval
	}
	return d
}

// effects collects what a locked mutation must do once mu is released.
type effects struct {
	snapshot *protocol.State
	record   *leaderboard.TeamScore
}

// Tick advances gravity by one row for both slots.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	if !s.ready || s.paused || s.gameOver {
		s.mu.Unlock()
		return
	}
	res := s.ctrl.ApplyGravity()
	var locked []board.Slot
	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		if res.Locked(slot) {
			locked = append(locked, slot)
		}
	}
	fx := s.afterLockLocked(locked)
	s.mu.Unlock()

	s.apply(ctx, fx)
}

// afterLockLocked clears lines, respawns the locked slots and detects game
// over. Callers hold mu.
func (s *Session) afterLockLocked(locked []board.Slot) effects {
	var fx effects
	if len(locked) == 0 {
		return fx
	}

	if cleared := s.ctrl.CheckAndClearLines(); cleared.LinesCleared > 0 {
		s.creditLocked(s.localSlot(), cleared.LinesCleared)
	}

	blocked := false
	for _, slot := range locked {
		if !s.ctrl.Spawn(slot) {
			blocked = true
		}
	}
	if blocked && !s.gameOver {
		s.gameOver = true
		log.Info().Int("score", s.scores[board.Slot1]+s.scores[board.Slot2]).Msg("game over")
		if !s.persisted {
			s.persisted = true
			rec := s.teamScoreLocked()
			fx.record = &rec
		}
	}

	if s.cfg.Role == protocol.Host {
		st := s.stateLocked()
		fx.snapshot = &st
	}
	return fx
}

// creditLocked attributes a clear to slot. Both peers credit their own slot
// for clears their simulation performs, so simultaneous clears in both zones
// can be attributed differently on each side.
func (s *Session) creditLocked(slot board.Slot, n int) {
	idx := n
	if idx >= len(linePoints) {
		idx = len(linePoints) - 1
	}
	s.scores[slot] += linePoints[idx] * s.level
	s.lines[slot] += n
	s.level = (s.lines[board.Slot1]+s.lines[board.Slot2])/10 + 1
}

func (s *Session) teamScoreLocked() leaderboard.TeamScore {
	return leaderboard.NewTeamScore(
		s.cfg.Player1Name, s.cfg.Player2Name,
		s.scores[board.Slot1], s.scores[board.Slot2],
		s.lines[board.Slot1], s.lines[board.Slot2],
		s.clock.Now(),
	)
}

func (s *Session) apply(ctx context.Context, fx effects) {
	if fx.snapshot != nil {
		if err := s.provider.SendSnapshot(ctx, *fx.snapshot); err != nil {
			log.Warn().Err(err).Msg("failed to send snapshot")
		}
	}
	if fx.record != nil {
		s.persist(ctx, *fx.record)
	}
	s.render()
}

// persist hands the final score to the recorder. Failures are logged only;
// the session state is never rolled back.
func (s *Session) persist(ctx context.Context, rec leaderboard.TeamScore) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.recorder.Record(ctx, rec); err != nil {
		log.Error().Err(err).Int("total", rec.TotalScore).Msg("failed to persist team score")
	}
}

// HandleInput applies a local action to the local slot and sends it to the
// peer.
func (s *Session) HandleInput(ctx context.Context, a controller.Action) {
	s.mu.Lock()
	if !s.ready || s.paused || s.gameOver {
		s.mu.Unlock()
		return
	}
	out := s.ctrl.HandleAction(s.localSlot(), a)
	var fx effects
	if out.Locked {
		fx = s.afterLockLocked([]board.Slot{s.localSlot()})
	}
	s.mu.Unlock()

	if err := s.provider.SendInput(ctx, a); err != nil {
		log.Warn().Err(err).Str("action", string(a)).Msg("failed to send input")
	}
	s.apply(ctx, fx)
}

// TogglePause flips the pause flag and pushes state immediately.
func (s *Session) TogglePause(ctx context.Context) {
	s.mu.Lock()
	if s.gameOver {
		s.mu.Unlock()
		return
	}
	s.paused = !s.paused
	st := s.stateLocked()
	s.mu.Unlock()

	if err := s.provider.SendState(ctx, st); err != nil {
		log.Warn().Err(err).Msg("failed to push pause state")
	}
	s.render()
}

// Restart clears the board and scores, then reseeds and broadcasts. The
// guest follows when the new seed arrives; restarting from the guest side
// returns ErrGuestRestart.
func (s *Session) Restart(ctx context.Context) error {
	if s.cfg.Role != protocol.Host {
		return ErrGuestRestart
	}
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.render()
	return s.begin(ctx)
}

func (s *Session) pushState(ctx context.Context) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return
	}
	st := s.stateLocked()
	s.mu.Unlock()

	if err := s.provider.SendState(ctx, st); err != nil {
		log.Debug().Err(err).Msg("state push failed")
	}
}

// State returns the renderable view of the session.
func (s *Session) State() protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() protocol.State {
	st := protocol.State{
		Board:    s.board.Cells(),
		Level:    s.level,
		Paused:   s.paused,
		GameOver: s.gameOver,
	}
	for _, slot := range []board.Slot{board.Slot1, board.Slot2} {
		ss := st.Slot(slot)
		if p := s.ctrl.Piece(slot); p != nil {
			d := p.Descriptor()
			ss.Piece = &d
			ss.Position = s.ctrl.Position(slot)
		}
		ss.Next = s.ctrl.NextPiece(slot)
		ss.Score = s.scores[slot]
		ss.Lines = s.lines[slot]
		st.Score += ss.Score
		st.Lines += ss.Lines
	}
	return st
}

func (s *Session) render() {
	s.mu.Lock()
	fn := s.renderFn
	var st protocol.State
	if fn != nil {
		st = s.stateLocked()
	}
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
