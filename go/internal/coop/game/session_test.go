package game

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
	"github.com/mcdev12/coopblocks/go/internal/coop/piece"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/leaderboard"
)

type fakeProvider struct {
	mu        sync.Mutex
	seeds     []int64
	inputs    []controller.Action
	states    []protocol.State
	snapshots []protocol.State
	seedFn    func(int64)
	stopped   bool
}

func (p *fakeProvider) Start(context.Context, protocol.Handler, protocol.Role) error { return nil }

func (p *fakeProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

func (p *fakeProvider) SendInput(_ context.Context, a controller.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, a)
	return nil
}

func (p *fakeProvider) SendState(_ context.Context, st protocol.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, st)
	return nil
}

func (p *fakeProvider) SendSnapshot(_ context.Context, st protocol.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, st)
	return nil
}

func (p *fakeProvider) BroadcastSeed(_ context.Context, seed int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeds = append(p.seeds, seed)
	return nil
}

func (p *fakeProvider) WaitForSeed(fn func(int64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seedFn = fn
}

func (p *fakeProvider) ConnectionState() protocol.ConnectionState { return protocol.Connected }
func (p *fakeProvider) Latency() time.Duration { return 0 }
func (p *fakeProvider) OnConnectionStateChange(func(protocol.ConnectionState)) {}

func (p *fakeProvider) snapshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

type countingRecorder struct {
	mu      sync.Mutex
	records []leaderboard.TeamScore
	err     error
}

func (r *countingRecorder) Record(_ context.Context, s leaderboard.TeamScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, s)
	return r.err
}

func newHostSession(t *testing.T, rec leaderboard.Recorder) (*Session, *fakeProvider) {
	t.Helper()
	p := &fakeProvider{}
	cfg := DefaultConfig(protocol.Host)
	cfg.Seed = 12345
	cfg.Player1Name, cfg.Player2Name = "ada", "lin"
	s := NewSession(cfg, p, rec, WithClock(clockwork.NewFakeClock()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, p
}

// fillAllButFirstColumn blocks every spawn position without completing a row.
func fillAllButFirstColumn(s *Session) {
	cells := make([][]bool, board.Height)
	for y := range cells {
		cells[y] = make([]bool, board.Width)
		for x := 1; x < board.Width; x++ {
			cells[y][x] = true
		}
	}
	s.mu.Lock()
	s.ctrl.SetBoard(cells)
	s.mu.Unlock()
}

func TestHostStartSeedsAndSpawns(t *testing.T) {
	s, p := newHostSession(t, nil)

	if len(p.seeds) != 1 || p.seeds[0] != 12345 {
		t.Fatalf("broadcast seeds = %v", p.seeds)
	}
	st := s.State()
	if st.Player1.Piece == nil || st.Player2.Piece == nil {
		t.Fatal("both slots should have spawned")
	}
	if st.Player1.Position != (board.Position{X: 4}) || st.Player2.Position != (board.Position{X: 16}) {
		t.Fatalf("positions = %+v / %+v", st.Player1.Position, st.Player2.Position)
	}
}

func TestGuestWaitsForSeed(t *testing.T) {
	p := &fakeProvider{}
	s := NewSession(DefaultConfig(protocol.Guest), p, nil, WithClock(clockwork.NewFakeClock()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st.Player1.Piece != nil || st.Player2.Piece != nil {
		t.Fatal("guest must not spawn before the seed")
	}
	s.Tick(context.Background())
	s.HandleInput(context.Background(), controller.ActionMoveLeft)
	if len(p.inputs) != 0 {
		t.Fatal("input before seeding should be ignored")
	}

	p.seedFn(12345)

	host, _ := newHostSession(t, nil)
	guestState, hostState := s.State(), host.State()
	if !reflect.DeepEqual(guestState.Player1, hostState.Player1) || !reflect.DeepEqual(guestState.Player2, hostState.Player2) {
		t.Fatalf("guest %+v differs from host %+v", guestState, hostState)
	}
}

func TestGameOverPersistsOnce(t *testing.T) {
	rec := &countingRecorder{}
	s, _ := newHostSession(t, rec)
	fillAllButFirstColumn(s)

	ctx := context.Background()
	s.Tick(ctx)
	s.Tick(ctx)

	if !s.State().GameOver {
		t.Fatal("session should be over")
	}
	if len(rec.records) != 1 {
		t.Fatalf("recorder called %d times, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.Player1Name != "ada" || r.Player2Name != "lin" || r.TotalScore != r.ScoreP1+r.ScoreP2 {
		t.Fatalf("record = %+v", r)
	}
}

func TestGameOverSurvivesPersistenceFailure(t *testing.T) {
	rec := &countingRecorder{err: errors.New("leaderboard offline")}
	s, _ := newHostSession(t, rec)
	fillAllButFirstColumn(s)

	s.Tick(context.Background())
	s.Tick(context.Background())

	if !s.State().GameOver || len(rec.records) != 1 {
		t.Fatalf("gameOver=%v records=%d", s.State().GameOver, len(rec.records))
	}
}

func TestRestartAllowsNextGameOver(t *testing.T) {
	rec := &countingRecorder{}
	s, p := newHostSession(t, rec)
	fillAllButFirstColumn(s)
	s.Tick(context.Background())

	if err := s.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.State().GameOver {
		t.Fatal("restart should clear game over")
	}
	if len(p.seeds) != 2 {
		t.Fatalf("restart should broadcast a new seed, got %v", p.seeds)
	}
	fillAllButFirstColumn(s)
	s.Tick(context.Background())
	if len(rec.records) != 2 {
		t.Fatalf("records = %d, want 2", len(rec.records))
	}
}

func TestHostSendsSnapshotOnLock(t *testing.T) {
	s, p := newHostSession(t, nil)

	s.HandleInput(context.Background(), controller.ActionHardDrop)

	if p.snapshotCount() != 1 {
		t.Fatalf("snapshots = %d, want 1", p.snapshotCount())
	}
	if len(p.inputs) != 1 || p.inputs[0] != controller.ActionHardDrop {
		t.Fatalf("inputs = %v", p.inputs)
	}
	if s.State().Player1.Piece == nil {
		t.Fatal("slot 1 should respawn after a hard drop")
	}
}

func TestLineClearScoring(t *testing.T) {
	s, _ := newHostSession(t, nil)

	s.mu.Lock()
	for x := 0; x < board.Width; x++ {
		s.board.Set(x, board.Height-1, true)
	}
	s.board.Set(0, board.Height-1, false)
	if err := s.ctrl.SetPiece(board.Slot1, piece.Descriptor{Type: piece.TypeI, Rotation: 1}, board.Position{X: -2, Y: 0}); err != nil {
		t.Fatal(err)
	}
	s.mu.Unlock()

	s.HandleInput(context.Background(), controller.ActionHardDrop)

	st := s.State()
	if st.Player1.Lines != 1 || st.Player1.Score != 100 {
		t.Fatalf("p1 lines=%d score=%d, want 1 and 100", st.Player1.Lines, st.Player1.Score)
	}
	if st.Score != 100 || st.Lines != 1 || st.Level != 1 {
		t.Fatalf("totals = %+v", st)
	}
}

func TestCreditRaisesLevel(t *testing.T) {
	s, _ := newHostSession(t, nil)
	s.mu.Lock()
	s.creditLocked(board.Slot1, 4)
	s.creditLocked(board.Slot1, 4)
	s.creditLocked(board.Slot1, 2)
	s.mu.Unlock()

	st := s.State()
	if st.Level != 2 {
		t.Fatalf("level = %d, want 2", st.Level)
	}
	if want := 800 + 800 + 300; st.Player1.Score != want {
		t.Fatalf("score = %d, want %d", st.Player1.Score, want)
	}
	if d := s.DropInterval(); d != 950*time.Millisecond {
		t.Fatalf("drop interval = %s", d)
	}
}

func TestDropIntervalFloor(t *testing.T) {
	s, _ := newHostSession(t, nil)
	s.mu.Lock()
	s.level = 40
	s.mu.Unlock()
	if d := s.DropInterval(); d != 100*time.Millisecond {
		t.Fatalf("drop interval = %s, want floor", d)
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	host, _ := newHostSession(t, nil)
	host.HandleInput(context.Background(), controller.ActionMoveLeft)
	host.HandleInput(context.Background(), controller.ActionHardDrop)
	snap := host.State()
	snap.Paused = true

	guest := NewSession(DefaultConfig(protocol.Guest), &fakeProvider{}, nil)
	guest.ApplyRemoteState(snap, protocol.ModeSnapshot)
	once := guest.State()
	guest.ApplyRemoteState(snap, protocol.ModeSnapshot)
	twice := guest.State()

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second application changed state:\n%+v\n%+v", once, twice)
	}
	if !reflect.DeepEqual(once, snap) {
		t.Fatalf("snapshot not applied verbatim:\n%+v\n%+v", once, snap)
	}
}

func TestIncrementalMergeScope(t *testing.T) {
	guestProvider := &fakeProvider{}
	guest := NewSession(DefaultConfig(protocol.Guest), guestProvider, nil)
	if err := guest.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	guestProvider.seedFn(12345)
	before := guest.State()

	host, _ := newHostSession(t, nil)
	host.HandleInput(context.Background(), controller.ActionMoveRight)
	remote := host.State()
	remote.Paused = true
	remote.Player1.Score = 9999
	remote.Player2.Position = board.Position{X: 13, Y: 5}
	remote.Board[0][0] = true

	guest.ApplyRemoteState(remote, protocol.ModeIncremental)
	after := guest.State()

	if !reflect.DeepEqual(after.Player1.Piece, remote.Player1.Piece) || after.Player1.Position != remote.Player1.Position {
		t.Fatalf("peer piece not merged: %+v", after.Player1)
	}
	if after.Player1.Position == before.Player1.Position {
		t.Fatal("peer move should be visible")
	}
	if after.Player2.Position != before.Player2.Position {
		t.Fatal("own piece must not be overwritten by incremental state")
	}
	if !after.Paused {
		t.Fatal("pause flag should merge")
	}
	if after.Player1.Score != 0 || after.Board[0][0] {
		t.Fatal("incremental state must not touch scores or the board")
	}
}

func TestRemoteInputAppliesToPeerSlotOnly(t *testing.T) {
	s, _ := newHostSession(t, nil)
	before := s.State()

	s.ApplyRemoteInput(board.Slot1, controller.ActionMoveLeft)
	s.ApplyRemoteInput(board.Slot2, controller.ActionMoveLeft)

	after := s.State()
	if after.Player1.Position != before.Player1.Position {
		t.Fatal("remote input must not drive the local slot")
	}
	if after.Player2.Position.X != before.Player2.Position.X-1 {
		t.Fatalf("peer piece x = %d, want %d", after.Player2.Position.X, before.Player2.Position.X-1)
	}
}

func TestPauseStopsGravityAndPushesState(t *testing.T) {
	s, p := newHostSession(t, nil)
	ctx := context.Background()

	s.TogglePause(ctx)
	if len(p.states) != 1 || !p.states[0].Paused {
		t.Fatalf("pause push = %+v", p.states)
	}
	y := s.State().Player1.Position.Y
	s.Tick(ctx)
	if s.State().Player1.Position.Y != y {
		t.Fatal("gravity ran while paused")
	}

	s.TogglePause(ctx)
	s.Tick(ctx)
	if s.State().Player1.Position.Y != y+1 {
		t.Fatal("gravity should resume")
	}
}

func TestRunDrivesGravity(t *testing.T) {
	p := &fakeProvider{}
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig(protocol.Host)
	cfg.Seed = 7
	s := NewSession(cfg, p, nil, WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	deadline := time.Now().Add(time.Second)
	for s.State().Player1.Position.Y == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.State().Player1.Position.Y != 1 {
		t.Fatalf("y = %d after one drop interval", s.State().Player1.Position.Y)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if !p.stopped {
		t.Fatal("provider not stopped")
	}
}
