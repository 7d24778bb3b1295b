package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
)

// ErrNotStarted is returned by operations that need an attached session.
var ErrNotStarted = errors.New("sync endpoint not started")

// Link is the raw outbound channel of a transport.
type Link interface {
	Send(ctx context.Context, data []byte) error
}

// EndpointConfig holds the timing rules shared by every transport.
type EndpointConfig struct {
	SeedRetryInterval time.Duration
	SeedTimeout       time.Duration
	PingInterval      time.Duration
	FlushTimeout      time.Duration
	SendTimeout       time.Duration
}

// DefaultEndpointConfig returns the standard timings.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		SeedRetryInterval: 100 * time.Millisecond,
		SeedTimeout:       10 * time.Second,
		PingInterval:      2 * time.Second,
		FlushTimeout:      5 * time.Second,
		SendTimeout:       5 * time.Second,
	}
}

// Endpoint implements the transport-independent half of a Provider. A
// transport embeds it, supplies a Link for outbound bytes, feeds inbound
// payloads to Receive and reports channel changes through
// SetConnectionState. Everything but input is dropped while the endpoint is
// not connected; inputs are queued and flushed in order on connect.
type Endpoint struct {
	id    string
	link  Link
	clock clockwork.Clock
	cfg   EndpointConfig

	// sendMu orders sequence assignment with the write to the link.
	sendMu sync.Mutex
	seq    uint64

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	handler   Handler
	role      Role
	state     ConnectionState
	latency   time.Duration
	highest   map[string]uint64
	lastTs    map[string]int64
	pending   []controller.Action
	flushing  bool
	seed      *int64
	seedFn    func(int64)
	seedStop  context.CancelFunc
	listeners []func(ConnectionState)

	wg sync.WaitGroup
}

// NewEndpoint returns a detached endpoint that identifies itself as id.
func NewEndpoint(id string, link Link, clock clockwork.Clock, cfg EndpointConfig) *Endpoint {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Endpoint{
		id:      id,
		link:    link,
		clock:   clock,
		cfg:     cfg,
		state:   Disconnected,
		highest: make(map[string]uint64),
		lastTs:  make(map[string]int64),
	}
}

// ID returns the sender identity stamped on outbound messages.
func (e *Endpoint) ID() string {
	return e.id
}

// Role returns the role given to Attach.
func (e *Endpoint) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Attach binds the session callbacks and starts the heartbeat.
func (e *Endpoint) Attach(h Handler, role Role) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	ctx := e.ctx
	e.handler = h
	e.role = role
	e.wg.Add(1)
	e.mu.Unlock()

	go e.heartbeat(ctx)
}

// Detach stops background work and resets the endpoint to disconnected. The
// outbound sequence counter keeps counting so a reattached endpoint is never
// mistaken for a replay by a peer that outlived it.
//
// Endpoint goroutines never run callbacks, so Detach may be called from a
// connection-state listener or a Handler method.
func (e *Endpoint) Detach() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.ctx = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	prev := e.state
	e.state = Disconnected
	e.handler = nil
	e.latency = 0
	e.pending = nil
	e.flushing = false
	e.seed = nil
	e.seedFn = nil
	e.seedStop = nil
	e.highest = make(map[string]uint64)
	e.lastTs = make(map[string]int64)
	listeners := append(([]func(ConnectionState))(nil), e.listeners...)
	e.mu.Unlock()

	if prev != Disconnected {
		notify(listeners, Disconnected)
	}
}

func (e *Endpoint) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// ConnectionState reports the transport lifecycle state.
func (e *Endpoint) ConnectionState() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Latency is the last estimated one-way delay.
func (e *Endpoint) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// OnConnectionStateChange registers fn for every later transition.
func (e *Endpoint) OnConnectionStateChange(fn func(ConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// SetConnectionState records a transition reported by the transport. The
// link must already accept sends when s is Connected.
func (e *Endpoint) SetConnectionState(s ConnectionState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = s
	listeners := append(([]func(ConnectionState))(nil), e.listeners...)
	startFlush := s == Connected && len(e.pending) > 0 && !e.flushing && e.ctx != nil
	if startFlush {
		e.flushing = true
		e.wg.Add(1)
	}
	e.mu.Unlock()

	log.Info().
		Str("sender", e.id).
		Str("from", string(prev)).
		Str("to", string(s)).
		Msg("sync connection state changed")
	if startFlush {
		go e.flush()
	}
	notify(listeners, s)
}

func notify(listeners []func(ConnectionState), s ConnectionState) {
	for _, fn := range listeners {
		fn(s)
	}
}

// send stamps m and writes it. Callers hold sendMu.
func (e *Endpoint) sendLocked(ctx context.Context, m Message) error {
	e.seq++
	m.setMeta(Header{
		Sender:    e.id,
		Slot:      e.Role().Slot(),
		Seq:       e.seq,
		Timestamp: e.clock.Now().UnixMilli(),
	})
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return e.link.Send(ctx, data)
}

func (e *Endpoint) send(ctx context.Context, m Message) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.sendLocked(ctx, m)
}

func (e *Endpoint) connected() bool {
	return e.ConnectionState() == Connected
}

// SendInput sends a, or queues it until the transport connects.
func (e *Endpoint) SendInput(ctx context.Context, a controller.Action) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	if e.flushing || e.state != Connected {
		e.pending = append(e.pending, a)
		queued := len(e.pending)
		e.mu.Unlock()
		log.Debug().Str("action", string(a)).Int("queued", queued).Msg("queued input until connected")
		return nil
	}
	e.mu.Unlock()

	return e.sendLocked(ctx, &InputMessage{Action: a})
}

// Pending returns the number of queued inputs.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// flush drains the pending queue in order. It gives up after FlushTimeout or
// the first failed send; whatever is left stays queued for the next connect.
func (e *Endpoint) flush() {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(e.runContext(), e.cfg.FlushTimeout)
	defer cancel()

	sent := 0
	for {
		e.sendMu.Lock()
		e.mu.Lock()
		if len(e.pending) == 0 || e.state != Connected || e.ctx == nil {
			e.flushing = false
			e.mu.Unlock()
			e.sendMu.Unlock()
			break
		}
		a := e.pending[0]
		e.mu.Unlock()

		err := e.sendLocked(ctx, &InputMessage{Action: a})

		e.mu.Lock()
		if err == nil {
			e.pending = e.pending[1:]
			sent++
		} else {
			e.flushing = false
		}
		remaining := len(e.pending)
		e.mu.Unlock()
		e.sendMu.Unlock()

		if err != nil {
			log.Warn().Err(err).Int("remaining", remaining).Msg("input flush abandoned")
			return
		}
	}
	if sent > 0 {
		log.Debug().Int("sent", sent).Msg("flushed queued inputs")
	}
}

// SendState pushes an incremental state. Dropped while not connected.
func (e *Endpoint) SendState(ctx context.Context, st State) error {
	if !e.connected() {
		return nil
	}
	return e.send(ctx, &StateMessage{Mode: ModeIncremental, State: st})
}

// SendSnapshot pushes an authoritative snapshot. Dropped while not connected.
func (e *Endpoint) SendSnapshot(ctx context.Context, st State) error {
	if !e.connected() {
		return nil
	}
	return e.send(ctx, &StateMessage{Mode: ModeSnapshot, State: st})
}

// BroadcastSeed sends seed once the transport is connected, retrying every
// SeedRetryInterval and giving up after SeedTimeout.
// A newer seed supersedes any retry still pending for an older one.
func (e *Endpoint) BroadcastSeed(ctx context.Context, seed int64) error {
	e.mu.Lock()
	if e.seedStop != nil {
		e.seedStop()
		e.seedStop = nil
	}
	connected, run := e.state == Connected, e.ctx
	var retry context.Context
	if !connected && run != nil {
		retry, e.seedStop = context.WithCancel(run)
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if connected {
		return e.send(ctx, &SeedMessage{Seed: seed})
	}
	if run == nil {
		return ErrNotStarted
	}
	go e.retrySeed(retry, seed)
	return nil
}

func (e *Endpoint) retrySeed(ctx context.Context, seed int64) {
	defer e.wg.Done()
	ticker := e.clock.NewTicker(e.cfg.SeedRetryInterval)
	defer ticker.Stop()
	deadline := e.clock.NewTimer(e.cfg.SeedTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.Chan():
			log.Warn().Int64("seed", seed).Dur("timeout", e.cfg.SeedTimeout).Msg("seed broadcast abandoned")
			return
		case <-ticker.Chan():
			if !e.connected() {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
			err := e.send(sendCtx, &SeedMessage{Seed: seed})
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("seed broadcast failed, retrying")
				continue
			}
			log.Info().Int64("seed", seed).Msg("seed broadcast")
			return
		}
	}
}

// WaitForSeed registers a one-shot callback for the next seed. A seed that
// arrived before registration is delivered immediately.
func (e *Endpoint) WaitForSeed(fn func(seed int64)) {
	e.mu.Lock()
	if e.seed != nil {
		s := *e.seed
		e.seed = nil
		e.mu.Unlock()
		fn(s)
		return
	}
	e.seedFn = fn
	e.mu.Unlock()
}

func (e *Endpoint) heartbeat(ctx context.Context) {
	defer e.wg.Done()
	ticker := e.clock.NewTicker(e.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !e.connected() {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
			err := e.send(sendCtx, &PingMessage{Sent: e.clock.Now().UnixMilli()})
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// Receive decodes and applies one inbound payload. Undecodable payloads are
// logged and dropped.
func (e *Endpoint) Receive(data []byte) {
	m, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("receiver", e.id).Msg("dropping undecodable sync message")
		return
	}
	e.dispatch(m)
}

func (e *Endpoint) dispatch(m Message) {
	h := m.Meta()

	e.mu.Lock()
	handler, role := e.handler, e.role
	if handler == nil {
		e.mu.Unlock()
		return
	}
	// Own messages can come back through a shared store or an echoing peer.
	if h.Sender == e.id || (m.Kind() == KindInput && h.Slot == role.Slot()) {
		e.mu.Unlock()
		log.Debug().Str("kind", string(m.Kind())).Uint64("seq", h.Seq).Msg("suppressed own message")
		return
	}

	switch v := m.(type) {
	case *PingMessage:
		e.mu.Unlock()
		e.pong(v.Sent)
		return
	case *PongMessage:
		rtt := e.clock.Now().UnixMilli() - v.Echo
		if rtt < 0 {
			rtt = 0
		}
		e.latency = time.Duration((rtt+1)/2) * time.Millisecond
		e.mu.Unlock()
		return
	}

	if !e.accept(h) {
		e.mu.Unlock()
		log.Debug().
			Str("sender", h.Sender).
			Str("kind", string(m.Kind())).
			Uint64("seq", h.Seq).
			Msg("dropped stale sync message")
		return
	}

	switch v := m.(type) {
	case *SeedMessage:
		if role != Guest {
			e.mu.Unlock()
			return
		}
		fn := e.seedFn
		e.seedFn = nil
		if fn == nil {
			s := v.Seed
			e.seed = &s
		}
		e.mu.Unlock()
		if fn != nil {
			fn(v.Seed)
		}
	case *InputMessage:
		e.mu.Unlock()
		handler.ApplyRemoteInput(role.Slot().Other(), v.Action)
	case *StateMessage:
		e.mu.Unlock()
		mode := v.Mode
		// Only the host's snapshots are authoritative.
		if role == Host {
			mode = ModeIncremental
		}
		handler.ApplyRemoteState(v.State, mode)
	default:
		e.mu.Unlock()
	}
}

// accept enforces strict per-sender ordering. Callers hold mu.
func (e *Endpoint) accept(h Header) bool {
	if h.Seq > 0 {
		if h.Seq <= e.highest[h.Sender] {
			return false
		}
		e.highest[h.Sender] = h.Seq
		return true
	}
	if h.Timestamp <= e.lastTs[h.Sender] {
		return false
	}
	e.lastTs[h.Sender] = h.Timestamp
	return true
}

func (e *Endpoint) pong(echo int64) {
	ctx, cancel := context.WithTimeout(e.runContext(), e.cfg.SendTimeout)
	defer cancel()
	if err := e.send(ctx, &PongMessage{Echo: echo}); err != nil {
		log.Debug().Err(err).Msg("pong failed")
	}
}
