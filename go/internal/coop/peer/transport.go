// Package peer implements the direct peer-to-peer sync transport. Each side
// runs a small HTTP listener; the peers exchange session descriptions that
// list the listener URLs as candidates, dial each other over websockets and
// keep the first connection that completes the hello/open handshake.
package peer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/coop/signaling"
)

var (
	ErrNoPeerConnection = errors.New("no peer connection")
	ErrWrongRole        = errors.New("operation not available to this role")
	ErrNoCandidates     = errors.New("no connectivity candidates")
	ErrGatherTimeout    = errors.New("candidate gathering timed out")
	ErrAlreadyStarted   = errors.New("peer transport already started")
)

// Transport is a protocol.Provider over a direct websocket channel.
type Transport struct {
	*protocol.Endpoint

	cfg      Config
	clock    clockwork.Clock
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu        sync.Mutex
	role      protocol.Role
	ctx       context.Context
	cancel    context.CancelFunc
	session   string
	token     string
	ln        net.Listener
	srv       *http.Server
	local     string
	remote    *signaling.Body
	queued    []string
	dialed    map[string]struct{}
	conns     map[*conn]struct{}
	active    *conn
	connected bool
	deadline  clockwork.Timer

	wg sync.WaitGroup
}

var _ protocol.Provider = (*Transport)(nil)

func New(cfg Config, clock clockwork.Clock) *Transport {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Transport{
		cfg:   cfg,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Peers authenticate with the session token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
	t.Endpoint = protocol.NewEndpoint(cfg.SenderID, t, clock, cfg.Endpoint)
	return t
}

// Start opens the listener and arms the handshake deadline. The caller then
// runs the handshake with CreateOffer/AcceptAnswer (host) or AcceptOffer
// (guest), directly or through Hybrid.
func (t *Transport) Start(ctx context.Context, h protocol.Handler, role protocol.Role) error {
	t.mu.Lock()
	if t.ln != nil {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	token, err := newToken()
	if err != nil {
		t.mu.Unlock()
		return err
	}
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		t.mu.Unlock()
		t.Endpoint.SetConnectionState(protocol.Failed)
		return fmt.Errorf("failed to open peer listener: %w", err)
	}
	t.role = role
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.session = uuid.NewString()
	t.token = token
	t.ln = ln
	t.srv = t.newServer()
	t.local = ""
	t.remote = nil
	t.queued = nil
	t.dialed = make(map[string]struct{})
	t.conns = make(map[*conn]struct{})
	t.active = nil
	t.connected = false
	t.deadline = t.clock.AfterFunc(t.cfg.HandshakeTimeout, t.handshakeExpired)
	srv := t.srv
	t.wg.Add(1)
	t.mu.Unlock()

	t.Endpoint.Attach(h, role)
	t.Endpoint.SetConnectionState(protocol.Connecting)

	go func() {
		defer t.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("peer listener failed")
		}
	}()

	log.Info().
		Str("addr", ln.Addr().String()).
		Stringer("role", role).
		Msg("peer listener started")
	return nil
}

// Addr returns the listener address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *Transport) handshakeExpired() {
	t.mu.Lock()
	expired := t.ln != nil && !t.connected
	t.mu.Unlock()
	if !expired {
		return
	}
	log.Warn().Dur("timeout", t.cfg.HandshakeTimeout).Msg("peer handshake deadline exceeded")
	t.Endpoint.SetConnectionState(protocol.Failed)
}

// CreateOffer gathers local candidates and returns the host's offer.
func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	if err := t.requireRole(protocol.Host); err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	d, _, err := t.describe(ctx, signaling.TypeOffer)
	if err != nil {
		return "", err
	}
	return d.Encode()
}

// AcceptOffer validates the host's offer, starts dialing its candidates and
// returns the guest's answer.
func (t *Transport) AcceptOffer(ctx context.Context, offer string) (string, error) {
	d, err := signaling.ParseDescription([]byte(offer), signaling.TypeOffer)
	if err != nil {
		return "", fmt.Errorf("accept offer: %w", err)
	}
	answer, _, err := t.acceptOffer(ctx, d)
	if err != nil {
		return "", err
	}
	return answer.Encode()
}

func (t *Transport) acceptOffer(ctx context.Context, d signaling.Description) (signaling.Description, []string, error) {
	if err := t.requireRole(protocol.Guest); err != nil {
		return signaling.Description{}, nil, fmt.Errorf("accept offer: %w", err)
	}
	body, err := signaling.ParseSDP(d.SDP)
	if err != nil {
		return signaling.Description{}, nil, fmt.Errorf("accept offer: %w", err)
	}
	answer, cands, err := t.describe(ctx, signaling.TypeAnswer)
	if err != nil {
		return signaling.Description{}, nil, err
	}
	t.setRemote(body)
	return answer, cands, nil
}

// AcceptAnswer validates the guest's answer and dials its candidates.
func (t *Transport) AcceptAnswer(ctx context.Context, answer string) error {
	d, err := signaling.ParseDescription([]byte(answer), signaling.TypeAnswer)
	if err != nil {
		return fmt.Errorf("accept answer: %w", err)
	}
	return t.acceptAnswer(ctx, d)
}

func (t *Transport) acceptAnswer(_ context.Context, d signaling.Description) error {
	if err := t.requireRole(protocol.Host); err != nil {
		return fmt.Errorf("accept answer: %w", err)
	}
	body, err := signaling.ParseSDP(d.SDP)
	if err != nil {
		return fmt.Errorf("accept answer: %w", err)
	}
	t.setRemote(body)
	return nil
}

// AddCandidate dials a candidate learned after the remote description, or
// queues it until the description arrives.
func (t *Transport) AddCandidate(c signaling.Candidate) {
	t.mu.Lock()
	if t.remote == nil {
		t.queued = append(t.queued, c.Candidate)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.dial(c.Candidate)
}

func (t *Transport) requireRole(want protocol.Role) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return protocol.ErrNotStarted
	}
	if t.role != want {
		return ErrWrongRole
	}
	return nil
}

func (t *Transport) describe(ctx context.Context, typ signaling.DescriptionType) (signaling.Description, []string, error) {
	cands, err := t.gather(ctx)
	if err != nil {
		t.Endpoint.SetConnectionState(protocol.Failed)
		return signaling.Description{}, nil, fmt.Errorf("failed to gather candidates: %w", err)
	}

	t.mu.Lock()
	body := signaling.Body{Session: t.session, Token: t.token, Candidates: cands}
	d := signaling.Description{Type: typ, SDP: body.SDP()}
	enc, err := d.Encode()
	if err == nil {
		t.local = enc
	}
	t.mu.Unlock()
	if err != nil {
		return signaling.Description{}, nil, err
	}
	return d, cands, nil
}

func (t *Transport) setRemote(body signaling.Body) {
	t.mu.Lock()
	t.remote = &body
	urls := append(append([]string(nil), body.Candidates...), t.queued...)
	t.queued = nil
	t.mu.Unlock()

	for _, u := range urls {
		t.dial(u)
	}
}

func (t *Transport) dial(url string) {
	t.mu.Lock()
	if t.ctx == nil || t.active != nil || t.remote == nil {
		t.mu.Unlock()
		return
	}
	if _, ok := t.dialed[url]; ok {
		t.mu.Unlock()
		return
	}
	t.dialed[url] = struct{}{}
	ctx, remote, role := t.ctx, *t.remote, t.role
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
		defer cancel()

		ws, _, err := t.dialer.DialContext(dctx, url, nil)
		if err != nil {
			log.Debug().Err(err).Str("candidate", url).Msg("peer candidate unreachable")
			return
		}
		c := newConn(uuid.NewString(), ws, true, t.cfg)
		if !t.register(c) {
			ws.Close()
			return
		}
		c.enqueueFrame(frame{Type: frameHello, Session: remote.Session, Token: remote.Token})
		log.Debug().Str("candidate", url).Str("conn", c.id).Msg("peer candidate dialed")
		if role == protocol.Host {
			t.adopt(c)
		}
	}()
}

// register tracks c and starts its pumps. It refuses connections once the
// transport is stopped or already bound to a peer.
func (t *Transport) register(c *conn) bool {
	t.mu.Lock()
	if t.ctx == nil || t.active != nil {
		t.mu.Unlock()
		return false
	}
	t.conns[c] = struct{}{}
	t.wg.Add(2)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		c.writePump()
	}()
	go func() {
		defer t.wg.Done()
		c.readPump(t.handleFrame, t.connClosed)
	}()
	return true
}

func (t *Transport) handleFrame(c *conn, data []byte) {
	t.mu.Lock()
	active, role := t.active, t.role
	t.mu.Unlock()

	if c == active {
		t.Endpoint.Receive(data)
		return
	}
	if active != nil {
		c.close()
		return
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		log.Debug().Str("conn", c.id).Msg("unexpected frame before handshake")
		c.close()
		return
	}

	switch f.Type {
	case frameHello:
		if c.outbound {
			return
		}
		t.mu.Lock()
		ok := f.Session == t.session && f.Token == t.token
		c.verified = ok
		t.mu.Unlock()
		if !ok {
			log.Warn().Str("conn", c.id).Msg("rejecting peer with an unknown session token")
			c.close()
			return
		}
		if role == protocol.Host {
			t.adopt(c)
		}
	case frameOpen:
		t.mu.Lock()
		trusted := c.outbound || c.verified
		t.mu.Unlock()
		if role == protocol.Guest && trusted {
			t.adopt(c)
		}
	}
}

// adopt binds the transport to c and closes every other candidate
// connection. The host announces the choice with an open frame.
func (t *Transport) adopt(c *conn) {
	t.mu.Lock()
	if t.ctx == nil || t.active != nil {
		t.mu.Unlock()
		return
	}
	if t.role == protocol.Host && !c.enqueueFrame(frame{Type: frameOpen}) {
		t.mu.Unlock()
		return
	}
	t.active = c
	t.connected = true
	var others []*conn
	for o := range t.conns {
		if o != c {
			others = append(others, o)
		}
	}
	deadline := t.deadline
	t.deadline = nil
	t.mu.Unlock()

	if deadline != nil {
		deadline.Stop()
	}
	for _, o := range others {
		o.close()
	}
	log.Info().Str("conn", c.id).Bool("outbound", c.outbound).Msg("peer channel open")
	t.Endpoint.SetConnectionState(protocol.Connected)
}

func (t *Transport) connClosed(c *conn) {
	t.mu.Lock()
	if t.conns != nil {
		delete(t.conns, c)
	}
	lost := t.active == c
	if lost {
		t.active = nil
	}
	t.mu.Unlock()

	if lost {
		log.Warn().Str("conn", c.id).Msg("peer channel lost")
		t.Endpoint.SetConnectionState(protocol.Disconnected)
	}
}

// Send writes data to the adopted connection.
func (t *Transport) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	c := t.active
	t.mu.Unlock()
	if c == nil || !c.enqueue(data) {
		return ErrNoPeerConnection
	}
	return nil
}

// Stop closes every connection and the listener and resets the endpoint.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if t.ln == nil {
		t.mu.Unlock()
		t.Endpoint.Detach()
		return nil
	}
	cancel, srv, deadline := t.cancel, t.srv, t.deadline
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.ctx, t.cancel = nil, nil
	t.ln, t.srv = nil, nil
	t.active = nil
	t.deadline = nil
	t.local = ""
	t.mu.Unlock()

	cancel()
	if deadline != nil {
		deadline.Stop()
	}
	for _, c := range conns {
		c.close()
	}
	t.Endpoint.Detach()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	err := srv.Shutdown(ctx)
	t.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to stop peer listener: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
