package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/coopblocks/go/internal/coop/board"
	"github.com/mcdev12/coopblocks/go/internal/coop/controller"
	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
	"github.com/mcdev12/coopblocks/go/internal/coop/signaling"
	"github.com/mcdev12/coopblocks/go/internal/relaystore"
)

type handler struct {
	mu     sync.Mutex
	inputs []controller.Action
	slots  []board.Slot
}

func (h *handler) ApplyRemoteInput(slot board.Slot, a controller.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = append(h.inputs, a)
	h.slots = append(h.slots, slot)
}

func (h *handler) ApplyRemoteState(protocol.State, protocol.Mode) {}

func (h *handler) received() ([]controller.Action, []board.Slot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]controller.Action(nil), h.inputs...), append([]board.Slot(nil), h.slots...)
}

func testConfig(id string) Config {
	cfg := DefaultConfig(id)
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HandshakeTimeout = 10 * time.Second
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTransport(t *testing.T, id string, role protocol.Role, clock clockwork.Clock) (*Transport, *handler) {
	t.Helper()
	tr := New(testConfig(id), clock)
	h := &handler{}
	if err := tr.Start(context.Background(), h, role); err != nil {
		t.Fatalf("Start(%s): %v", role, err)
	}
	t.Cleanup(func() { _ = tr.Stop() })
	return tr, h
}

func connectManually(t *testing.T) (*Transport, *handler, *Transport, *handler) {
	t.Helper()
	ctx := context.Background()
	host, hh := startTransport(t, "host-id", protocol.Host, nil)
	guest, gh := startTransport(t, "guest-id", protocol.Guest, nil)

	offer, err := host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := guest.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := host.AcceptAnswer(ctx, answer); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}

	eventually(t, "both sides connected", func() bool {
		return host.ConnectionState() == protocol.Connected && guest.ConnectionState() == protocol.Connected
	})
	return host, hh, guest, gh
}

func TestManualSignalingConnects(t *testing.T) {
	host, hh, guest, _ := connectManually(t)
	ctx := context.Background()

	seeds := make(chan int64, 1)
	guest.WaitForSeed(func(s int64) { seeds <- s })
	if err := host.BroadcastSeed(ctx, 99); err != nil {
		t.Fatalf("BroadcastSeed: %v", err)
	}
	select {
	case s := <-seeds:
		if s != 99 {
			t.Fatalf("seed = %d, want 99", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("seed not delivered")
	}

	want := []controller.Action{controller.ActionMoveRight, controller.ActionSoftDrop, controller.ActionHold}
	for _, a := range want {
		if err := guest.SendInput(ctx, a); err != nil {
			t.Fatalf("SendInput: %v", err)
		}
	}
	eventually(t, "inputs at host", func() bool {
		inputs, _ := hh.received()
		return len(inputs) == len(want)
	})
	inputs, slots := hh.received()
	for i := range want {
		if inputs[i] != want[i] || slots[i] != board.Slot2 {
			t.Fatalf("input %d = %s from %s, want %s from P2", i, inputs[i], slots[i], want[i])
		}
	}
}

func TestInputsQueuedBeforeConnectFlush(t *testing.T) {
	ctx := context.Background()
	host, hh := startTransport(t, "host-id", protocol.Host, nil)
	guest, _ := startTransport(t, "guest-id", protocol.Guest, nil)

	if err := guest.SendInput(ctx, controller.ActionRotate); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if guest.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", guest.Pending())
	}

	offer, err := host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := guest.AcceptOffer(ctx, offer); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	eventually(t, "queued input delivered", func() bool {
		inputs, _ := hh.received()
		return len(inputs) == 1 && inputs[0] == controller.ActionRotate
	})
}

func TestMalformedDescriptionsAreRejected(t *testing.T) {
	ctx := context.Background()
	host, _ := startTransport(t, "host-id", protocol.Host, nil)
	guest, _ := startTransport(t, "guest-id", protocol.Guest, nil)

	if _, err := guest.AcceptOffer(ctx, "not json"); !errors.Is(err, signaling.ErrInvalidDescription) {
		t.Fatalf("AcceptOffer(non-JSON) err = %v", err)
	}
	if _, err := guest.AcceptOffer(ctx, `{"type":"answer","sdp":"v=0"}`); !errors.Is(err, signaling.ErrInvalidDescription) {
		t.Fatalf("AcceptOffer(answer) err = %v", err)
	}
	if _, err := guest.AcceptOffer(ctx, `{"type":"offer","sdp":"v=0\r\n"}`); !errors.Is(err, signaling.ErrInvalidDescription) {
		t.Fatalf("AcceptOffer(no token) err = %v", err)
	}
	if err := host.AcceptAnswer(ctx, `{"sdp":"v=0"}`); !errors.Is(err, signaling.ErrInvalidDescription) {
		t.Fatalf("AcceptAnswer(no type) err = %v", err)
	}
	if _, err := guest.CreateOffer(ctx); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("guest CreateOffer err = %v, want ErrWrongRole", err)
	}
	if guest.ConnectionState() != protocol.Connecting {
		t.Fatalf("guest state = %s, want connecting", guest.ConnectionState())
	}
}

func TestCreateOfferBeforeStart(t *testing.T) {
	tr := New(testConfig("host-id"), nil)
	if _, err := tr.CreateOffer(context.Background()); !errors.Is(err, protocol.ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestHandshakeDeadlineFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr, _ := startTransport(t, "host-id", protocol.Host, clock)

	clock.Advance(testConfig("").HandshakeTimeout)
	eventually(t, "failed state", func() bool {
		return tr.ConnectionState() == protocol.Failed
	})
}

func TestUnknownTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	host, _ := startTransport(t, "host-id", protocol.Host, nil)
	if _, err := host.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+host.Addr().String()+"/peer", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	hello, _ := json.Marshal(frame{Type: frameHello, Session: "bogus", Token: "bogus"})
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("host kept a connection with a bad token open")
			}
			break
		}
	}
	if host.ConnectionState() != protocol.Connecting {
		t.Fatalf("host state = %s, want connecting", host.ConnectionState())
	}
}

func TestChannelLossDisconnects(t *testing.T) {
	host, _, guest, _ := connectManually(t)
	if err := guest.Stop(); err != nil {
		t.Fatalf("guest Stop: %v", err)
	}
	eventually(t, "host disconnected", func() bool {
		return host.ConnectionState() == protocol.Disconnected
	})
}

func TestListenerRoutes(t *testing.T) {
	ctx := context.Background()
	host, _ := startTransport(t, "host-id", protocol.Host, nil)
	base := "http://" + host.Addr().String()

	get := func(path string) (int, []byte) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, body
	}

	if code, body := get("/healthz"); code != http.StatusOK || string(body) != "OK" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, _ := get("/offer"); code != http.StatusNotFound {
		t.Fatalf("/offer before CreateOffer = %d, want 404", code)
	}

	offer, err := host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	code, body := get("/offer")
	if code != http.StatusOK || string(body) != offer {
		t.Fatalf("/offer = %d %q, want %q", code, body, offer)
	}
	if !strings.Contains(offer, host.Addr().String()) {
		t.Fatalf("offer %q does not advertise the listener", offer)
	}

	code, body = get("/offer.png")
	if code != http.StatusOK || !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Fatalf("/offer.png = %d, %d bytes", code, len(body))
	}
}

func TestHybridConnectsThroughRelay(t *testing.T) {
	ctx := context.Background()
	store := relaystore.NewMemoryStore()

	host := NewHybrid(store, "room9", testConfig("host-id"), nil)
	guest := NewHybrid(store, "room9", testConfig("guest-id"), nil)
	hh, gh := &handler{}, &handler{}

	if err := guest.Start(ctx, gh, protocol.Guest); err != nil {
		t.Fatalf("guest Start: %v", err)
	}
	t.Cleanup(func() { _ = guest.Stop() })
	if err := host.Start(ctx, hh, protocol.Host); err != nil {
		t.Fatalf("host Start: %v", err)
	}
	t.Cleanup(func() { _ = host.Stop() })

	eventually(t, "hybrid connected", func() bool {
		return host.ConnectionState() == protocol.Connected && guest.ConnectionState() == protocol.Connected
	})

	if err := host.SendInput(ctx, controller.ActionHardDrop); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	eventually(t, "input at guest", func() bool {
		inputs, slots := gh.received()
		return len(inputs) == 1 && slots[0] == board.Slot1
	})

	if err := host.Stop(); err != nil {
		t.Fatalf("host Stop: %v", err)
	}
	if _, err := store.ReadOnce(ctx, relaystore.Join(signaling.Root, "room9", "offer")); !errors.Is(err, relaystore.ErrNotFound) {
		t.Fatalf("offer after stop: err = %v, want ErrNotFound", err)
	}
}
