package peer

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const qrSize = 320

func (t *Transport) newServer() *http.Server {
	router := httprouter.New()
	router.GET("/peer", t.servePeer)
	router.GET("/offer", t.serveOffer)
	router.GET("/offer.png", t.serveOfferQR)
	router.GET("/healthz", serveHealth)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: t.cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Handler:           h2c.NewHandler(c.Handler(router), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (t *Transport) servePeer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("peer upgrade failed")
		return
	}
	c := newConn(uuid.NewString(), ws, false, t.cfg)
	if !t.register(c) {
		ws.Close()
		return
	}
	log.Debug().Str("conn", c.id).Str("remote", r.RemoteAddr).Msg("peer connection accepted")
}

// localDescription returns the last description this side produced.
func (t *Transport) localDescription() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *Transport) serveOffer(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	d := t.localDescription()
	if d == "" {
		http.Error(w, "no description yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(d)); err != nil {
		log.Debug().Err(err).Msg("failed to write description")
	}
}

func (t *Transport) serveOfferQR(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	d := t.localDescription()
	if d == "" {
		http.Error(w, "no description yet", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(d, qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode description QR")
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Msg("failed to write description QR")
	}
}

func serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Debug().Err(err).Msg("failed to write health check response")
	}
}

// gather lists the URLs the peer can dial, bounded by GatherTimeout.
func (t *Transport) gather(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	ln := t.ln
	t.mu.Unlock()
	if ln == nil {
		return nil, ErrNoCandidates
	}

	type result struct {
		urls []string
		err  error
	}
	out := make(chan result, 1)
	go func() {
		urls, err := candidateURLs(ln.Addr(), t.cfg.PublicURL)
		out <- result{urls, err}
	}()

	timer := t.clock.NewTimer(t.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case r := <-out:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.urls) == 0 {
			return nil, ErrNoCandidates
		}
		return r.urls, nil
	case <-timer.Chan():
		return nil, ErrGatherTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// candidateURLs advertises the listener on its bound address, or on every
// usable interface address when bound to the unspecified address. Loopback
// candidates go last.
func candidateURLs(addr net.Addr, public string) ([]string, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, ErrNoCandidates
	}
	port := strconv.Itoa(tcp.Port)

	var urls []string
	if public != "" {
		urls = append(urls, public)
	}
	if !tcp.IP.IsUnspecified() {
		return append(urls, peerURL(tcp.IP, port)), nil
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var loopback []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP
		if ip.IsLinkLocalUnicast() || ip.IsMulticast() {
			continue
		}
		if ip.IsLoopback() {
			loopback = append(loopback, peerURL(ip, port))
			continue
		}
		urls = append(urls, peerURL(ip, port))
	}
	return append(urls, loopback...), nil
}

func peerURL(ip net.IP, port string) string {
	return "ws://" + net.JoinHostPort(ip.String(), port) + "/peer"
}
