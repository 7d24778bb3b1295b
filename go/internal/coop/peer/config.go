package peer

import (
	"time"

	"github.com/mcdev12/coopblocks/go/internal/coop/protocol"
)

// Config holds peer transport settings.
type Config struct {
	SenderID string
	// ListenAddr is where the peer listener binds. An unspecified host
	// advertises every usable interface address.
	ListenAddr string
	// PublicURL, when set, is advertised ahead of the gathered candidates.
	PublicURL      string
	AllowedOrigins []string

	GatherTimeout    time.Duration
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration

	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int

	Endpoint protocol.EndpointConfig
}

// DefaultConfig returns the standard peer settings.
func DefaultConfig(senderID string) Config {
	return Config{
		SenderID:         senderID,
		ListenAddr:       ":0",
		AllowedOrigins:   []string{"*"},
		GatherTimeout:    5 * time.Second,
		HandshakeTimeout: 2 * time.Minute,
		DialTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 << 10,
		SendBuffer:       256,
		Endpoint:         protocol.DefaultEndpointConfig(),
	}
}
