package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// DialMode selects which transport to use when dialing.
type DialMode int

const (
	DialQUIC DialMode = iota
	DialWebSocket
)

func (m DialMode) String() string {
	switch m {
	case DialQUIC:
		return "quic"
	case DialWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// ParseDialMode parses the names printed by String. "ws" is accepted as a
// short form of "websocket".
func ParseDialMode(s string) (DialMode, error) {
	switch s {
	case "quic", "":
		return DialQUIC, nil
	case "websocket", "ws":
		return DialWebSocket, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", s)
	}
}

// Conn is the transport-level link between a client and a streamer.
// Control messages (auth, setup, requests, events, heartbeats) and user
// data travel on separate streams so a large user-data payload never
// delays a heartbeat.
type Conn interface {
	ReadControl() (any, error)
	WriteControl(msg any) error
	ReadData() (any, error)
	WriteData(msg any) error
	SetControlReadDeadline(t time.Time) error
	Close() error
}

// Listener accepts authenticated transport connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Port() int
	Close() error
}

// ProfileableConn is an optional interface for connections that can
// provide QUIC-level connection statistics.
type ProfileableConn interface {
	ConnectionStats() quic.ConnectionStats
}

// Dial connects to a streamer with the given transport, authenticates with
// passkey, and returns a Conn with both streams ready.
func Dial(ctx context.Context, mode DialMode, host string, port int, passkey []byte) (Conn, error) {
	switch mode {
	case DialQUIC:
		return dialQUIC(ctx, host, port, passkey)
	case DialWebSocket:
		return dialWebSocket(ctx, host, port, passkey)
	default:
		return nil, fmt.Errorf("unsupported dial mode %d", mode)
	}
}

// IsClosed reports whether err means the listener has shut down, as
// opposed to a single client failing its handshake.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, quic.ErrServerClosed) ||
		errors.Is(err, context.Canceled)
}
