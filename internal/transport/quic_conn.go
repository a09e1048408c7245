package transport

import (
	"time"

	"github.com/quic-go/quic-go"

	"github.com/clickedinc/axr/internal/protocol"
)

// quicConn wraps a QUIC connection with its control and data streams.
// After a successful handshake, both streams are ready for framed
// message I/O via protocol.WriteMessage / protocol.ReadMessage.
type quicConn struct {
	qconn   *quic.Conn
	control *quic.Stream    // stream 0: auth, setup, requests, events, heartbeat, shutdown
	data    *quic.Stream    // stream 1: user data
	tr      *quic.Transport // keep alive to prevent GC of underlying UDP socket
}

// Close closes both streams and the underlying QUIC connection.
func (c *quicConn) Close() error {
	if c.control != nil {
		c.control.CancelRead(0)
		c.control.Close()
	}
	if c.data != nil {
		c.data.CancelRead(0)
		c.data.Close()
	}
	if c.qconn != nil {
		c.qconn.CloseWithError(0, "closed")
	}
	if c.tr != nil {
		return c.tr.Close()
	}
	return nil
}

func (c *quicConn) WriteControl(msg any) error {
	return protocol.WriteMessage(c.control, msg)
}

func (c *quicConn) ReadControl() (any, error) {
	return protocol.ReadMessage(c.control)
}

func (c *quicConn) WriteData(msg any) error {
	return protocol.WriteMessage(c.data, msg)
}

func (c *quicConn) ReadData() (any, error) {
	return protocol.ReadMessage(c.data)
}

func (c *quicConn) SetControlReadDeadline(t time.Time) error {
	return c.control.SetReadDeadline(t)
}

// ConnectionStats satisfies ProfileableConn.
func (c *quicConn) ConnectionStats() quic.ConnectionStats {
	return c.qconn.ConnectionStats()
}

func exportKeyingMaterial(qconn *quic.Conn) ([]byte, error) {
	state := qconn.ConnectionState()
	return state.TLS.ExportKeyingMaterial(exporterLabel, nil, exporterSize)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		InitialPacketSize: 1200, // Tailscale MTU is 1280; default 1350 gets dropped
	}
}
