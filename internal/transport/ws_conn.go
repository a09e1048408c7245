package transport

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"

	"github.com/clickedinc/axr/internal/protocol"
)

// webSocketPath is where the streamer upgrades link connections.
const webSocketPath = "/link"

// wsStream adapts a WebSocket connection to an io.ReadWriteCloser so smux
// can run over it. Each Write is one binary message; Read drains messages
// in order and ignores non-binary frames.
type wsStream struct {
	ws *websocket.Conn
	r  io.Reader

	writeMu sync.Mutex
}

func newWSStream(ws *websocket.Conn) *wsStream {
	return &wsStream{ws: ws}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			mt, r, err := s.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.ws.Close()
}

// wsConn carries the control and data streams as two smux streams over one
// WebSocket, mirroring the two QUIC streams.
type wsConn struct {
	ws      *websocket.Conn
	sess    *smux.Session
	control *smux.Stream
	data    *smux.Stream
}

func (c *wsConn) Close() error {
	if c.control != nil {
		c.control.Close()
	}
	if c.data != nil {
		c.data.Close()
	}
	if c.sess != nil {
		c.sess.Close()
	}
	return c.ws.Close()
}

func (c *wsConn) WriteControl(msg any) error {
	return protocol.WriteMessage(c.control, msg)
}

func (c *wsConn) ReadControl() (any, error) {
	return protocol.ReadMessage(c.control)
}

func (c *wsConn) WriteData(msg any) error {
	return protocol.WriteMessage(c.data, msg)
}

func (c *wsConn) ReadData() (any, error) {
	return protocol.ReadMessage(c.data)
}

func (c *wsConn) SetControlReadDeadline(t time.Time) error {
	return c.control.SetReadDeadline(t)
}

func smuxConfig() *smux.Config {
	conf := smux.DefaultConfig()
	conf.KeepAliveInterval = 5 * time.Second
	conf.KeepAliveTimeout = 30 * time.Second
	return conf
}
