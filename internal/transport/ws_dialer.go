package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/protocol"
)

func dialWebSocket(ctx context.Context, host string, port int, passkey []byte) (*wsConn, error) {
	u := url.URL{
		Scheme: "wss",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   webSocketPath,
	}
	dialer := websocket.Dialer{
		TLSClientConfig:  webSocketClientTLSConfig(),
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial %s: %w", u.String(), err)
	}

	// The handshake reads below honour the caller's deadline.
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}

	sess, err := smux.Client(newWSStream(ws), smuxConfig())
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("smux client: %w", err)
	}

	conn, err := performWebSocketAuth(sess, passkey)
	if err != nil {
		sess.Close()
		ws.Close()
		return nil, err
	}
	ws.SetReadDeadline(time.Time{})

	conn.ws = ws
	conn.sess = sess
	return conn, nil
}

func performWebSocketAuth(sess *smux.Session, passkey []byte) (*wsConn, error) {
	controlStream, err := sess.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	msg, err := protocol.ReadMessage(controlStream)
	if err != nil {
		return nil, fmt.Errorf("read auth challenge: %w", err)
	}
	challenge, ok := msg.(*protocol.AuthChallenge)
	if !ok {
		return nil, fmt.Errorf("expected AuthChallenge, got %T", msg)
	}

	token := auth.ComputeAuthToken(passkey, challenge.Nonce[:])
	if err := protocol.WriteMessage(controlStream, &protocol.AuthRequest{Token: token}); err != nil {
		return nil, fmt.Errorf("write auth request: %w", err)
	}
	if err := readAuthResponse(controlStream); err != nil {
		return nil, err
	}

	dataStream, err := sess.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("open data stream: %w", err)
	}
	if err := protocol.WriteMessage(dataStream, &protocol.Heartbeat{
		TimestampMs: time.Now().UnixMilli(),
	}); err != nil {
		return nil, fmt.Errorf("announce data stream: %w", err)
	}

	return &wsConn{control: controlStream, data: dataStream}, nil
}
