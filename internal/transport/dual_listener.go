package transport

import (
	"context"
	"fmt"
)

// dualListener accepts connections from both QUIC (UDP) and WebSocket
// (TCP+TLS) listeners on the same port number. Accept() returns whichever
// connection arrives first.
type dualListener struct {
	quic *quicListener
	ws   *wsListener
	port int

	// connCh receives authenticated connections from both accept loops.
	connCh chan acceptRes
	// cancel stops both accept loops on Close.
	cancel context.CancelFunc
}

type acceptRes struct {
	conn Conn
	err  error
}

// ListenDual creates both a QUIC and a WebSocket listener on the same port.
// Bind order: QUIC first (gets random port from OS), then TCP on the same port.
func ListenDual(port int, passkey []byte) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	ql, err := listenQUIC(port, passkey, cert)
	if err != nil {
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	// UDP and TCP don't conflict.
	wl, err := listenWebSocket(ql.Port(), passkey, cert)
	if err != nil {
		ql.Close()
		return nil, fmt.Errorf("WebSocket listen on port %d: %w", ql.Port(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dl := &dualListener{
		quic:   ql,
		ws:     wl,
		port:   ql.Port(),
		connCh: make(chan acceptRes, 4),
		cancel: cancel,
	}

	go dl.acceptLoop(ctx, ql)
	go dl.acceptLoop(ctx, wl)

	return dl, nil
}

// acceptLoop forwards every result from l, including failed handshakes,
// until l shuts down.
func (dl *dualListener) acceptLoop(ctx context.Context, l Listener) {
	for {
		conn, err := l.Accept(ctx)
		select {
		case dl.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil && IsClosed(err) {
			return
		}
	}
}

// Accept returns the next authenticated connection from either transport.
func (dl *dualListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-dl.connCh:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Port returns the port number both listeners are bound to.
func (dl *dualListener) Port() int {
	return dl.port
}

// Close shuts down both listeners.
func (dl *dualListener) Close() error {
	dl.cancel()
	wsErr := dl.ws.Close()
	quicErr := dl.quic.Close()
	if quicErr != nil {
		return quicErr
	}
	return wsErr
}
