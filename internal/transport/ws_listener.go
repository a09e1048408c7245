package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/protocol"
)

// wsListener serves WebSocket upgrades over TLS and authenticates each
// link with a nonce challenge before handing it to Accept.
type wsListener struct {
	ln      net.Listener
	srv     *http.Server
	port    int
	passkey []byte

	upgrader websocket.Upgrader
	connCh   chan acceptRes
	done     chan struct{}
}

// ListenWebSocket creates a WebSocket-only listener on port (0 picks a
// random port).
func ListenWebSocket(port int, passkey []byte) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenWebSocket(port, passkey, cert)
}

func listenWebSocket(port int, passkey []byte, cert tls.Certificate) (*wsListener, error) {
	ln, err := tls.Listen("tcp4", ":"+strconv.Itoa(port), webSocketServerTLSConfig(cert))
	if err != nil {
		return nil, fmt.Errorf("TLS listen: %w", err)
	}

	l := &wsListener{
		ln:      ln,
		port:    ln.Addr().(*net.TCPAddr).Port,
		passkey: passkey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Links authenticate with the passkey, not the browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connCh: make(chan acceptRes, 4),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(webSocketPath, l.handleUpgrade)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go l.srv.Serve(ln)

	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}

	conn, err := l.authenticate(ws)
	if err != nil {
		ws.Close()
	}
	select {
	case l.connCh <- acceptRes{conn: conn, err: err}:
	case <-l.done:
		if conn != nil {
			conn.Close()
		}
	}
}

func (l *wsListener) authenticate(ws *websocket.Conn) (Conn, error) {
	ws.SetReadDeadline(time.Now().Add(announceTimeout))

	sess, err := smux.Server(newWSStream(ws), smuxConfig())
	if err != nil {
		return nil, fmt.Errorf("smux server: %w", err)
	}

	conn, err := l.handshake(sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	ws.SetReadDeadline(time.Time{})

	conn.ws = ws
	conn.sess = sess
	return conn, nil
}

func (l *wsListener) handshake(sess *smux.Session) (*wsConn, error) {
	controlStream, err := sess.AcceptStream()
	if err != nil {
		return nil, fmt.Errorf("accept control stream: %w", err)
	}

	nonce, err := auth.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	if err := protocol.WriteMessage(controlStream, &protocol.AuthChallenge{Nonce: nonce}); err != nil {
		return nil, fmt.Errorf("write auth challenge: %w", err)
	}

	msg, err := protocol.ReadMessage(controlStream)
	if err != nil {
		return nil, fmt.Errorf("read auth request: %w", err)
	}
	authReq, ok := msg.(*protocol.AuthRequest)
	if !ok {
		return nil, fmt.Errorf("expected AuthRequest, got %T", msg)
	}
	if err := verifyAuthRequest(controlStream, l.passkey, nonce[:], authReq); err != nil {
		return nil, err
	}

	dataStream, err := sess.AcceptStream()
	if err != nil {
		return nil, fmt.Errorf("accept data stream: %w", err)
	}
	msg, err = protocol.ReadMessage(dataStream)
	if err != nil {
		return nil, fmt.Errorf("read data stream announcement: %w", err)
	}
	if _, ok := msg.(*protocol.Heartbeat); !ok {
		return nil, fmt.Errorf("expected Heartbeat on data stream, got %T", msg)
	}

	return &wsConn{control: controlStream, data: dataStream}, nil
}

func (l *wsListener) Port() int {
	return l.port
}

// Accept returns the next authenticated WebSocket link.
func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-l.connCh:
		return res.conn, res.err
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the HTTP server. Links already handed out stay open.
func (l *wsListener) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}
	err := l.srv.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
