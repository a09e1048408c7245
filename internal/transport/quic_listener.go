package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/protocol"
)

// announceTimeout bounds how long an authenticated client may take to open
// its data stream.
const announceTimeout = 5 * time.Second

// quicListener wraps a QUIC listener for the streamer side.
type quicListener struct {
	tr      *quic.Transport
	ln      *quic.Listener
	port    int
	passkey []byte
}

// ListenQUIC creates a QUIC-only listener on port (0 picks a random port).
func ListenQUIC(port int, passkey []byte) (Listener, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return listenQUIC(port, passkey, cert)
}

func listenQUIC(port int, passkey []byte, cert tls.Certificate) (*quicListener, error) {
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(ServerTLSConfig(cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}

	return &quicListener{
		tr:      tr,
		ln:      ln,
		port:    udpConn.LocalAddr().(*net.UDPAddr).Port,
		passkey: passkey,
	}, nil
}

func (l *quicListener) Port() int {
	return l.port
}

// Accept waits for and authenticates a new client connection.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	conn, err := l.authenticate(ctx, qconn)
	if err != nil {
		qconn.CloseWithError(1, "auth failed")
		return nil, err
	}
	return conn, nil
}

func (l *quicListener) authenticate(ctx context.Context, qconn *quic.Conn) (*quicConn, error) {
	controlStream, err := qconn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept control stream: %w", err)
	}

	msg, err := protocol.ReadMessage(controlStream)
	if err != nil {
		return nil, fmt.Errorf("read auth request: %w", err)
	}
	authReq, ok := msg.(*protocol.AuthRequest)
	if !ok {
		return nil, fmt.Errorf("expected AuthRequest, got %T", msg)
	}

	material, err := exportKeyingMaterial(qconn)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	if err := verifyAuthRequest(controlStream, l.passkey, material, authReq); err != nil {
		return nil, err
	}

	announceCtx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()
	dataStream, err := qconn.AcceptStream(announceCtx)
	if err != nil {
		return nil, fmt.Errorf("accept data stream: %w", err)
	}
	dataStream.SetReadDeadline(time.Now().Add(announceTimeout))
	msg, err = protocol.ReadMessage(dataStream)
	dataStream.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("read data stream announcement: %w", err)
	}
	if _, ok := msg.(*protocol.Heartbeat); !ok {
		return nil, fmt.Errorf("expected Heartbeat on data stream, got %T", msg)
	}

	return &quicConn{
		qconn:   qconn,
		control: controlStream,
		data:    dataStream,
	}, nil
}

// Close shuts down the listener and underlying transport.
func (l *quicListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}

// verifyAuthRequest checks req against passkey and material and writes the
// matching AuthResponse.
func verifyAuthRequest(w io.Writer, passkey, material []byte, req *protocol.AuthRequest) error {
	if !auth.VerifyAuthToken(passkey, material, req.Token) {
		protocol.WriteMessage(w, &protocol.AuthResponse{Status: protocol.AuthFailed})
		return fmt.Errorf("authentication failed: invalid passkey")
	}
	if err := protocol.WriteMessage(w, &protocol.AuthResponse{Status: protocol.AuthOK}); err != nil {
		return fmt.Errorf("write auth response: %w", err)
	}
	return nil
}

func readAuthResponse(r io.Reader) error {
	msg, err := protocol.ReadMessage(r)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	resp, ok := msg.(*protocol.AuthResponse)
	if !ok {
		return fmt.Errorf("expected AuthResponse, got %T", msg)
	}
	if resp.Status != protocol.AuthOK {
		return fmt.Errorf("authentication rejected: status %d", resp.Status)
	}
	return nil
}
