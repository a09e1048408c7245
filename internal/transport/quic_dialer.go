package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/protocol"
)

func dialQUIC(ctx context.Context, host string, port int, passkey []byte) (*quicConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}

	// Use a fresh UDP socket for the client
	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, addr, ClientTLSConfig(), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	conn, err := performQUICAuth(ctx, qconn, passkey)
	if err != nil {
		qconn.CloseWithError(1, "auth failed")
		tr.Close()
		return nil, err
	}

	conn.tr = tr
	return conn, nil
}

func performQUICAuth(ctx context.Context, qconn *quic.Conn, passkey []byte) (*quicConn, error) {
	controlStream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	material, err := exportKeyingMaterial(qconn)
	if err != nil {
		return nil, fmt.Errorf("export keying material: %w", err)
	}
	token := auth.ComputeAuthToken(passkey, material)

	if err := protocol.WriteMessage(controlStream, &protocol.AuthRequest{Token: token}); err != nil {
		return nil, fmt.Errorf("write auth request: %w", err)
	}
	if err := readAuthResponse(controlStream); err != nil {
		return nil, err
	}

	// QUIC doesn't send STREAM frames until the first Write, so the data
	// stream is announced with a heartbeat.
	dataStream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open data stream: %w", err)
	}
	if err := protocol.WriteMessage(dataStream, &protocol.Heartbeat{
		TimestampMs: time.Now().UnixMilli(),
	}); err != nil {
		return nil, fmt.Errorf("announce data stream: %w", err)
	}

	return &quicConn{
		qconn:   qconn,
		control: controlStream,
		data:    dataStream,
	}, nil
}
