package transport

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/protocol"
)

var modes = []DialMode{DialQUIC, DialWebSocket}

// setupConnPair creates a dual listener and dials into it with mode,
// returning both sides.
func setupConnPair(t *testing.T, mode DialMode) (serverConn, clientConn Conn, cleanup func()) {
	t.Helper()

	passkey, err := auth.GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenDual(0, passkey)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	serverDone := make(chan Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		serverDone <- conn
	}()

	cc, err := Dial(ctx, mode, "127.0.0.1", ln.Port(), passkey)
	if err != nil {
		cancel()
		ln.Close()
		t.Fatalf("client dial: %v", err)
	}

	var sc Conn
	select {
	case sc = <-serverDone:
	case err := <-serverErr:
		cancel()
		cc.Close()
		ln.Close()
		t.Fatalf("server accept: %v", err)
	case <-ctx.Done():
		cancel()
		cc.Close()
		ln.Close()
		t.Fatal("timeout waiting for server accept")
	}

	return sc, cc, func() {
		cancel()
		sc.Close()
		cc.Close()
		ln.Close()
	}
}

func TestConnectAndAuthenticate(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			sc, _, cleanup := setupConnPair(t, mode)
			defer cleanup()

			_, isQUIC := sc.(ProfileableConn)
			if isQUIC != (mode == DialQUIC) {
				t.Fatalf("server conn %T does not match dial mode %v", sc, mode)
			}
		})
	}
}

func TestBidirectionalUserData(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			serverConn, clientConn, cleanup := setupConnPair(t, mode)
			defer cleanup()

			clientPayload := []byte("hello from client")
			if err := clientConn.WriteData(&protocol.UserData{
				Size:    uint32(len(clientPayload)),
				Payload: clientPayload,
			}); err != nil {
				t.Fatalf("client write data: %v", err)
			}

			msg, err := serverConn.ReadData()
			if err != nil {
				t.Fatalf("server read data: %v", err)
			}
			got, err := msg.(*protocol.UserData).Data()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, clientPayload) {
				t.Fatalf("data mismatch: %q", got)
			}

			serverPayload := bytes.Repeat([]byte("hello from server "), 64)
			ud, err := protocol.NewUserData(serverPayload, protocol.CompressionZstd)
			if err != nil {
				t.Fatal(err)
			}
			if err := serverConn.WriteData(ud); err != nil {
				t.Fatalf("server write data: %v", err)
			}

			msg, err = clientConn.ReadData()
			if err != nil {
				t.Fatalf("client read data: %v", err)
			}
			got, err = msg.(*protocol.UserData).Data()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, serverPayload) {
				t.Fatalf("data mismatch: %d bytes", len(got))
			}
		})
	}
}

func TestControlMessages(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			serverConn, clientConn, cleanup := setupConnPair(t, mode)
			defer cleanup()

			if err := clientConn.WriteControl(&protocol.Request{Kind: protocol.RequestPlay}); err != nil {
				t.Fatalf("write request: %v", err)
			}
			msg, err := serverConn.ReadControl()
			if err != nil {
				t.Fatalf("read request: %v", err)
			}
			if req := msg.(*protocol.Request); req.Kind != protocol.RequestPlay {
				t.Fatalf("request mismatch: %v", req.Kind)
			}

			ts := time.Now().UnixMilli()
			if err := serverConn.WriteControl(&protocol.Heartbeat{TimestampMs: ts}); err != nil {
				t.Fatalf("write heartbeat: %v", err)
			}
			msg, err = clientConn.ReadControl()
			if err != nil {
				t.Fatalf("read heartbeat: %v", err)
			}
			if hb := msg.(*protocol.Heartbeat); hb.TimestampMs != ts {
				t.Fatalf("heartbeat mismatch: %d vs %d", hb.TimestampMs, ts)
			}
		})
	}
}

func TestControlReadDeadline(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			serverConn, _, cleanup := setupConnPair(t, mode)
			defer cleanup()

			serverConn.SetControlReadDeadline(time.Now().Add(100 * time.Millisecond))
			start := time.Now()
			if _, err := serverConn.ReadControl(); err == nil {
				t.Fatal("expected deadline error")
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Fatalf("deadline fired late: %v", elapsed)
			}
		})
	}
}

func TestWrongPasskeyRejected(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			serverPasskey, err := auth.GeneratePasskey()
			if err != nil {
				t.Fatal(err)
			}
			wrongPasskey, err := auth.GeneratePasskey()
			if err != nil {
				t.Fatal(err)
			}

			ln, err := ListenDual(0, serverPasskey)
			if err != nil {
				t.Fatal(err)
			}
			defer ln.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			serverErr := make(chan error, 1)
			go func() {
				_, err := ln.Accept(ctx)
				serverErr <- err
			}()

			if _, err := Dial(ctx, mode, "127.0.0.1", ln.Port(), wrongPasskey); err == nil {
				t.Fatal("expected auth error, got nil")
			}

			select {
			case err := <-serverErr:
				if err == nil {
					t.Fatal("server should have rejected auth")
				}
				if IsClosed(err) {
					t.Fatalf("auth failure reported as closed listener: %v", err)
				}
			case <-ctx.Done():
				t.Fatal("timeout waiting for server rejection")
			}
		})
	}
}

func TestListenerSurvivesFailedHandshake(t *testing.T) {
	passkey, err := auth.GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}
	wrongPasskey, err := auth.GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenDual(0, passkey)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted := make(chan Conn, 1)
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err == nil {
				accepted <- conn
				return
			}
			if IsClosed(err) {
				return
			}
		}
	}()

	if _, err := Dial(ctx, DialWebSocket, "127.0.0.1", ln.Port(), wrongPasskey); err == nil {
		t.Fatal("expected auth error")
	}
	cc, err := Dial(ctx, DialWebSocket, "127.0.0.1", ln.Port(), passkey)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer cc.Close()

	select {
	case sc := <-accepted:
		sc.Close()
	case <-ctx.Done():
		t.Fatal("listener stopped accepting after a failed handshake")
	}
}

func TestConcurrentControlAndData(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			serverConn, clientConn, cleanup := setupConnPair(t, mode)
			defer cleanup()

			done := make(chan error, 2)

			go func() {
				for i := range 10 {
					if err := clientConn.WriteControl(&protocol.Heartbeat{
						TimestampMs: int64(i),
					}); err != nil {
						done <- err
						return
					}
				}
				done <- nil
			}()

			go func() {
				for i := range 10 {
					payload := []byte{byte(i)}
					if err := clientConn.WriteData(&protocol.UserData{
						Size:    1,
						Payload: payload,
					}); err != nil {
						done <- err
						return
					}
				}
				done <- nil
			}()

			for range 2 {
				if err := <-done; err != nil {
					t.Fatalf("send error: %v", err)
				}
			}

			for i := range 10 {
				msg, err := serverConn.ReadControl()
				if err != nil {
					t.Fatalf("read control %d: %v", i, err)
				}
				if hb := msg.(*protocol.Heartbeat); hb.TimestampMs != int64(i) {
					t.Fatalf("heartbeat %d: got timestamp %d", i, hb.TimestampMs)
				}
			}

			for i := range 10 {
				msg, err := serverConn.ReadData()
				if err != nil {
					t.Fatalf("read data %d: %v", i, err)
				}
				if ud := msg.(*protocol.UserData); ud.Payload[0] != byte(i) {
					t.Fatalf("data %d: got %d", i, ud.Payload[0])
				}
			}
		})
	}
}

// TestDataStreamAnnounceTimeout verifies that a client which authenticates
// and opens a data stream but never announces it is dropped after the
// announce deadline.
func TestDataStreamAnnounceTimeout(t *testing.T) {
	passkey, err := auth.GeneratePasskey()
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenQUIC(0, passkey)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acceptErr := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		acceptErr <- err
	}()

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatalf("listen UDP: %v", err)
	}
	defer udpConn.Close()

	tr := &quic.Transport{Conn: udpConn}
	defer tr.Close()

	serverAddr, err := net.ResolveUDPAddr("udp4",
		net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}

	qconn, err := tr.Dial(ctx, serverAddr, ClientTLSConfig(), quicConfig())
	if err != nil {
		t.Fatalf("QUIC dial: %v", err)
	}
	defer qconn.CloseWithError(0, "test done")

	controlStream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open control stream: %v", err)
	}

	material, err := exportKeyingMaterial(qconn)
	if err != nil {
		t.Fatalf("export keying material: %v", err)
	}
	token := auth.ComputeAuthToken(passkey, material)
	if err := protocol.WriteMessage(controlStream, &protocol.AuthRequest{Token: token}); err != nil {
		t.Fatalf("write auth request: %v", err)
	}
	if err := readAuthResponse(controlStream); err != nil {
		t.Fatal(err)
	}

	// A single byte makes the stream visible to the server but is not a
	// complete frame header.
	dataStream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		t.Fatalf("open data stream: %v", err)
	}
	if _, err := dataStream.Write([]byte{0x00}); err != nil {
		t.Fatalf("write partial data: %v", err)
	}

	start := time.Now()
	select {
	case err := <-acceptErr:
		elapsed := time.Since(start)
		if err == nil {
			t.Fatal("expected Accept to fail, got nil error")
		}
		if elapsed < 4*time.Second {
			t.Fatalf("Accept returned too quickly (%v), expected ~5s deadline", elapsed)
		}
		if elapsed > 8*time.Second {
			t.Fatalf("Accept took too long (%v), expected ~5s deadline", elapsed)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout: Accept did not return within 10s")
	}
}

func TestParseDialMode(t *testing.T) {
	tests := []struct {
		in      string
		want    DialMode
		wantErr bool
	}{
		{"", DialQUIC, false},
		{"quic", DialQUIC, false},
		{"websocket", DialWebSocket, false},
		{"ws", DialWebSocket, false},
		{"tcp", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDialMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDialMode(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseDialMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
