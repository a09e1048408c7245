// Package streamer is a reference streaming server. It speaks the link
// protocol of the native session layer but renders nothing: it answers the
// session handshake, acknowledges play and stop requests, and echoes user data
// back to the client.
package streamer

import (
	"context"
	"fmt"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/message"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/transport"
)

const heartbeatInterval = 5 * time.Second

// Config holds streamer configuration.
type Config struct {
	Port    int
	Passkey []byte

	// NearClip and FarClip are sent to a client once it is playing.
	NearClip float32
	FarClip  float32

	// EchoUserData sends every user-data payload straight back.
	EchoUserData bool
	Compression  protocol.CompressionTag

	// LinkageAddr, if set, serves the enterprise directory endpoint there.
	LinkageAddr string
	// AdvertiseHost is the host handed out by the directory.
	AdvertiseHost string

	Logger *zap.Logger
}

// streamEvent is a tagged message from a link's stream reader goroutine.
// Tagging with the source link lets the select loop discard stale events
// from a replaced link.
type streamEvent struct {
	link   *link
	stream string // "control" or "data"
	msg    any
	err    error
}

type linkState int

const (
	linkAwaitingSetup linkState = iota
	linkReady
	linkPlaying
)

// link is the streamer's view of one connected client.
type link struct {
	id    uuid.UUID
	conn  transport.Conn
	state linkState
	setup protocol.SetupProfile
}

// Streamer serves one link at a time; a new client replaces the current one.
type Streamer struct {
	cfg  Config
	log  *zap.Logger
	ln   transport.Listener
	link *link

	// active is 1 while a client is linked. Read by the directory handler.
	active atomix.Uint32

	// Ready is closed after the listener is bound, with Port set.
	Ready chan struct{}
	Port  int
}

// New creates a streamer but does not start it. Call Run to begin.
func New(cfg Config) *Streamer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FarClip == 0 {
		cfg.NearClip, cfg.FarClip = 0.1, 1000
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = "127.0.0.1"
	}
	return &Streamer{
		cfg:   cfg,
		log:   logger.With(zap.String("component", "streamer")),
		Ready: make(chan struct{}),
	}
}

// Run listens for links on QUIC and WebSocket and serves them until ctx is
// cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	ln, err := transport.ListenDual(s.cfg.Port, s.cfg.Passkey)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln

	defer func() {
		s.closeLink()
		s.ln.Close()
	}()

	s.Port = s.ln.Port()

	if s.cfg.LinkageAddr != "" {
		stop, err := s.serveLinkage(s.cfg.LinkageAddr)
		if err != nil {
			return fmt.Errorf("linkage listen: %w", err)
		}
		defer stop()
	}

	close(s.Ready)
	s.log.Info("streamer listening", zap.Int("port", s.Port))

	acceptCh := make(chan acceptResult, 1)
	go s.acceptOnce(ctx, acceptCh)

	done := make(chan struct{})
	defer close(done)

	streamCh := make(chan streamEvent, 8)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-streamCh:
			s.handleStreamEvent(ev)

		case res := <-acceptCh:
			if res.err != nil {
				if ctx.Err() != nil {
					// ctx.Done is handled below; don't re-arm.
					continue
				}
				if transport.IsClosed(res.err) {
					return fmt.Errorf("accept: %w", res.err)
				}
				// Accept errors are often transient (bad auth, etc.)
				s.log.Warn("accept failed", zap.Error(res.err))
			} else {
				s.handleNewConn(res.conn, streamCh, done)
			}
			go s.acceptOnce(ctx, acceptCh)

		case <-heartbeat.C:
			if s.link != nil {
				if err := s.link.conn.WriteControl(&protocol.Heartbeat{
					TimestampMs: time.Now().UnixMilli(),
				}); err != nil {
					s.log.Info("heartbeat write failed", zap.Error(err))
					s.closeLink()
				}
			}

		case <-ctx.Done():
			// Short delay gives the transport time to flush the Shutdown
			// frame before the deferred close.
			if s.link != nil {
				s.link.conn.WriteControl(&protocol.Shutdown{})
				time.Sleep(50 * time.Millisecond)
			}
			return ctx.Err()
		}
	}
}

// acceptResult carries the result of a single Accept call.
type acceptResult struct {
	conn transport.Conn
	err  error
}

// acceptOnce calls Accept once and sends the result. The main loop re-arms
// it after processing the result.
func (s *Streamer) acceptOnce(ctx context.Context, ch chan<- acceptResult) {
	conn, err := s.ln.Accept(ctx)
	ch <- acceptResult{conn: conn, err: err}
}

// readStream reads framed messages from one stream of l until it fails or
// done is closed.
func readStream(l *link, stream string, ch chan<- streamEvent, done <-chan struct{}) {
	readFn := l.conn.ReadData
	if stream == "control" {
		readFn = l.conn.ReadControl
	}
	for {
		msg, err := readFn()
		select {
		case ch <- streamEvent{link: l, stream: stream, msg: msg, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Streamer) handleNewConn(conn transport.Conn, streamCh chan<- streamEvent, done <-chan struct{}) {
	if s.link != nil {
		s.log.Info("replacing link", zap.Stringer("link", s.link.id))
	}
	s.closeLink()

	l := &link{id: uuid.New(), conn: conn}
	s.link = l
	s.active.Store(1)
	s.log.Info("link accepted", zap.Stringer("link", l.id))

	go readStream(l, "control", streamCh, done)
	go readStream(l, "data", streamCh, done)
}

func (s *Streamer) handleStreamEvent(ev streamEvent) {
	// Discard events from replaced links
	if ev.link != s.link {
		return
	}
	l := ev.link
	log := s.log.With(zap.Stringer("link", l.id))

	if ev.err != nil {
		log.Info("link stream closed", zap.String("stream", ev.stream), zap.Error(ev.err))
		s.closeLink()
		return
	}

	var err error
	switch msg := ev.msg.(type) {
	case *protocol.Setup:
		l.setup = msg.Profile
		l.state = linkReady
		log.Info("setup received",
			zap.String("device", msg.Profile.DeviceID),
			zap.Int("width", msg.Profile.VideoWidth),
			zap.Int("height", msg.Profile.VideoHeight),
			zap.Bool("stereoscopic", msg.Profile.Stereoscopic),
		)
		err = s.sendEvents(l,
			message.Event(message.SourceSession, message.NameConnected),
			message.Event(message.SourceSession, message.NameSetupResponded),
		)

	case *protocol.Request:
		err = s.handleRequest(l, msg.Kind)

	case *protocol.UserData:
		if s.cfg.EchoUserData {
			err = s.echo(l, msg)
		}

	case *protocol.Heartbeat:
		// keepalive only

	case *protocol.Shutdown:
		log.Info("client sent shutdown")
		s.closeLink()
		return

	default:
		log.Debug("unexpected message", zap.String("type", fmt.Sprintf("%T", msg)))
	}

	if err != nil {
		log.Info("link write failed", zap.Error(err))
		s.closeLink()
	}
}

func (s *Streamer) handleRequest(l *link, kind protocol.RequestKind) error {
	if l.state == linkAwaitingSetup {
		s.log.Debug("request before setup ignored", zap.Stringer("kind", kind))
		return nil
	}
	switch kind {
	case protocol.RequestPrepareRender:
		return s.sendEvents(l, message.Event(message.SourceSession, message.NameRenderPrepared))
	case protocol.RequestPlay:
		l.state = linkPlaying
		clip := message.Event(message.SourceMediaStream, message.NameCameraClipPlanes)
		clip.NearClip, clip.FarClip = s.cfg.NearClip, s.cfg.FarClip
		return s.sendEvents(l,
			message.Event(message.SourceSession, message.NamePlayResponded),
			clip,
		)
	case protocol.RequestStop:
		l.state = linkReady
		return s.sendEvents(l, message.Event(message.SourceSession, message.NameStopResponded))
	default:
		s.log.Debug("unknown request", zap.Uint8("kind", uint8(kind)))
		return nil
	}
}

func (s *Streamer) echo(l *link, msg *protocol.UserData) error {
	data, err := msg.Data()
	if err != nil {
		s.log.Warn("dropping user data", zap.Error(err))
		return nil
	}
	out, err := protocol.NewUserData(data, s.cfg.Compression)
	if err != nil {
		return err
	}
	return l.conn.WriteData(out)
}

func (s *Streamer) sendEvents(l *link, msgs ...message.Message) error {
	for _, m := range msgs {
		payload, err := message.Encode(m)
		if err != nil {
			return err
		}
		if err := l.conn.WriteControl(&protocol.Event{Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

// closeLink closes the current link if any.
func (s *Streamer) closeLink() {
	if s.link != nil {
		s.link.conn.Close()
		s.link = nil
	}
	s.active.Store(0)
}
