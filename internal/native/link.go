package native

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
	"github.com/clickedinc/axr/internal/message"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/transport"
)

// exitReason describes why a link's ioLoop exited.
type exitReason int

const (
	exitNetwork   exitReason = iota // connection error / heartbeat timeout
	exitShutdown                    // streamer sent Shutdown
	exitUser                        // RequestDisconnect
	exitCancelled                   // Remote closed
)

func (e exitReason) String() string {
	switch e {
	case exitNetwork:
		return "network"
	case exitShutdown:
		return "shutdown"
	case exitUser:
		return "user"
	case exitCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// runLink owns one link from dial to teardown. done is closed before
// Disconnected is queued, so a RequestConnect made in response to that event
// never sees the old link as active.
func (r *Remote) runLink(h *linkHandle, addr address.LinkAddress) {
	defer r.wg.Done()
	log := r.log.With(zap.Uint64("link", h.id), zap.Stringer("addr", addr))

	reason := r.connect(h, addr, log)
	close(h.done)

	if reason == exitCancelled {
		return
	}
	log.Info("link closed", zap.Stringer("reason", reason))
	r.pushEvent(h.id, message.Event(message.SourceSession, message.NameDisconnected))
}

func (r *Remote) connect(h *linkHandle, addr address.LinkAddress, log *zap.Logger) exitReason {
	dialCtx, cancel := context.WithTimeout(r.ctx, r.cfg.DialTimeout)
	conn, err := r.cfg.Dial(dialCtx, r.cfg.Transport, addr.Host, addr.Port, r.cfg.Passkey)
	cancel()
	if err != nil {
		if r.ctx.Err() != nil {
			return exitCancelled
		}
		log.Warn("link dial failed", zap.Stringer("transport", r.cfg.Transport), zap.Error(err))
		return exitNetwork
	}
	defer conn.Close()

	if err := conn.WriteControl(&protocol.Setup{Profile: r.cfg.Setup}); err != nil {
		log.Warn("send setup failed", zap.Error(err))
		return exitNetwork
	}
	log.Debug("link established", zap.Stringer("transport", r.cfg.Transport))

	var prof *linkProfile
	if r.cfg.Profile {
		prof = newLinkProfile(conn, addr, r.cfg.ProfileDir)
		defer prof.summary(log)
	}

	reason := r.ioLoop(h, conn, prof, log)
	if reason == exitUser || reason == exitCancelled {
		conn.WriteControl(&protocol.Shutdown{}) // best-effort
	}
	return reason
}

// ioLoop is the per-link event loop. It blocks until the link fails, the
// streamer shuts down, RequestDisconnect is called, or the Remote is closed.
func (r *Remote) ioLoop(h *linkHandle, conn transport.Conn, prof *linkProfile, log *zap.Logger) exitReason {
	done := make(chan struct{})
	defer close(done)

	controlCh := make(chan streamResult, 4)
	dataCh := make(chan streamResult, 4)
	go readStreamLoop(conn.ReadControl, controlCh, done)
	go readStreamLoop(conn.ReadData, dataCh, done)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	lastRecv := time.Now()

	for {
		select {
		case res := <-controlCh:
			if res.err != nil {
				return exitNetwork
			}
			lastRecv = time.Now()
			switch m := res.msg.(type) {
			case *protocol.Heartbeat:
			case *protocol.Shutdown:
				return exitShutdown
			case *protocol.Event:
				if err := r.events.Push(r.ctx, Event{Source: h.id, Data: m.Payload}); err != nil {
					return exitCancelled
				}
			default:
				log.Debug("unexpected control message", zap.String("type", fmt.Sprintf("%T", m)))
			}

		case res := <-dataCh:
			if res.err != nil {
				// The data stream may fail before the control reader has
				// delivered a Shutdown that preceded it.
				if drainForShutdown(controlCh) {
					return exitShutdown
				}
				return exitNetwork
			}
			lastRecv = time.Now()
			ud, ok := res.msg.(*protocol.UserData)
			if !ok {
				continue
			}
			data, err := ud.Data()
			if err != nil {
				log.Warn("dropping user data", zap.Stringer("compression", ud.Compression), zap.Error(err))
				continue
			}
			if !r.pushEvent(h.id, message.UserData(data)) {
				return exitCancelled
			}

		case c := <-h.cmds:
			if err := r.execute(conn, c); err != nil {
				log.Warn("link write failed", zap.Error(err))
				return exitNetwork
			}

		case <-h.stop:
			return exitUser

		case <-heartbeat.C:
			if err := conn.WriteControl(&protocol.Heartbeat{
				TimestampMs: time.Now().UnixMilli(),
			}); err != nil {
				return exitNetwork
			}
			if since := time.Since(lastRecv); since > recvTimeout {
				log.Warn("heartbeat timeout", zap.Duration("since_last_recv", since))
				return exitNetwork
			}
			prof.sample(log)

		case <-r.ctx.Done():
			return exitCancelled
		}
	}
}

func (r *Remote) execute(conn transport.Conn, c linkCommand) error {
	switch c.kind {
	case cmdRequest:
		return conn.WriteControl(&protocol.Request{Kind: c.request})
	case cmdUserData:
		msg, err := protocol.NewUserData(c.data, r.cfg.Compression)
		if err != nil {
			return err
		}
		return conn.WriteData(msg)
	}
	return nil
}

// pushEvent encodes msg and queues it. It reports false only when the Remote
// is closing.
func (r *Remote) pushEvent(source uint64, msg message.Message) bool {
	data, err := message.Encode(msg)
	if err != nil {
		r.log.Error("encode event", zap.Stringer("message", msg), zap.Error(err))
		return true
	}
	return r.events.Push(r.ctx, Event{Source: source, Data: data}) == nil
}

// streamResult carries a message or error from a stream reader goroutine.
type streamResult struct {
	msg any
	err error
}

// readStreamLoop reads messages from a stream and sends them to ch until a
// read fails or done is closed.
func readStreamLoop(readFn func() (any, error), ch chan<- streamResult, done <-chan struct{}) {
	for {
		msg, err := readFn()
		select {
		case ch <- streamResult{msg: msg, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drainForShutdown checks the control channel for a buffered Shutdown message.
func drainForShutdown(controlCh <-chan streamResult) bool {
	select {
	case res := <-controlCh:
		if res.err == nil {
			if _, ok := res.msg.(*protocol.Shutdown); ok {
				return true
			}
		}
	case <-time.After(100 * time.Millisecond):
	}
	return false
}
