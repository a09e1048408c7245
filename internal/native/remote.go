package native

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/render"
	"github.com/clickedinc/axr/internal/transport"
)

const (
	heartbeatInterval  = 5 * time.Second
	recvTimeout        = 15 * time.Second
	defaultDialTimeout = 10 * time.Second
	commandBacklog     = 16
)

var (
	ErrClosed     = errors.New("native: session closed")
	ErrNotLinked  = errors.New("native: no active link")
	ErrLinkActive = errors.New("native: link already active")
	ErrBusy       = errors.New("native: link command backlog full")
)

// DialFunc opens an authenticated link. transport.Dial is the default.
type DialFunc func(ctx context.Context, mode transport.DialMode, host string, port int, passkey []byte) (transport.Conn, error)

// Config holds Remote configuration.
type Config struct {
	Transport   transport.DialMode
	Passkey     []byte
	Setup       protocol.SetupProfile
	Compression protocol.CompressionTag

	// RenderOnTexture and ClearColor are packed into every render event.
	RenderOnTexture bool
	ClearColor      bool

	QueueCapacity int
	DialTimeout   time.Duration
	Dial          DialFunc

	// Profile logs QUIC link statistics every heartbeat and a summary when
	// the link ends. ProfileDir, if set, also receives the summary as JSON.
	Profile    bool
	ProfileDir string

	Logger *zap.Logger
}

// Remote is the reference native session. Each RequestConnect starts a link
// goroutine that owns one transport connection: it is the only producer of
// the event queue, and it raises Disconnected when the link ends for any
// reason other than Close.
//
// Request methods run on the engine thread.
type Remote struct {
	cfg    Config
	log    *zap.Logger
	events *EventQueue
	rt     renderThread

	timeWarp atomix.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	link   *linkHandle
	nextID uint64
	closed bool
}

type linkHandle struct {
	id   uint64
	cmds chan linkCommand
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
}

func (h *linkHandle) active() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type commandKind int

const (
	cmdRequest commandKind = iota
	cmdUserData
)

type linkCommand struct {
	kind    commandKind
	request protocol.RequestKind
	data    []byte
}

// NewRemote returns an idle Remote. No connection is made until
// RequestConnect.
func NewRemote(cfg Config) *Remote {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, mode transport.DialMode, host string, port int, passkey []byte) (transport.Conn, error) {
			return transport.Dial(ctx, mode, host, port, passkey)
		}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Remote{
		cfg:    cfg,
		log:    logger.With(zap.String("component", "native")),
		events: NewEventQueue(cfg.QueueCapacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Remote) CheckMessageQueue() (uint64, []byte, bool) {
	return r.events.CheckMessageQueue()
}

func (r *Remote) RemoveFirstMessage() {
	r.events.RemoveFirstMessage()
}

// RequestConnect starts a link to addr. The result arrives as Connected /
// SetupResponded events from the streamer, or as Disconnected.
func (r *Remote) RequestConnect(addr address.LinkAddress) error {
	if r.closed {
		return ErrClosed
	}
	if r.link != nil && r.link.active() {
		return ErrLinkActive
	}
	r.nextID++
	h := &linkHandle{
		id:   r.nextID,
		cmds: make(chan linkCommand, commandBacklog),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.link = h
	r.wg.Add(1)
	go r.runLink(h, addr)
	return nil
}

// RequestDisconnect ends the active link. Disconnected follows.
func (r *Remote) RequestDisconnect() {
	if r.link == nil {
		return
	}
	h := r.link
	h.stopOnce.Do(func() { close(h.stop) })
}

func (r *Remote) RequestPlay() error {
	return r.send(linkCommand{kind: cmdRequest, request: protocol.RequestPlay})
}

func (r *Remote) RequestStop() error {
	return r.send(linkCommand{kind: cmdRequest, request: protocol.RequestStop})
}

func (r *Remote) PrepareRender() error {
	return r.send(linkCommand{kind: cmdRequest, request: protocol.RequestPrepareRender})
}

// RequestSendUserData queues a copy of data for the server application.
func (r *Remote) RequestSendUserData(data []byte) error {
	return r.send(linkCommand{kind: cmdUserData, data: append([]byte(nil), data...)})
}

func (r *Remote) send(c linkCommand) error {
	if r.closed {
		return ErrClosed
	}
	if r.link == nil || !r.link.active() {
		return ErrNotLinked
	}
	select {
	case r.link.cmds <- c:
		return nil
	default:
		return ErrBusy
	}
}

func (r *Remote) EnableNetworkTimeWarp(enable bool) {
	var v uint32
	if enable {
		v = 1
	}
	r.timeWarp.Store(v)
}

// NetworkTimeWarp reports the last value passed to EnableNetworkTimeWarp.
func (r *Remote) NetworkTimeWarp() bool {
	return r.timeWarp.Load() != 0
}

func (r *Remote) Volumetric() bool {
	return r.cfg.Setup.Volumetric
}

func (r *Remote) RenderVideoFrame(cmd render.RenderCommand, t render.FrameType) {
	cmd.Issue(render.PluginEvent{
		ID:  render.EventRenderVideoFrame,
		Arg: render.EventArg(t, r.cfg.ClearColor, r.cfg.RenderOnTexture),
	})
}

func (r *Remote) RenderVolume(cmd render.RenderCommand, t render.FrameType, data *render.EyeDescriptor) {
	cmd.Issue(render.PluginEvent{
		ID:   render.EventRenderVolume,
		Arg:  render.EventArg(t, r.cfg.ClearColor, r.cfg.RenderOnTexture),
		Data: data,
	})
}

func (r *Remote) EndRenderVideoFrame() {
	r.rt.IssuePluginEvent(render.PluginEvent{ID: render.EventEndRenderVideoFrame})
}

func (r *Remote) RenderThread() render.RenderThread {
	return &r.rt
}

// Stats returns render thread counters. Safe from any goroutine.
func (r *Remote) Stats() RenderStats {
	return r.rt.stats()
}

// Close stops the active link without raising Disconnected and waits for
// its goroutine to exit.
func (r *Remote) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	r.wg.Wait()
	r.events.Close()
	return nil
}
