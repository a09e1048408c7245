// Package client is the application root of a rendering client. It owns the
// native session, the message dispatcher and the link state machine, routes
// session events between them, and hands cameras the state they need to
// submit frames.
//
// A process has at most one Client. Everything but Close runs on the engine
// thread.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
	"github.com/clickedinc/axr/internal/discovery"
	"github.com/clickedinc/axr/internal/dispatch"
	"github.com/clickedinc/axr/internal/link"
	"github.com/clickedinc/axr/internal/message"
	"github.com/clickedinc/axr/internal/native"
	"github.com/clickedinc/axr/internal/profile"
)

var ErrSessionExists = errors.New("client: a session already exists in this process")

// sessions counts live clients. The native layer supports one.
var sessions atomix.Uint32

// LinkageDirectory resolves an enterprise directory endpoint to the address
// of a streamer.
type LinkageDirectory interface {
	GetLinkage(ctx context.Context, endpoint address.LinkAddress) (address.LinkAddress, error)
}

// Hooks are optional application callbacks. They run on the engine thread.
type Hooks struct {
	// PreRequestLink runs just before a link to addr is requested.
	PreRequestLink func(addr address.LinkAddress)
	// Linked runs when the streamer has prepared rendering.
	Linked func()
	// UserData receives opaque data from the server application.
	UserData func(data []byte)
}

// Config holds client configuration. Profile and Session are required.
type Config struct {
	Profile   *profile.Profile
	Session   native.Session
	Directory LinkageDirectory // nil uses a discovery.Client
	Delays    link.DelayPolicy // nil uses link.DefaultDelays
	Hooks     Hooks
	Logger    *zap.Logger
}

type linkageResult struct {
	attempt uint64
	addr    address.LinkAddress
	err     error
}

// Client ties one native session to the link state machine. Tick drives it
// once per engine frame.
type Client struct {
	cfg      Config
	log      *zap.Logger
	prof     *profile.Profile
	platform link.Platform

	session    native.Session
	dispatcher *dispatch.Dispatcher
	machine    *link.StateMachine
	directory  LinkageDirectory
	sub        *dispatch.Subscription

	linkages chan linkageResult
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	focused     bool
	present     bool
	lastLinkage string
	closed      bool
}

// New builds the process's client. It fails with ErrSessionExists while
// another Client is open.
func New(cfg Config) (*Client, error) {
	if cfg.Profile == nil {
		return nil, errors.New("client: profile is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("client: native session is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid profile: %w", err)
	}
	platform, err := cfg.Profile.LinkPlatform()
	if err != nil {
		return nil, err
	}

	if sessions.Add(1) != 1 {
		sessions.Add(^uint32(0))
		return nil, ErrSessionExists
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	directory := cfg.Directory
	if directory == nil {
		directory = discovery.New(nil, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		log:        logger.With(zap.String("component", "client")),
		prof:       cfg.Profile,
		platform:   platform,
		session:    cfg.Session,
		dispatcher: dispatch.New(cfg.Session, logger),
		directory:  directory,
		linkages:   make(chan linkageResult, 4),
		ctx:        ctx,
		cancel:     cancel,
		focused:    true,
		present:    cfg.Profile.UserPresent,
	}
	c.machine = link.New(link.Config{Context: c, Delays: cfg.Delays, Logger: logger})
	c.sub = c.dispatcher.Subscribe(c.route)
	return c, nil
}

// Tick runs once per engine frame: deliver queued native events, apply
// finished linkage lookups, then advance the state machine.
func (c *Client) Tick(dt time.Duration) {
	if c.closed {
		return
	}
	c.dispatcher.Drain() // decode failures are logged by the dispatcher
	c.applyLinkages()
	c.machine.Tick(dt)
}

func (c *Client) applyLinkages() {
	for {
		select {
		case res := <-c.linkages:
			if res.err != nil {
				c.machine.LinkageFailed(res.attempt, res.err)
			} else {
				c.machine.ConnectLinkage(res.attempt, res.addr)
			}
		default:
			return
		}
	}
}

func (c *Client) route(msg message.Message) {
	switch {
	case msg.IsSessionEvent():
		switch msg.Name {
		case message.NameSetupResponded:
			if err := c.session.PrepareRender(); err != nil {
				c.log.Warn("prepare render failed", zap.Error(err))
			}
		case message.NameRenderPrepared:
			c.machine.TriggerLinked()
			if c.cfg.Hooks.Linked != nil {
				c.cfg.Hooks.Linked()
			}
		case message.NamePlayResponded:
			c.machine.TriggerPlayResponded()
		case message.NameDisconnected:
			c.machine.TriggerUnlinked()
		}
	case msg.IsUserData():
		if c.cfg.Hooks.UserData != nil {
			c.cfg.Hooks.UserData(msg.Data)
		}
	}
}

// StartLinking begins linking after delay. A negative delay uses the
// first-request delay.
func (c *Client) StartLinking(delay time.Duration) { c.machine.StartLinking(delay) }

func (c *Client) StopLinking() { c.machine.StopLinking() }

// Unlink drops the current link. The next attempt waits the longer
// user-unlink delay.
func (c *Client) Unlink() {
	c.machine.TriggerUnlinkByUser()
	c.session.RequestDisconnect()
}

func (c *Client) State() link.State { return c.machine.State() }
func (c *Client) Connected() bool   { return c.machine.Connected() }
func (c *Client) Err() error        { return c.machine.Err() }

// Playing reports whether frames should be submitted.
func (c *Client) Playing() bool { return c.machine.State() == link.Playing }

// Subscribe registers h for every message, after the client's own routing.
func (c *Client) Subscribe(h dispatch.Handler) *dispatch.Subscription {
	return c.dispatcher.Subscribe(h)
}

// SendUserData sends opaque data to the server application.
func (c *Client) SendUserData(data []byte) error {
	return c.session.RequestSendUserData(data)
}

// SetFocused records application focus. Losing focus while playing stops
// the stream; regaining it plays again after a short delay.
func (c *Client) SetFocused(focused bool) { c.focused = focused }

func (c *Client) Focused() bool { return c.focused }

// SetUserPresent records whether the headset is worn. Link requests wait
// while the user is absent.
func (c *Client) SetUserPresent(present bool) { c.present = present }

func (c *Client) UserPresent() bool { return c.present }

// LastLinkageAddress is the address of the most recent link request.
func (c *Client) LastLinkageAddress() string { return c.lastLinkage }

// Close stops discovery, closes the native session and releases the
// process's session slot. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.sub.Unsubscribe()
	c.cancel()
	c.wg.Wait()
	err := c.session.Close()
	sessions.Add(^uint32(0))
	return err
}

// link.Context

func (c *Client) Platform() link.Platform { return c.platform }
func (c *Client) Address() string         { return c.prof.Address }
func (c *Client) AutoPlay() bool          { return c.prof.AutoPlay }
func (c *Client) AppFocused() bool        { return c.focused }

func (c *Client) RequestGetLinkage(attempt uint64, addr address.LinkAddress) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		linkage, err := c.directory.GetLinkage(c.ctx, addr)
		if err != nil {
			c.log.Info("linkage lookup failed", zap.Stringer("directory", addr), zap.Error(err))
		}
		select {
		case c.linkages <- linkageResult{attempt: attempt, addr: linkage, err: err}:
		case <-c.ctx.Done():
		}
	}()
	return nil
}

func (c *Client) RequestLink(addr address.LinkAddress) error {
	c.lastLinkage = addr.String()
	if c.cfg.Hooks.PreRequestLink != nil {
		c.cfg.Hooks.PreRequestLink(addr)
	}
	c.log.Info("requesting link", zap.Stringer("addr", addr))
	return c.session.RequestConnect(addr)
}

func (c *Client) RequestPlay() error {
	return c.linkRequest("play", c.session.RequestPlay())
}

func (c *Client) RequestStop() error {
	return c.linkRequest("stop", c.session.RequestStop())
}

// linkRequest forgives a request racing a link loss: the Disconnected that
// follows moves the state machine on.
func (c *Client) linkRequest(name string, err error) error {
	if errors.Is(err, native.ErrNotLinked) {
		c.log.Debug("request raced link loss", zap.String("request", name))
		return nil
	}
	return err
}
