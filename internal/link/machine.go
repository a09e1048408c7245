// Package link owns the lifecycle of a link to a streaming server: waiting to
// request, optional linkage discovery, linking, the pre-play delay, play and
// stop on focus changes, and retry after a drop.
package link

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
)

// Context is what the state machine needs from its host. Request methods
// issue work to the native session layer and must not block; an error from
// any of them moves the machine to Error.
type Context interface {
	Platform() Platform
	Address() string
	AutoPlay() bool
	UserPresent() bool
	AppFocused() bool

	// RequestGetLinkage starts linkage discovery against addr. The result is
	// reported later through ConnectLinkage or LinkageFailed with the same
	// attempt number.
	RequestGetLinkage(attempt uint64, addr address.LinkAddress) error
	RequestLink(addr address.LinkAddress) error
	RequestPlay() error
	RequestStop() error
}

// Config configures a StateMachine.
type Config struct {
	Context Context
	Delays  DelayPolicy // nil uses DefaultDelays{}
	Logger  *zap.Logger // nil disables logging
}

// StateMachine is driven from a single goroutine: Tick and every trigger
// method run on the engine thread.
type StateMachine struct {
	ctx    Context
	delays DelayPolicy
	log    *zap.Logger

	state State
	err   error

	remainingToRequest time.Duration // WaitingToRequestLink
	remainingToPlay    time.Duration // Linked

	unlinkedByUser bool
	attempt        uint64

	// sampled once per Tick
	focused bool
	present bool
}

// New returns a StateMachine in Idle.
func New(cfg Config) *StateMachine {
	if cfg.Context == nil {
		panic("link: nil Context")
	}
	delays := cfg.Delays
	if delays == nil {
		delays = DefaultDelays{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{
		ctx:     cfg.Context,
		delays:  delays,
		log:     logger.With(zap.String("component", "link")),
		state:   Idle,
		focused: true,
		present: true,
	}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// Connected reports whether the link is up (Linked, RequestingPlay or Playing).
func (m *StateMachine) Connected() bool { return m.state.Connected() }

// Err returns the error that moved the machine to Error, or nil.
func (m *StateMachine) Err() error { return m.err }

// Remaining returns the countdown owned by the current state: the time to
// the next link request in WaitingToRequestLink, the time to Play in Linked,
// and zero elsewhere.
func (m *StateMachine) Remaining() time.Duration {
	switch m.state {
	case WaitingToRequestLink:
		return m.remainingToRequest
	case Linked:
		return m.remainingToPlay
	default:
		return 0
	}
}

func (m *StateMachine) transitTo(to State) {
	if to == m.state {
		return
	}
	m.log.Debug("state transition",
		zap.Stringer("from", m.state),
		zap.Stringer("to", to),
	)
	m.state = to
	m.remainingToRequest = 0
	m.remainingToPlay = 0
}

func (m *StateMachine) fail(err error) {
	m.log.Error("link failed", zap.Stringer("state", m.state), zap.Error(err))
	m.transitTo(Error)
	m.err = err
}

// StartLinking leaves Idle for WaitingToRequestLink. A negative delay uses
// the first-request delay of the policy. It has no effect outside Idle.
func (m *StateMachine) StartLinking(delay time.Duration) {
	if m.state != Idle {
		m.log.Debug("start linking ignored", zap.Stringer("state", m.state))
		return
	}
	if delay < 0 {
		delay = m.delays.NextDelay(RequestFirst, m.ctx.AutoPlay())
	}
	m.unlinkedByUser = false
	m.transitTo(WaitingToRequestLink)
	m.remainingToRequest = delay
}

// StopLinking returns to Idle from WaitingToRequestLink or RequestingLinkage.
// A discovery request still in flight is abandoned: its result is ignored.
func (m *StateMachine) StopLinking() {
	switch m.state {
	case WaitingToRequestLink, RequestingLinkage:
		m.transitTo(Idle)
	}
}

// ConnectLinkage reports a discovered linkage address for attempt. Results
// for any attempt but the current one, or arriving outside
// RequestingLinkage, are dropped.
func (m *StateMachine) ConnectLinkage(attempt uint64, addr address.LinkAddress) {
	if m.state != RequestingLinkage || attempt != m.attempt {
		m.log.Debug("stale linkage dropped",
			zap.Uint64("attempt", attempt),
			zap.Stringer("address", addr),
			zap.Stringer("state", m.state),
		)
		return
	}
	if err := m.ctx.RequestLink(addr); err != nil {
		m.fail(fmt.Errorf("request link to %s: %w", addr, err))
		return
	}
	m.transitTo(Linking)
}

// LinkageFailed reports that discovery for attempt failed. It is handled
// like a link drop.
func (m *StateMachine) LinkageFailed(attempt uint64, err error) {
	if m.state != RequestingLinkage || attempt != m.attempt {
		return
	}
	m.log.Info("linkage discovery failed", zap.Uint64("attempt", attempt), zap.Error(err))
	m.TriggerUnlinked()
}

// TriggerLinked moves Linking to Linked and arms the pre-play timer.
func (m *StateMachine) TriggerLinked() {
	if m.state != Linking {
		return
	}
	m.transitTo(Linked)
	m.remainingToPlay = PrePlayDelay
}

// TriggerPlayResponded moves RequestingPlay to Playing.
func (m *StateMachine) TriggerPlayResponded() {
	if m.state != RequestingPlay {
		return
	}
	m.transitTo(Playing)
}

// TriggerUnlinkByUser marks the next drop as requested by the user, which
// selects the longer retry delay. It only applies while a link exists or is
// being made.
func (m *StateMachine) TriggerUnlinkByUser() {
	switch m.state {
	case Linking, Linked, RequestingPlay, Playing:
		m.unlinkedByUser = true
	}
}

// TriggerUnlinked handles a link drop. With auto-play the machine waits to
// request again; otherwise it goes Idle. Idle and Error ignore it.
func (m *StateMachine) TriggerUnlinked() {
	switch m.state {
	case Idle, Error:
		return
	}

	reqcase := RequestDefault
	if m.unlinkedByUser {
		reqcase = RequestUnlinkedByUser
	}
	m.unlinkedByUser = false

	if !m.ctx.AutoPlay() {
		m.transitTo(Idle)
		return
	}

	delay := m.delays.NextDelay(reqcase, true)
	m.transitTo(WaitingToRequestLink)
	m.remainingToRequest = delay
	m.log.Info("link dropped, retrying",
		zap.Stringer("case", reqcase),
		zap.Duration("delay", delay),
	)
}

// Tick advances timers by dt. Focus and user presence are read from the
// Context once, at the top of the call.
func (m *StateMachine) Tick(dt time.Duration) {
	m.focused = m.ctx.AppFocused()
	m.present = m.ctx.UserPresent()

	switch m.state {
	case WaitingToRequestLink:
		m.tickWaiting(dt)
	case Linked:
		m.tickLinked(dt)
	case Playing:
		m.tickPlaying()
	}
}

func (m *StateMachine) tickWaiting(dt time.Duration) {
	if !m.present {
		m.remainingToRequest = UserAbsentRecheckDelay
		return
	}

	m.remainingToRequest -= dt
	if m.remainingToRequest > 0 {
		return
	}

	addr, err := address.Parse(m.ctx.Address())
	if err != nil {
		delay := m.delays.NextDelay(RequestInvalidAddress, m.ctx.AutoPlay())
		m.log.Warn("invalid address, retrying", zap.Error(err), zap.Duration("delay", delay))
		m.remainingToRequest = delay
		return
	}

	switch platform := m.ctx.Platform(); platform {
	case PlatformEnterprise:
		m.attempt++
		if err := m.ctx.RequestGetLinkage(m.attempt, addr); err != nil {
			m.fail(fmt.Errorf("request linkage from %s: %w", addr, err))
			return
		}
		m.transitTo(RequestingLinkage)
	case PlatformDirect:
		if err := m.ctx.RequestLink(addr); err != nil {
			m.fail(fmt.Errorf("request link to %s: %w", addr, err))
			return
		}
		m.transitTo(Linking)
	default:
		m.fail(fmt.Errorf("%w: %d", ErrUnknownPlatform, platform))
	}
}

func (m *StateMachine) tickLinked(dt time.Duration) {
	if !m.focused {
		m.remainingToPlay = PrePlayDelay
		return
	}

	m.remainingToPlay -= dt
	if m.remainingToPlay > 0 {
		return
	}

	if err := m.ctx.RequestPlay(); err != nil {
		m.fail(fmt.Errorf("request play: %w", err))
		return
	}
	m.transitTo(RequestingPlay)
}

func (m *StateMachine) tickPlaying() {
	if m.focused {
		return
	}

	if err := m.ctx.RequestStop(); err != nil {
		m.fail(fmt.Errorf("request stop: %w", err))
		return
	}
	m.transitTo(Linked)
	m.remainingToPlay = PrePlayDelay
}

var ErrUnknownPlatform = errors.New("unknown platform")
