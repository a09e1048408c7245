package link

import (
	"errors"
	"testing"
	"time"

	"github.com/clickedinc/axr/internal/address"
)

type fakeContext struct {
	platform Platform
	addr     string
	autoPlay bool
	present  bool
	focused  bool

	linkageReqs []address.LinkAddress
	lastAttempt uint64
	linkReqs    []address.LinkAddress
	plays       int
	stops       int

	linkErr error
	playErr error

	presentReads int
	focusedReads int
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		platform: PlatformDirect,
		addr:     "127.0.0.1:9090",
		autoPlay: true,
		present:  true,
		focused:  true,
	}
}

func (c *fakeContext) Platform() Platform { return c.platform }
func (c *fakeContext) Address() string    { return c.addr }
func (c *fakeContext) AutoPlay() bool     { return c.autoPlay }

func (c *fakeContext) UserPresent() bool {
	c.presentReads++
	return c.present
}

func (c *fakeContext) AppFocused() bool {
	c.focusedReads++
	return c.focused
}

func (c *fakeContext) RequestGetLinkage(attempt uint64, addr address.LinkAddress) error {
	c.lastAttempt = attempt
	c.linkageReqs = append(c.linkageReqs, addr)
	return nil
}

func (c *fakeContext) RequestLink(addr address.LinkAddress) error {
	if c.linkErr != nil {
		return c.linkErr
	}
	c.linkReqs = append(c.linkReqs, addr)
	return nil
}

func (c *fakeContext) RequestPlay() error {
	if c.playErr != nil {
		return c.playErr
	}
	c.plays++
	return nil
}

func (c *fakeContext) RequestStop() error {
	c.stops++
	return nil
}

func fixedRand(v float64) DelayPolicy {
	return DefaultDelays{Rand: func() float64 { return v }}
}

func newMachine(t *testing.T, ctx *fakeContext) *StateMachine {
	t.Helper()
	return New(Config{Context: ctx, Delays: fixedRand(0.5)})
}

// runToPlaying drives a direct-platform machine from Idle to Playing.
func runToPlaying(t *testing.T, m *StateMachine) {
	t.Helper()
	m.StartLinking(0)
	m.Tick(time.Millisecond)
	if m.State() != Linking {
		t.Fatalf("expected Linking, got %v", m.State())
	}
	m.TriggerLinked()
	m.Tick(PrePlayDelay)
	if m.State() != RequestingPlay {
		t.Fatalf("expected RequestingPlay, got %v", m.State())
	}
	m.TriggerPlayResponded()
	if m.State() != Playing {
		t.Fatalf("expected Playing, got %v", m.State())
	}
}

func TestStartLinkingFirstRequestDelay(t *testing.T) {
	m := newMachine(t, newFakeContext())
	m.StartLinking(-1)
	if m.State() != WaitingToRequestLink {
		t.Fatalf("state: got %v", m.State())
	}
	if m.Remaining() != FirstRequestDelay {
		t.Fatalf("remaining: got %v, want %v", m.Remaining(), FirstRequestDelay)
	}
}

func TestStartLinkingExplicitDelay(t *testing.T) {
	m := newMachine(t, newFakeContext())
	m.StartLinking(2 * time.Second)
	if m.Remaining() != 2*time.Second {
		t.Fatalf("remaining: got %v", m.Remaining())
	}
}

func TestStartLinkingIgnoredOutsideIdle(t *testing.T) {
	m := newMachine(t, newFakeContext())
	m.StartLinking(time.Second)
	m.StartLinking(5 * time.Second)
	if m.Remaining() != time.Second {
		t.Fatalf("second StartLinking changed the timer: %v", m.Remaining())
	}
}

func TestDirectLinkRequestedAfterDelay(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	m.StartLinking(-1)

	m.Tick(500 * time.Millisecond)
	if len(ctx.linkReqs) != 0 {
		t.Fatal("link requested before the delay elapsed")
	}
	m.Tick(250 * time.Millisecond)
	if m.State() != Linking {
		t.Fatalf("state: got %v, want Linking", m.State())
	}
	if len(ctx.linkReqs) != 1 {
		t.Fatalf("link requests: got %d", len(ctx.linkReqs))
	}
	want := address.LinkAddress{Host: "127.0.0.1", Port: 9090}
	if ctx.linkReqs[0] != want {
		t.Fatalf("link address: got %+v", ctx.linkReqs[0])
	}
}

func TestUserAbsentHoldsTimer(t *testing.T) {
	ctx := newFakeContext()
	ctx.present = false
	m := newMachine(t, ctx)
	m.StartLinking(-1)

	for i := 0; i < 100; i++ {
		m.Tick(time.Second)
		if m.Remaining() != UserAbsentRecheckDelay {
			t.Fatalf("tick %d: remaining %v, want %v", i, m.Remaining(), UserAbsentRecheckDelay)
		}
	}
	if len(ctx.linkReqs) != 0 || m.State() != WaitingToRequestLink {
		t.Fatal("link requested while user absent")
	}

	ctx.present = true
	m.Tick(time.Second)
	if m.Remaining() != UserAbsentRecheckDelay-time.Second {
		t.Fatalf("countdown did not resume from recheck value: %v", m.Remaining())
	}
	m.Tick(UserAbsentRecheckDelay)
	if m.State() != Linking {
		t.Fatalf("state: got %v, want Linking", m.State())
	}
}

func TestTickSamplesContextOnce(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	runToPlaying(t, m)

	ctx.presentReads, ctx.focusedReads = 0, 0
	for i := 0; i < 5; i++ {
		m.Tick(time.Millisecond)
	}
	if ctx.presentReads != 5 || ctx.focusedReads != 5 {
		t.Fatalf("reads: present=%d focused=%d, want 5 each", ctx.presentReads, ctx.focusedReads)
	}
}

func TestInvalidAddressRetries(t *testing.T) {
	ctx := newFakeContext()
	ctx.addr = "not-an-address"
	m := newMachine(t, ctx)
	m.StartLinking(0)

	m.Tick(time.Millisecond)
	if m.State() != WaitingToRequestLink {
		t.Fatalf("state: got %v, want WaitingToRequestLink", m.State())
	}
	if m.Remaining() != InvalidAddressDelay {
		t.Fatalf("remaining: got %v, want %v", m.Remaining(), InvalidAddressDelay)
	}

	ctx.addr = "10.0.0.1:9090"
	m.Tick(InvalidAddressDelay)
	if m.State() != Linking {
		t.Fatalf("state after fixing address: got %v", m.State())
	}
}

func TestRequestErrorIsFatal(t *testing.T) {
	ctx := newFakeContext()
	ctx.linkErr = errors.New("native unavailable")
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)

	if m.State() != Error {
		t.Fatalf("state: got %v, want Error", m.State())
	}
	if !errors.Is(m.Err(), ctx.linkErr) {
		t.Fatalf("err: got %v", m.Err())
	}

	// Error has no outgoing transitions.
	m.StartLinking(0)
	m.TriggerUnlinked()
	m.TriggerLinked()
	m.Tick(time.Second)
	if m.State() != Error {
		t.Fatalf("left Error: %v", m.State())
	}
}

func TestStopLinking(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	m.StartLinking(time.Second)
	m.StopLinking()
	if m.State() != Idle {
		t.Fatalf("state: got %v", m.State())
	}
	m.Tick(2 * time.Second)
	if len(ctx.linkReqs) != 0 {
		t.Fatal("link requested after StopLinking")
	}

	runToPlaying(t, m)
	m.StopLinking()
	if m.State() != Playing {
		t.Fatalf("StopLinking affected a connected state: %v", m.State())
	}
}

func TestEnterpriseDiscovery(t *testing.T) {
	ctx := newFakeContext()
	ctx.platform = PlatformEnterprise
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)

	if m.State() != RequestingLinkage {
		t.Fatalf("state: got %v", m.State())
	}
	if len(ctx.linkageReqs) != 1 {
		t.Fatalf("linkage requests: %d", len(ctx.linkageReqs))
	}

	// No duplicate request while pending.
	m.Tick(10 * time.Second)
	if len(ctx.linkageReqs) != 1 {
		t.Fatal("duplicate linkage request while pending")
	}

	resolved := address.LinkAddress{Host: "10.1.1.1", Port: 7000}
	m.ConnectLinkage(ctx.lastAttempt, resolved)
	if m.State() != Linking {
		t.Fatalf("state: got %v", m.State())
	}
	if len(ctx.linkReqs) != 1 || ctx.linkReqs[0] != resolved {
		t.Fatalf("link requests: %+v", ctx.linkReqs)
	}
}

func TestEnterpriseStaleLinkageDropped(t *testing.T) {
	ctx := newFakeContext()
	ctx.platform = PlatformEnterprise
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)
	stale := ctx.lastAttempt

	m.StopLinking()
	m.ConnectLinkage(stale, address.LinkAddress{Host: "10.1.1.1", Port: 7000})
	if m.State() != Idle || len(ctx.linkReqs) != 0 {
		t.Fatalf("stale linkage acted on: state=%v reqs=%d", m.State(), len(ctx.linkReqs))
	}

	m.StartLinking(0)
	m.Tick(time.Millisecond)
	m.ConnectLinkage(stale, address.LinkAddress{Host: "10.1.1.1", Port: 7000})
	if m.State() != RequestingLinkage {
		t.Fatalf("older attempt acted on: %v", m.State())
	}
}

func TestEnterpriseDiscoveryFailureRetries(t *testing.T) {
	ctx := newFakeContext()
	ctx.platform = PlatformEnterprise
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)

	m.LinkageFailed(ctx.lastAttempt, errors.New("no linkage"))
	if m.State() != WaitingToRequestLink {
		t.Fatalf("state: got %v", m.State())
	}
	if m.Err() != nil {
		t.Fatal("discovery failure escalated to Error")
	}

	ctx.autoPlay = false
	m.Tick(2 * time.Second)
	m.LinkageFailed(ctx.lastAttempt, errors.New("no linkage"))
	if m.State() != Idle {
		t.Fatalf("state without auto-play: got %v", m.State())
	}
}

func TestPrePlayTimer(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)
	m.TriggerLinked()

	if m.State() != Linked || m.Remaining() != PrePlayDelay {
		t.Fatalf("state=%v remaining=%v", m.State(), m.Remaining())
	}
	m.Tick(99 * time.Millisecond)
	if ctx.plays != 0 {
		t.Fatal("play requested early")
	}
	m.Tick(time.Millisecond)
	if ctx.plays != 1 || m.State() != RequestingPlay {
		t.Fatalf("plays=%d state=%v", ctx.plays, m.State())
	}
}

func TestPrePlayRequiresContinuousFocus(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	m.StartLinking(0)
	m.Tick(time.Millisecond)
	m.TriggerLinked()

	m.Tick(90 * time.Millisecond)
	ctx.focused = false
	for i := 0; i < 10; i++ {
		m.Tick(time.Second)
	}
	if ctx.plays != 0 {
		t.Fatal("play requested while unfocused")
	}

	ctx.focused = true
	m.Tick(90 * time.Millisecond)
	if ctx.plays != 0 {
		t.Fatal("focus interruption did not restart the pre-play timer")
	}
	m.Tick(10 * time.Millisecond)
	if ctx.plays != 1 {
		t.Fatalf("plays: got %d, want 1", ctx.plays)
	}
}

func TestFocusLossStopsPlayback(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	runToPlaying(t, m)

	ctx.focused = false
	m.Tick(time.Millisecond)
	if ctx.stops != 1 || m.State() != Linked {
		t.Fatalf("stops=%d state=%v", ctx.stops, m.State())
	}
	if m.Remaining() != PrePlayDelay {
		t.Fatalf("pre-play timer not restarted: %v", m.Remaining())
	}

	m.Tick(time.Second)
	if ctx.plays != 1 {
		t.Fatal("play re-requested while unfocused")
	}

	ctx.focused = true
	m.Tick(PrePlayDelay)
	if ctx.plays != 2 || m.State() != RequestingPlay {
		t.Fatalf("plays=%d state=%v", ctx.plays, m.State())
	}
}

func TestUnlinkedRetryDelays(t *testing.T) {
	ctx := newFakeContext()
	m := New(Config{Context: ctx, Delays: fixedRand(0.999)})
	runToPlaying(t, m)

	m.TriggerUnlinked()
	if m.State() != WaitingToRequestLink {
		t.Fatalf("state: got %v", m.State())
	}
	if d := m.Remaining(); d < DefaultDelayBase || d > DefaultDelayBase+DefaultDelayJitter {
		t.Fatalf("default retry delay %v outside [1s, 1.5s]", d)
	}

	m.Tick(2 * time.Second)
	m.TriggerLinked()
	m.Tick(PrePlayDelay)
	m.TriggerPlayResponded()
	if m.State() != Playing {
		t.Fatalf("state: got %v", m.State())
	}

	m.TriggerUnlinkByUser()
	m.TriggerUnlinked()
	if m.Remaining() != UnlinkedByUserDelay {
		t.Fatalf("user unlink delay: got %v, want %v", m.Remaining(), UnlinkedByUserDelay)
	}

	// The user flag is consumed by the transition.
	m.Tick(UnlinkedByUserDelay)
	m.TriggerUnlinked()
	if m.Remaining() == UnlinkedByUserDelay {
		t.Fatal("user unlink flag survived the transition")
	}
}

func TestUnlinkByUserIgnoredWithoutLink(t *testing.T) {
	ctx := newFakeContext()
	m := newMachine(t, ctx)
	m.StartLinking(time.Second)
	m.TriggerUnlinkByUser()

	m.Tick(time.Second)
	if m.State() != Linking {
		t.Fatalf("state: got %v, want Linking", m.State())
	}
	m.TriggerUnlinked()
	if d := m.Remaining(); d == UnlinkedByUserDelay || d < DefaultDelayBase || d > DefaultDelayBase+DefaultDelayJitter {
		t.Fatalf("retry delay %v, want the default range", d)
	}
}

func TestUnlinkedWithoutAutoPlay(t *testing.T) {
	ctx := newFakeContext()
	ctx.autoPlay = false
	m := newMachine(t, ctx)
	runToPlaying(t, m)

	m.TriggerUnlinked()
	if m.State() != Idle {
		t.Fatalf("state: got %v, want Idle", m.State())
	}
}

func TestDefaultDelaysJitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		d := fixedRand(r).NextDelay(RequestDefault, true)
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("rand=%v: delay %v outside [1s, 1.5s]", r, d)
		}
	}
	var p DefaultDelays
	for i := 0; i < 1000; i++ {
		d := p.NextDelay(RequestDefault, true)
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("delay %v outside [1s, 1.5s]", d)
		}
	}
	if d := p.NextDelay(RequestDefault, false); d >= 0 {
		t.Fatalf("default delay without auto-play: got %v, want negative", d)
	}
}

func TestConnected(t *testing.T) {
	want := map[State]bool{
		Idle: false, WaitingToRequestLink: false, RequestingLinkage: false,
		Linking: false, Linked: true, RequestingPlay: true, Playing: true, Error: false,
	}
	for s, c := range want {
		if s.Connected() != c {
			t.Fatalf("%v.Connected() = %v", s, s.Connected())
		}
	}
}
