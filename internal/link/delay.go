package link

import (
	"math/rand/v2"
	"time"
)

// RequestCase tells a DelayPolicy why the next link request is being scheduled.
type RequestCase int

const (
	// RequestDefault follows a link drop the user did not ask for.
	RequestDefault RequestCase = iota
	// RequestFirst is the first attempt after StartLinking.
	RequestFirst
	// RequestUnlinkedByUser follows an explicit Unlink.
	RequestUnlinkedByUser
	// RequestInvalidAddress follows an address that failed to parse.
	RequestInvalidAddress
)

func (c RequestCase) String() string {
	switch c {
	case RequestDefault:
		return "default"
	case RequestFirst:
		return "first"
	case RequestUnlinkedByUser:
		return "unlinked-by-user"
	case RequestInvalidAddress:
		return "invalid-address"
	default:
		return "unknown"
	}
}

// DelayPolicy computes how long to wait before the next link request.
type DelayPolicy interface {
	NextDelay(c RequestCase, autoPlay bool) time.Duration
}

const (
	FirstRequestDelay   = 750 * time.Millisecond
	UnlinkedByUserDelay = 3 * time.Second
	InvalidAddressDelay = 1 * time.Second
	DefaultDelayBase    = 1 * time.Second
	DefaultDelayJitter  = 500 * time.Millisecond

	// UserAbsentRecheckDelay is reloaded on every tick the user is absent.
	UserAbsentRecheckDelay = 5500 * time.Millisecond

	// PrePlayDelay separates Linked from the Play request.
	PrePlayDelay = 100 * time.Millisecond
)

// DefaultDelays is the production DelayPolicy. Rand returns a value in
// [0, 1); nil uses math/rand/v2.
type DefaultDelays struct {
	Rand func() float64
}

func (d DefaultDelays) NextDelay(c RequestCase, autoPlay bool) time.Duration {
	switch c {
	case RequestFirst:
		return FirstRequestDelay
	case RequestUnlinkedByUser:
		return UnlinkedByUserDelay
	case RequestInvalidAddress:
		return InvalidAddressDelay
	default:
		if !autoPlay {
			return -1
		}
		r := rand.Float64
		if d.Rand != nil {
			r = d.Rand
		}
		return DefaultDelayBase + time.Duration(r()*float64(DefaultDelayJitter))
	}
}
