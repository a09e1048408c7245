package link

// State is the link session state.
type State int

const (
	Idle State = iota
	WaitingToRequestLink
	RequestingLinkage
	Linking
	Linked
	RequestingPlay
	Playing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingToRequestLink:
		return "WaitingToRequestLink"
	case RequestingLinkage:
		return "RequestingLinkage"
	case Linking:
		return "Linking"
	case Linked:
		return "Linked"
	case RequestingPlay:
		return "RequestingPlay"
	case Playing:
		return "Playing"
	case Error:
		return "Error"
	default:
		return "unknown"
	}
}

// Connected reports whether s has a live link: Linked, RequestingPlay or Playing.
func (s State) Connected() bool {
	return s == Linked || s == RequestingPlay || s == Playing
}

// Platform selects how the streaming server is reached.
type Platform int

const (
	// PlatformDirect links straight to the configured address.
	PlatformDirect Platform = iota
	// PlatformEnterprise asks the configured address for a linkage first and
	// links to the address it returns.
	PlatformEnterprise
)

func (p Platform) String() string {
	switch p {
	case PlatformDirect:
		return "direct"
	case PlatformEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// ParsePlatform accepts the names printed by Platform.String.
func ParsePlatform(s string) (Platform, bool) {
	switch s {
	case "direct", "onairxr", "":
		return PlatformDirect, true
	case "enterprise":
		return PlatformEnterprise, true
	default:
		return PlatformDirect, false
	}
}
