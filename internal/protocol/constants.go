package protocol

// Wire format version.
const Version = 1

// Header: [4B payload_length big-endian][1B message_type]
const HeaderSize = 5

// Maximum payload size (4 MB).
const MaxPayloadSize = 4 * 1024 * 1024

// MessageType identifies the type of a framed message.
type MessageType byte

const (
	// Control stream (stream 0)
	MsgAuthRequest   MessageType = 0x01
	MsgAuthResponse  MessageType = 0x02
	MsgAuthChallenge MessageType = 0x03
	MsgSetup         MessageType = 0x04
	MsgRequest       MessageType = 0x05
	MsgEvent         MessageType = 0x06
	MsgHeartbeat     MessageType = 0x10
	MsgShutdown      MessageType = 0x12

	// Data stream (stream 1)
	MsgUserData MessageType = 0x20
)

// AuthStatus is the result of an authentication attempt.
type AuthStatus byte

const (
	AuthOK     AuthStatus = 0
	AuthFailed AuthStatus = 1
)

// RequestKind is what a client asks of the streamer over an established link.
type RequestKind byte

const (
	RequestPrepareRender RequestKind = 1
	RequestPlay          RequestKind = 2
	RequestStop          RequestKind = 3
)

func (k RequestKind) String() string {
	switch k {
	case RequestPrepareRender:
		return "PrepareRender"
	case RequestPlay:
		return "Play"
	case RequestStop:
		return "Stop"
	default:
		return "unknown"
	}
}

// Fixed message sizes (excluding header).
const (
	AuthRequestSize    = 32 // HMAC token
	AuthResponseSize   = 1  // status byte
	AuthChallengeSize  = 32 // server nonce
	RequestSize        = 1  // kind byte
	HeartbeatSize      = 8  // i64 unix ms
	ShutdownSize       = 0
	UserDataHeaderSize = 5 // compression tag + u32 uncompressed length
)
