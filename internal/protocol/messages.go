package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrUnknownMessage  = errors.New("unknown message type")
	ErrShortPayload    = errors.New("payload too short for message type")
)

// --- Message types ---

type AuthRequest struct {
	Token [32]byte
}

type AuthResponse struct {
	Status AuthStatus
}

// AuthChallenge carries the nonce a WebSocket client signs. QUIC links sign
// TLS exporter material instead and never see it.
type AuthChallenge struct {
	Nonce [32]byte
}

// Setup opens a link with the client's profile.
type Setup struct {
	Profile SetupProfile
}

type Request struct {
	Kind RequestKind
}

// Event carries one native event, already encoded for the client's queue.
type Event struct {
	Payload []byte
}

type Heartbeat struct {
	TimestampMs int64
}

type Shutdown struct{}

// UserData is application data exchanged with the server application.
// Payload is compressed with Compression; Size is the uncompressed length.
type UserData struct {
	Compression CompressionTag
	Size        uint32
	Payload     []byte
}

// --- Encoding ---

// WriteMessage writes a framed message (header + payload) to w.
//
// Fixed-size messages encode into stack buffers to avoid heap allocation.
// UserData messages write their header and payload separately to avoid
// copying the payload into an intermediate buffer.
func WriteMessage(w io.Writer, msg any) error {
	var msgType MessageType
	var payload []byte

	// Stack buffer for fixed-size message payloads (max 32 bytes).
	var scratch [32]byte

	switch m := msg.(type) {
	case *AuthRequest:
		msgType = MsgAuthRequest
		payload = m.Token[:]
	case *AuthResponse:
		msgType = MsgAuthResponse
		scratch[0] = byte(m.Status)
		payload = scratch[:1]
	case *AuthChallenge:
		msgType = MsgAuthChallenge
		payload = m.Nonce[:]
	case *Setup:
		msgType = MsgSetup
		b, err := marshalSetup(&m.Profile)
		if err != nil {
			return err
		}
		payload = b
	case *Request:
		msgType = MsgRequest
		scratch[0] = byte(m.Kind)
		payload = scratch[:1]
	case *Event:
		msgType = MsgEvent
		payload = m.Payload
	case *Heartbeat:
		msgType = MsgHeartbeat
		binary.BigEndian.PutUint64(scratch[:8], uint64(m.TimestampMs))
		payload = scratch[:8]
	case *Shutdown:
		msgType = MsgShutdown
	case *UserData:
		return writeUserData(w, m)
	default:
		return fmt.Errorf("unsupported message type: %T", msg)
	}

	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = byte(msgType)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func writeUserData(w io.Writer, m *UserData) error {
	payloadLen := UserDataHeaderSize + len(m.Payload)
	if payloadLen > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var hdr [HeaderSize + UserDataHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(payloadLen))
	hdr[4] = byte(MsgUserData)
	hdr[5] = byte(m.Compression)
	binary.BigEndian.PutUint32(hdr[6:10], m.Size)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// --- Decoding ---

// ReadMessage reads a framed message from r.
func ReadMessage(r io.Reader) (any, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	msgType := MessageType(header[4])

	if payloadLen > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return DecodePayload(msgType, payload)
}

// DecodePayload decodes a raw payload given its message type.
func DecodePayload(msgType MessageType, payload []byte) (any, error) {
	switch msgType {
	case MsgAuthRequest:
		if len(payload) < AuthRequestSize {
			return nil, ErrShortPayload
		}
		msg := &AuthRequest{}
		copy(msg.Token[:], payload[:32])
		return msg, nil

	case MsgAuthResponse:
		if len(payload) < AuthResponseSize {
			return nil, ErrShortPayload
		}
		return &AuthResponse{Status: AuthStatus(payload[0])}, nil

	case MsgAuthChallenge:
		if len(payload) < AuthChallengeSize {
			return nil, ErrShortPayload
		}
		msg := &AuthChallenge{}
		copy(msg.Nonce[:], payload[:32])
		return msg, nil

	case MsgSetup:
		msg := &Setup{}
		if err := unmarshalSetup(payload, &msg.Profile); err != nil {
			return nil, err
		}
		return msg, nil

	case MsgRequest:
		if len(payload) < RequestSize {
			return nil, ErrShortPayload
		}
		return &Request{Kind: RequestKind(payload[0])}, nil

	case MsgEvent:
		return &Event{Payload: payload}, nil

	case MsgHeartbeat:
		if len(payload) < HeartbeatSize {
			return nil, ErrShortPayload
		}
		return &Heartbeat{
			TimestampMs: int64(binary.BigEndian.Uint64(payload[0:8])),
		}, nil

	case MsgShutdown:
		return &Shutdown{}, nil

	case MsgUserData:
		if len(payload) < UserDataHeaderSize {
			return nil, ErrShortPayload
		}
		return &UserData{
			Compression: CompressionTag(payload[0]),
			Size:        binary.BigEndian.Uint32(payload[1:5]),
			Payload:     payload[5:],
		}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(msgType))
	}
}
