// Package message decodes the events the native session layer queues for the
// client: session lifecycle events, media stream control events, input stream
// events, and opaque user data from the server application.
package message

import (
	"encoding/json"
	"fmt"
)

// Kind is the top-level message type.
type Kind uint8

const (
	KindEvent Kind = iota
	KindUserData
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "Event"
	case KindUserData:
		return "UserData"
	default:
		return "unknown"
	}
}

// Source identifies which native subsystem raised an Event.
type Source uint8

const (
	SourceNone Source = iota
	SourceSession
	SourceMediaStream
	SourceInputStream
)

func (s Source) String() string {
	switch s {
	case SourceSession:
		return "Session"
	case SourceMediaStream:
		return "MediaStream"
	case SourceInputStream:
		return "InputStream"
	default:
		return ""
	}
}

// Session event names.
const (
	NameConnected      = "Connected"
	NameSetupResponded = "SetupResponded"
	NameRenderPrepared = "RenderPrepared"
	NamePlayResponded  = "PlayResponded"
	NameStopResponded  = "StopResponded"
	NameDisconnected   = "Disconnected"
)

// Media stream event names.
const (
	NameCameraClipPlanes      = "CameraClipPlanes"
	NameEnableNetworkTimeWarp = "EnableNetworkTimeWarp"
)

// Input stream event names.
const (
	NameRecenterPose = "RecenterPose"
)

// Message is a decoded native event. Payload fields are only meaningful for
// the names that carry them: NearClip/FarClip for CameraClipPlanes, Enable for
// EnableNetworkTimeWarp, Data for UserData.
type Message struct {
	Kind     Kind
	Source   Source
	Name     string
	NearClip float32
	FarClip  float32
	Enable   bool
	DeviceID int
	Data     []byte
}

// Event builds an Event message.
func Event(src Source, name string) Message {
	return Message{Kind: KindEvent, Source: src, Name: name}
}

// UserData builds a UserData message carrying a copy of data.
func UserData(data []byte) Message {
	return Message{Kind: KindUserData, Data: append([]byte(nil), data...)}
}

func (m Message) isEventFrom(src Source) bool {
	return m.Kind == KindEvent && m.Source == src && m.Name != ""
}

func (m Message) IsSessionEvent() bool     { return m.isEventFrom(SourceSession) }
func (m Message) IsMediaStreamEvent() bool { return m.isEventFrom(SourceMediaStream) }
func (m Message) IsInputStreamEvent() bool { return m.isEventFrom(SourceInputStream) }
func (m Message) IsUserData() bool         { return m.Kind == KindUserData }

func (m Message) String() string {
	if m.Kind == KindUserData {
		return fmt.Sprintf("UserData(%d bytes)", len(m.Data))
	}
	return fmt.Sprintf("%s.%s", m.Source, m.Name)
}

// wireMessage is the JSON shape the native layer enqueues.
type wireMessage struct {
	Type     string  `json:"Type"`
	From     string  `json:"From,omitempty"`
	Name     string  `json:"Name,omitempty"`
	NearClip float32 `json:"NearClip,omitempty"`
	FarClip  float32 `json:"FarClip,omitempty"`
	Enable   bool    `json:"Enable,omitempty"`
	DeviceID int     `json:"DeviceID,omitempty"`
	Data     []byte  `json:"Data,omitempty"`
}

// Decode parses one native event payload.
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	switch w.Type {
	case "":
		return Message{}, &MissingFieldError{MessageName: "Message", FieldName: "Type"}
	case "UserData":
		return Message{Kind: KindUserData, Data: w.Data}, nil
	case "Event":
	default:
		return Message{}, &InvalidEnumValue{EnumName: "Type", Value: w.Type}
	}

	if w.From == "" {
		return Message{}, &MissingFieldError{MessageName: "Event", FieldName: "From"}
	}
	src, err := parseSource(w.From)
	if err != nil {
		return Message{}, err
	}
	if w.Name == "" {
		return Message{}, &MissingFieldError{MessageName: "Event", FieldName: "Name"}
	}

	return Message{
		Kind:     KindEvent,
		Source:   src,
		Name:     w.Name,
		NearClip: w.NearClip,
		FarClip:  w.FarClip,
		Enable:   w.Enable,
		DeviceID: w.DeviceID,
	}, nil
}

// Encode produces the payload Decode accepts.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{Type: m.Kind.String()}
	switch m.Kind {
	case KindUserData:
		w.Data = m.Data
	case KindEvent:
		if m.Source == SourceNone || m.Name == "" {
			return nil, &MissingFieldError{MessageName: "Event", FieldName: "From/Name"}
		}
		w.From = m.Source.String()
		w.Name = m.Name
		w.NearClip = m.NearClip
		w.FarClip = m.FarClip
		w.Enable = m.Enable
		w.DeviceID = m.DeviceID
	default:
		return nil, &InvalidEnumValue{EnumName: "Kind", Value: fmt.Sprint(uint8(m.Kind))}
	}
	return json.Marshal(w)
}

func parseSource(s string) (Source, error) {
	switch s {
	case "Session":
		return SourceSession, nil
	case "MediaStream":
		return SourceMediaStream, nil
	case "InputStream":
		return SourceInputStream, nil
	default:
		return SourceNone, &InvalidEnumValue{EnumName: "From", Value: s}
	}
}
