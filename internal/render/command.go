package render

import "fmt"

// EventID names a native render thread entry point.
type EventID uint8

const (
	EventRenderVideoFrame EventID = iota + 1
	EventRenderVolume
	EventEndRenderVideoFrame
)

func (id EventID) String() string {
	switch id {
	case EventRenderVideoFrame:
		return "RenderVideoFrame"
	case EventRenderVolume:
		return "RenderVolume"
	case EventEndRenderVideoFrame:
		return "EndRenderVideoFrame"
	default:
		return fmt.Sprintf("EventID(%d)", uint8(id))
	}
}

// PluginEvent is one command for the native render thread. Data is set for
// volume submissions and points at the eye slot holding the matrices.
type PluginEvent struct {
	ID   EventID
	Arg  uint32
	Data *EyeDescriptor
}

// RenderThread runs plugin events outside any camera pass.
type RenderThread interface {
	IssuePluginEvent(ev PluginEvent)
}

// CommandBuffer records plugin events that run when the camera it is
// attached to reaches its pass.
type CommandBuffer struct {
	events []PluginEvent
}

func (b *CommandBuffer) IssuePluginEvent(ev PluginEvent) {
	b.events = append(b.events, ev)
}

// Execute issues the recorded events to rt in order. The buffer keeps its
// contents until Clear.
func (b *CommandBuffer) Execute(rt RenderThread) {
	for _, ev := range b.events {
		rt.IssuePluginEvent(ev)
	}
}

func (b *CommandBuffer) Clear() {
	b.events = b.events[:0]
}

func (b *CommandBuffer) Len() int {
	return len(b.events)
}

// CommandKind distinguishes the two RenderCommand variants.
type CommandKind uint8

const (
	// CameraBound commands are recorded into a buffer that runs during the
	// camera's pass. Used when rendering straight to the framebuffer.
	CameraBound CommandKind = iota + 1
	// Immediate commands go to the render thread as soon as they are issued.
	// Used when rendering to a separate target.
	Immediate
)

func (k CommandKind) String() string {
	switch k {
	case CameraBound:
		return "CameraBound"
	case Immediate:
		return "Immediate"
	default:
		return "invalid"
	}
}

// RenderCommand is either CameraBound(buffer) or Immediate(render thread).
// The zero value is invalid.
type RenderCommand struct {
	kind CommandKind
	buf  *CommandBuffer
	rt   RenderThread
}

func NewCameraBound(buf *CommandBuffer) RenderCommand {
	return RenderCommand{kind: CameraBound, buf: buf}
}

func NewImmediate(rt RenderThread) RenderCommand {
	return RenderCommand{kind: Immediate, rt: rt}
}

func (c RenderCommand) Kind() CommandKind { return c.kind }

func (c RenderCommand) Valid() bool { return c.kind == CameraBound || c.kind == Immediate }

// Buffer returns the command buffer of a CameraBound command, nil otherwise.
func (c RenderCommand) Buffer() *CommandBuffer {
	if c.kind == CameraBound {
		return c.buf
	}
	return nil
}

// Issue records or runs ev depending on the variant.
func (c RenderCommand) Issue(ev PluginEvent) {
	switch c.kind {
	case CameraBound:
		c.buf.IssuePluginEvent(ev)
	case Immediate:
		c.rt.IssuePluginEvent(ev)
	default:
		panic("render: Issue on invalid RenderCommand")
	}
}

// Clear drops recorded events. Immediate commands hold nothing.
func (c RenderCommand) Clear() {
	switch c.kind {
	case CameraBound:
		c.buf.Clear()
	case Immediate:
	default:
		panic("render: Clear on invalid RenderCommand")
	}
}
