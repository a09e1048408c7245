// Package render hands decoded frames to the native renderer in step with
// the host engine's per-camera render callbacks.
package render

// FrameType says which eye a native submission is for.
type FrameType uint8

const (
	StereoLeft FrameType = iota
	StereoRight
	Mono
)

func (t FrameType) String() string {
	switch t {
	case StereoLeft:
		return "StereoLeft"
	case StereoRight:
		return "StereoRight"
	case Mono:
		return "Mono"
	default:
		return "unknown"
	}
}

// frameType picks the eye for the next submission of a displayed frame.
func frameType(stereo bool, renderedOnce bool) FrameType {
	if !stereo {
		return Mono
	}
	if renderedOnce {
		return StereoRight
	}
	return StereoLeft
}

// Render event argument flags, packed below the frame type byte.
const (
	ArgClearColor      uint32 = 0x00800000
	ArgRenderOnTexture uint32 = 0x00400000
)

// EventArg packs a frame type and flags into a plugin event argument.
func EventArg(t FrameType, clearColor, renderOnTexture bool) uint32 {
	arg := uint32(t) << 24
	if clearColor {
		arg |= ArgClearColor
	}
	if renderOnTexture {
		arg |= ArgRenderOnTexture
	}
	return arg
}

// ArgFrameType extracts the frame type from a packed argument.
func ArgFrameType(arg uint32) FrameType {
	return FrameType(arg >> 24)
}
