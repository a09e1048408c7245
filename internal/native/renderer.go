package native

import (
	"code.hybscloud.com/atomix"

	"github.com/clickedinc/axr/internal/render"
)

// RenderStats counts plugin events the render thread has run.
type RenderStats struct {
	Left      uint32
	Right     uint32
	Mono      uint32
	Volumes   uint32
	EndFrames uint32
}

// renderThread is the reference render thread. It has no GPU behind it; it
// runs plugin events by counting them, which is all a headless host needs.
// Counters are atomic because the host may read them from another goroutine.
type renderThread struct {
	left      atomix.Uint32
	right     atomix.Uint32
	mono      atomix.Uint32
	volumes   atomix.Uint32
	endFrames atomix.Uint32
}

func (rt *renderThread) IssuePluginEvent(ev render.PluginEvent) {
	switch ev.ID {
	case render.EventRenderVolume:
		rt.volumes.Add(1)
		rt.countFrame(render.ArgFrameType(ev.Arg))
	case render.EventRenderVideoFrame:
		rt.countFrame(render.ArgFrameType(ev.Arg))
	case render.EventEndRenderVideoFrame:
		rt.endFrames.Add(1)
	}
}

func (rt *renderThread) countFrame(t render.FrameType) {
	switch t {
	case render.StereoLeft:
		rt.left.Add(1)
	case render.StereoRight:
		rt.right.Add(1)
	case render.Mono:
		rt.mono.Add(1)
	}
}

func (rt *renderThread) stats() RenderStats {
	return RenderStats{
		Left:      rt.left.Load(),
		Right:     rt.right.Load(),
		Mono:      rt.mono.Load(),
		Volumes:   rt.volumes.Load(),
		EndFrames: rt.endFrames.Load(),
	}
}
