package render

import "go.uber.org/zap"

// Eye indexes the two stereo eyes.
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
)

// Camera is the host engine camera a FrameRenderSync renders for.
type Camera interface {
	Stereo() bool
	ViewMatrix(eye Eye) Mat4
	ProjectionMatrix(eye Eye) Mat4
	AttachCommandBuffer(buf *CommandBuffer)
	DetachCommandBuffer(buf *CommandBuffer)
}

// Anchor places volumetric content in the world.
type Anchor interface {
	AnchorToWorld() Mat4
}

// Renderer is the native render entry point.
type Renderer interface {
	Volumetric() bool
	RenderVideoFrame(cmd RenderCommand, t FrameType)
	RenderVolume(cmd RenderCommand, t FrameType, data *EyeDescriptor)
	EndRenderVideoFrame()
}

// SyncConfig configures a FrameRenderSync.
type SyncConfig struct {
	Camera   Camera
	Anchor   Anchor // optional
	Renderer Renderer

	// RenderThread runs Immediate commands. It is also used for the
	// end-of-frame fallback submission, which happens outside any pass.
	RenderThread RenderThread

	// Playing reports whether the link session is streaming.
	Playing func() bool

	// SeparateTarget selects Immediate commands instead of CameraBound.
	SeparateTarget bool

	Logger *zap.Logger
}

// FrameRenderSync turns one camera's render callbacks into at most one
// native submission per eye per displayed frame, and at least one
// submission cycle per frame. All methods run on the engine thread.
type FrameRenderSync struct {
	cfg SyncConfig
	log *zap.Logger

	cmd      RenderCommand
	buf      *CommandBuffer
	fallback RenderCommand

	slots EyeSlots

	renderedOnce bool
	submitted    int
	closed       bool
}

func NewFrameRenderSync(cfg SyncConfig) *FrameRenderSync {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Playing == nil {
		cfg.Playing = func() bool { return false }
	}
	return &FrameRenderSync{
		cfg:      cfg,
		log:      logger.With(zap.String("component", "render")),
		fallback: NewImmediate(cfg.RenderThread),
	}
}

func (s *FrameRenderSync) ensureCommand() {
	if s.cmd.Valid() {
		return
	}
	if s.cfg.SeparateTarget {
		s.cmd = NewImmediate(s.cfg.RenderThread)
	} else {
		s.buf = &CommandBuffer{}
		s.cfg.Camera.AttachCommandBuffer(s.buf)
		s.cmd = NewCameraBound(s.buf)
	}
	s.log.Debug("render command created", zap.Stringer("kind", s.cmd.Kind()))
}

// OnPreRender runs before the camera renders. CameraBound commands submit here.
func (s *FrameRenderSync) OnPreRender() {
	if s.closed {
		return
	}
	s.ensureCommand()
	switch s.cmd.Kind() {
	case CameraBound:
		s.submit(s.cmd)
	case Immediate:
	}
}

// OnPostRender runs after the camera renders. Immediate commands submit
// here; CameraBound buffers already ran during the pass and are cleared.
func (s *FrameRenderSync) OnPostRender() {
	if s.closed {
		return
	}
	s.ensureCommand()
	switch s.cmd.Kind() {
	case CameraBound:
		s.cmd.Clear()
	case Immediate:
		s.submit(s.cmd)
	}
}

// OnEndOfFrame runs once per engine frame after every camera callback. If
// nothing was submitted this frame it submits once now, on the render
// thread. It then starts the next frame and finishes the native frame.
func (s *FrameRenderSync) OnEndOfFrame() {
	if s.closed {
		return
	}
	if !s.renderedOnce {
		s.ensureCommand()
		s.submit(s.fallback)
	}
	s.renderedOnce = false
	s.submitted = 0
	s.cfg.Renderer.EndRenderVideoFrame()
}

func (s *FrameRenderSync) submit(cmd RenderCommand) {
	stereo := s.cfg.Camera.Stereo()
	limit := 1
	if stereo {
		limit = 2
	}
	if s.submitted >= limit {
		s.log.Debug("extra render callback ignored", zap.Int("submitted", s.submitted))
		return
	}

	t := frameType(stereo, s.renderedOnce)
	if s.cfg.Playing() {
		if s.cfg.Renderer.Volumetric() {
			eye := EyeLeft
			if t == StereoRight {
				eye = EyeRight
			}
			s.cfg.Renderer.RenderVolume(cmd, t, s.writeSlot(eye))
		} else {
			s.cfg.Renderer.RenderVideoFrame(cmd, t)
		}
	}
	s.submitted++
	s.renderedOnce = true
}

func (s *FrameRenderSync) writeSlot(eye Eye) *EyeDescriptor {
	cam := s.cfg.Camera
	view := cam.ViewMatrix(eye)
	if s.cfg.Anchor != nil {
		view = view.Mul(s.cfg.Anchor.AnchorToWorld())
	}
	return s.slots.Write(int(eye), view, cam.ProjectionMatrix(eye))
}

// Slots exposes the eye descriptors for inspection.
func (s *FrameRenderSync) Slots() *EyeSlots {
	return &s.slots
}

// Close detaches the command buffer and frees the eye slots. Callbacks after
// Close do nothing.
func (s *FrameRenderSync) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.buf != nil {
		s.cmd.Clear()
		s.cfg.Camera.DetachCommandBuffer(s.buf)
	}
	s.slots.Release()
}
