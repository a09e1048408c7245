package client

import (
	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/dispatch"
	"github.com/clickedinc/axr/internal/message"
	"github.com/clickedinc/axr/internal/render"
)

// HostCamera is the engine camera a Camera drives.
type HostCamera interface {
	render.Camera
	ClipPlanes() (near, far float32)
	SetClipPlanes(near, far float32)
}

type CameraConfig struct {
	Name   string // for logs
	Camera HostCamera
	Anchor render.Anchor // optional

	// RecenterPose runs when the streamer asks the client to recenter.
	RecenterPose func()
}

// Camera submits streamed frames for one host camera and keeps the camera
// in step with the link: clip planes follow the streamer while connected and
// revert when the link drops.
type Camera struct {
	client *Client
	host   HostCamera
	sync   *render.FrameRenderSync
	sub    *dispatch.Subscription
	log    *zap.Logger

	recenter  func()
	savedNear float32
	savedFar  float32
	closed    bool
}

// NewCamera attaches a Camera to host. The caller wires OnPreRender,
// OnPostRender and OnEndOfFrame to the engine's callbacks.
func (c *Client) NewCamera(cfg CameraConfig) *Camera {
	cam := &Camera{
		client:   c,
		host:     cfg.Camera,
		log:      c.log.With(zap.String("camera", cfg.Name)),
		recenter: cfg.RecenterPose,
	}
	cam.sync = render.NewFrameRenderSync(render.SyncConfig{
		Camera:         cfg.Camera,
		Anchor:         cfg.Anchor,
		Renderer:       c.session,
		RenderThread:   c.session.RenderThread(),
		Playing:        c.Playing,
		SeparateTarget: c.prof.SeparateTarget(),
		Logger:         c.cfg.Logger,
	})
	// The first Disconnected may arrive before any Connected.
	cam.saveClipPlanes()
	cam.sub = c.Subscribe(cam.onMessage)
	return cam
}

func (cam *Camera) OnPreRender()  { cam.sync.OnPreRender() }
func (cam *Camera) OnPostRender() { cam.sync.OnPostRender() }
func (cam *Camera) OnEndOfFrame() { cam.sync.OnEndOfFrame() }

// Slots exposes the eye descriptors handed to volumetric renders.
func (cam *Camera) Slots() *render.EyeSlots { return cam.sync.Slots() }

func (cam *Camera) onMessage(msg message.Message) {
	switch {
	case msg.IsSessionEvent():
		switch msg.Name {
		case message.NameConnected:
			cam.saveClipPlanes()
			cam.client.session.EnableNetworkTimeWarp(true)
		case message.NameDisconnected:
			cam.restoreClipPlanes()
		}
	case msg.IsMediaStreamEvent():
		switch msg.Name {
		case message.NameCameraClipPlanes:
			cam.widenClipPlanes(msg.NearClip, msg.FarClip)
		case message.NameEnableNetworkTimeWarp:
			cam.client.session.EnableNetworkTimeWarp(msg.Enable)
		}
	case msg.IsInputStreamEvent():
		if msg.Name == message.NameRecenterPose && cam.recenter != nil {
			cam.recenter()
		}
	}
}

func (cam *Camera) saveClipPlanes() {
	cam.savedNear, cam.savedFar = cam.host.ClipPlanes()
}

func (cam *Camera) restoreClipPlanes() {
	cam.host.SetClipPlanes(cam.savedNear, cam.savedFar)
}

// widenClipPlanes never narrows the host's frustum.
func (cam *Camera) widenClipPlanes(near, far float32) {
	curNear, curFar := cam.host.ClipPlanes()
	cam.host.SetClipPlanes(min(near, curNear), max(far, curFar))
	cam.log.Debug("clip planes", zap.Float32("near", min(near, curNear)), zap.Float32("far", max(far, curFar)))
}

// Close detaches the camera from the link and the host. It is safe to call
// more than once.
func (cam *Camera) Close() {
	if cam.closed {
		return
	}
	cam.closed = true
	cam.sub.Unsubscribe()
	cam.sync.Close()
}
