package engine

import (
	"math"
	"slices"

	"github.com/clickedinc/axr/internal/render"
)

// DefaultIPD is the interpupillary distance used for stereo cameras, in meters.
const DefaultIPD = 0.064

// Camera is a host camera. It satisfies render.Camera. Command buffers
// attached to it run on the render thread during each of its passes.
type Camera struct {
	Name string

	stereo bool
	ipd    float32
	fovY   float64 // radians
	aspect float64
	near   float32
	far    float32
	pose   render.Mat4
	culled bool

	buffers []*render.CommandBuffer
	pre     []func()
	post    []func()
}

// NewCamera returns a camera looking down -Z from the origin.
func NewCamera(name string, stereo bool) *Camera {
	return &Camera{
		Name:   name,
		stereo: stereo,
		ipd:    DefaultIPD,
		fovY:   90 * math.Pi / 180,
		aspect: 1,
		near:   0.1,
		far:    1000,
		pose:   render.Identity(),
	}
}

func (c *Camera) Stereo() bool { return c.stereo }

// ClipPlanes returns the near and far clip distances.
func (c *Camera) ClipPlanes() (near, far float32) { return c.near, c.far }

func (c *Camera) SetClipPlanes(near, far float32) {
	c.near, c.far = near, far
}

// SetPose sets the head-to-world inverse, i.e. the view matrix of the head.
func (c *Camera) SetPose(view render.Mat4) { c.pose = view }

// SetCulled marks the camera as skipped by the loop. A culled camera gets no
// render callbacks and its buffers do not run.
func (c *Camera) SetCulled(culled bool) { c.culled = culled }

func (c *Camera) ViewMatrix(eye render.Eye) render.Mat4 {
	if !c.stereo {
		return c.pose
	}
	offset := c.ipd / 2
	if eye == render.EyeLeft {
		offset = -offset
	}
	// Shifting the eye right moves the world left.
	shift := render.Identity()
	shift[12] = -offset
	return shift.Mul(c.pose)
}

// ProjectionMatrix is a right-handed OpenGL-style perspective projection.
func (c *Camera) ProjectionMatrix(render.Eye) render.Mat4 {
	f := float32(1 / math.Tan(c.fovY/2))
	n, fa := c.near, c.far
	var m render.Mat4
	m[0] = f / float32(c.aspect)
	m[5] = f
	m[10] = (fa + n) / (n - fa)
	m[11] = -1
	m[14] = 2 * fa * n / (n - fa)
	return m
}

func (c *Camera) AttachCommandBuffer(buf *render.CommandBuffer) {
	if slices.Contains(c.buffers, buf) {
		return
	}
	c.buffers = append(c.buffers, buf)
}

func (c *Camera) DetachCommandBuffer(buf *render.CommandBuffer) {
	c.buffers = slices.DeleteFunc(c.buffers, func(b *render.CommandBuffer) bool { return b == buf })
}

// Buffers returns the number of attached command buffers.
func (c *Camera) Buffers() int { return len(c.buffers) }

// OnPreRender registers fn to run before each pass of this camera.
func (c *Camera) OnPreRender(fn func()) { c.pre = append(c.pre, fn) }

// OnPostRender registers fn to run after each pass of this camera.
func (c *Camera) OnPostRender(fn func()) { c.post = append(c.post, fn) }

// render runs one pass per eye: two for a stereo camera, one otherwise.
func (c *Camera) render(rt render.RenderThread) {
	passes := 1
	if c.stereo {
		passes = 2
	}
	for range passes {
		for _, fn := range slices.Clone(c.pre) {
			fn()
		}
		for _, buf := range c.buffers {
			buf.Execute(rt)
		}
		for _, fn := range slices.Clone(c.post) {
			fn()
		}
	}
}
