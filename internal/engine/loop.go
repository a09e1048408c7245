// Package engine is a minimal host frame loop. It drives the callback
// contract a rendering client expects from its host: an update tick, per
// camera pre-render / pass / post-render, and an end-of-frame continuation.
//
// A Loop is single-threaded. Every hook runs on the goroutine calling Step
// or Run, and hooks may register or remove hooks and cameras.
package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/render"
)

// DefaultFrameRate is used when Config.FrameRate is zero.
const DefaultFrameRate = 72

// Config holds loop configuration. RenderThread is required.
type Config struct {
	FrameRate    int
	RenderThread render.RenderThread
	Logger       *zap.Logger
}

type endOfFrameHook struct {
	ctx context.Context
	fn  func()
}

// Loop is a single-threaded frame loop: update hooks, then every camera's
// passes, then end-of-frame hooks.
type Loop struct {
	cfg Config
	log *zap.Logger

	updates    []func(dt time.Duration)
	cameras    []*Camera
	endOfFrame []endOfFrameHook

	frame uint64
}

// New validates cfg and returns an idle Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.RenderThread == nil {
		return nil, fmt.Errorf("engine: render thread is required")
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FrameRate < 0 {
		return nil, fmt.Errorf("engine: invalid frame rate %d", cfg.FrameRate)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg: cfg,
		log: logger.With(zap.String("component", "engine")),
	}, nil
}

// FrameInterval is the time between frames at the configured rate.
func (l *Loop) FrameInterval() time.Duration {
	return time.Second / time.Duration(l.cfg.FrameRate)
}

// Frame returns the number of completed frames.
func (l *Loop) Frame() uint64 { return l.frame }

// OnUpdate registers fn to run at the start of every frame.
func (l *Loop) OnUpdate(fn func(dt time.Duration)) {
	l.updates = append(l.updates, fn)
}

// AddCamera adds c to the frame. Cameras render in the order added.
func (l *Loop) AddCamera(c *Camera) {
	if slices.Contains(l.cameras, c) {
		return
	}
	l.cameras = append(l.cameras, c)
}

func (l *Loop) RemoveCamera(c *Camera) {
	l.cameras = slices.DeleteFunc(l.cameras, func(x *Camera) bool { return x == c })
}

// OnEndOfFrame registers fn to run once per frame after every camera has
// rendered. The hook is dropped once ctx is done; ctx is checked once per
// frame, before fn would run.
func (l *Loop) OnEndOfFrame(ctx context.Context, fn func()) {
	l.endOfFrame = append(l.endOfFrame, endOfFrameHook{ctx: ctx, fn: fn})
}

// Step runs one frame.
func (l *Loop) Step(dt time.Duration) {
	for _, fn := range slices.Clone(l.updates) {
		fn(dt)
	}

	for _, c := range slices.Clone(l.cameras) {
		if c.culled {
			continue
		}
		c.render(l.cfg.RenderThread)
	}

	hooks := l.endOfFrame
	l.endOfFrame = nil
	var live []endOfFrameHook
	for _, h := range hooks {
		if h.ctx.Err() != nil {
			continue
		}
		h.fn()
		live = append(live, h)
	}
	// Hooks registered during this pass run from the next frame on.
	l.endOfFrame = append(live, l.endOfFrame...)

	l.frame++
}

// Run steps the loop at the configured frame rate until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.FrameInterval())
	defer ticker.Stop()

	l.log.Info("frame loop started", zap.Int("fps", l.cfg.FrameRate))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("frame loop stopped", zap.Uint64("frames", l.frame))
			return ctx.Err()
		case now := <-ticker.C:
			l.Step(now.Sub(last))
			last = now
		}
	}
}
