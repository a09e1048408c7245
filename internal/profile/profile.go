// Package profile is the client's configuration surface: where to link, how
// to behave when the link drops, and what video to ask the streamer for.
//
// A profile is authored as YAML (.yaml, .yml) or as JSON with comments and
// trailing commas (.json, .jsonc). Command-line flags override file values.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/clickedinc/axr/internal/auth"
	"github.com/clickedinc/axr/internal/link"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/transport"
)

// DefaultPort is the streamer port used when none is configured.
const DefaultPort = 56723

// Render targets.
const (
	TargetFramebuffer = "framebuffer"
	TargetSeparate    = "separate"
)

// Video describes the stream requested from the streamer.
type Video struct {
	Width        int `yaml:"width" json:"width"`
	Height       int `yaml:"height" json:"height"`
	FrameRate    int `yaml:"frameRate" json:"frameRate"`
	BitrateMin   int `yaml:"bitrateMin" json:"bitrateMin"`
	BitrateStart int `yaml:"bitrateStart" json:"bitrateStart"`
	BitrateMax   int `yaml:"bitrateMax" json:"bitrateMax"`
}

// Profile is the client configuration.
type Profile struct {
	// Address is "host:port" of the streamer, or of the directory when
	// Platform is enterprise. It is parsed at link time; a malformed value is
	// retried rather than rejected here.
	Address     string `yaml:"address" json:"address"`
	AutoPlay    bool   `yaml:"autoPlay" json:"autoPlay"`
	Platform    string `yaml:"platform" json:"platform"`
	UserPresent bool   `yaml:"userPresent" json:"userPresent"`

	RenderTarget string `yaml:"renderTarget" json:"renderTarget"`
	Stereoscopy  bool   `yaml:"stereoscopy" json:"stereoscopy"`
	Volumetric   bool   `yaml:"volumetric" json:"volumetric"`
	Video        Video  `yaml:"video" json:"video"`

	Transport   string `yaml:"transport" json:"transport"`
	Passkey     string `yaml:"passkey" json:"passkey"`
	Compression string `yaml:"compression" json:"compression"`

	UserID   string `yaml:"userId" json:"userId"`
	DeviceID string `yaml:"deviceId" json:"deviceId"`
}

// Default returns a profile for a stereo headset linking directly to a local
// streamer.
func Default() *Profile {
	return &Profile{
		Address:      fmt.Sprintf("127.0.0.1:%d", DefaultPort),
		AutoPlay:     true,
		Platform:     "direct",
		UserPresent:  true,
		RenderTarget: TargetFramebuffer,
		Stereoscopy:  true,
		Video: Video{
			Width:        3200,
			Height:       1600,
			FrameRate:    72,
			BitrateMin:   5_000_000,
			BitrateStart: 24_000_000,
			BitrateMax:   48_000_000,
		},
		Transport:   transport.DialQUIC.String(),
		Compression: protocol.CompressionZstd.String(),
		DeviceID:    uuid.New().String(),
	}
}

// Load reads a profile file over the defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	p := Default()
	if err := p.parse(filepath.Ext(path), data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) parse(ext string, data []byte) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, p)
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), p)
	default:
		return fmt.Errorf("unsupported profile format %q", ext)
	}
}

// Validate checks every field and reports all problems at once.
func (p *Profile) Validate() error {
	var errs error
	if _, err := p.LinkPlatform(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := p.DialMode(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := p.CompressionTag(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p.RenderTarget != TargetFramebuffer && p.RenderTarget != TargetSeparate {
		errs = multierr.Append(errs, fmt.Errorf("unknown render target %q", p.RenderTarget))
	}
	if p.Passkey != "" {
		if _, err := auth.ParsePasskey(p.Passkey); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	v := p.Video
	if v.Width <= 0 || v.Height <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("invalid video size %dx%d", v.Width, v.Height))
	}
	if v.FrameRate <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("invalid frame rate %d", v.FrameRate))
	}
	if v.BitrateMin > v.BitrateStart || v.BitrateStart > v.BitrateMax {
		errs = multierr.Append(errs, fmt.Errorf("bitrates must satisfy min <= start <= max, got %d/%d/%d",
			v.BitrateMin, v.BitrateStart, v.BitrateMax))
	}
	return errs
}

func (p *Profile) LinkPlatform() (link.Platform, error) {
	platform, ok := link.ParsePlatform(p.Platform)
	if !ok {
		return platform, fmt.Errorf("unknown platform %q", p.Platform)
	}
	return platform, nil
}

func (p *Profile) DialMode() (transport.DialMode, error) {
	return transport.ParseDialMode(p.Transport)
}

func (p *Profile) CompressionTag() (protocol.CompressionTag, error) {
	return protocol.ParseCompressionTag(p.Compression)
}

// SeparateTarget reports whether frames render to an off-screen target.
func (p *Profile) SeparateTarget() bool {
	return p.RenderTarget == TargetSeparate
}

// PasskeyBytes decodes Passkey.
func (p *Profile) PasskeyBytes() ([]byte, error) {
	return auth.ParsePasskey(p.Passkey)
}

// SetupProfile is what the client announces when a link opens.
func (p *Profile) SetupProfile() protocol.SetupProfile {
	return protocol.SetupProfile{
		DeviceID:     p.DeviceID,
		UserID:       p.UserID,
		VideoWidth:   p.Video.Width,
		VideoHeight:  p.Video.Height,
		FrameRate:    p.Video.FrameRate,
		Stereoscopic: p.Stereoscopy,
		BitrateMin:   p.Video.BitrateMin,
		BitrateStart: p.Video.BitrateStart,
		BitrateMax:   p.Video.BitrateMax,
		Volumetric:   p.Volumetric,
	}
}

// BindFlags registers a flag for every profile field, bound to p.
func (p *Profile) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&p.Address, "address", p.Address, "streamer (or directory) address, host:port")
	fs.BoolVar(&p.AutoPlay, "auto-play", p.AutoPlay, "relink automatically after a disconnect")
	fs.StringVar(&p.Platform, "platform", p.Platform, "direct or enterprise")
	fs.BoolVar(&p.UserPresent, "user-present", p.UserPresent, "start with the user present")
	fs.StringVar(&p.RenderTarget, "render-target", p.RenderTarget, "framebuffer or separate")
	fs.BoolVar(&p.Stereoscopy, "stereo", p.Stereoscopy, "render both eyes")
	fs.BoolVar(&p.Volumetric, "volumetric", p.Volumetric, "request volumetric content")
	fs.IntVar(&p.Video.Width, "video-width", p.Video.Width, "video width in pixels")
	fs.IntVar(&p.Video.Height, "video-height", p.Video.Height, "video height in pixels")
	fs.IntVar(&p.Video.FrameRate, "frame-rate", p.Video.FrameRate, "frames per second")
	fs.IntVar(&p.Video.BitrateMin, "bitrate-min", p.Video.BitrateMin, "minimum bitrate, bits/s")
	fs.IntVar(&p.Video.BitrateStart, "bitrate-start", p.Video.BitrateStart, "starting bitrate, bits/s")
	fs.IntVar(&p.Video.BitrateMax, "bitrate-max", p.Video.BitrateMax, "maximum bitrate, bits/s")
	fs.StringVar(&p.Transport, "transport", p.Transport, "quic or websocket")
	fs.StringVar(&p.Passkey, "passkey", p.Passkey, "hex passkey printed by the streamer")
	fs.StringVar(&p.Compression, "compression", p.Compression, "user data compression: none, lz4 or zstd")
	fs.StringVar(&p.UserID, "user-id", p.UserID, "user id sent to the streamer")
	fs.StringVar(&p.DeviceID, "device-id", p.DeviceID, "device id sent to the streamer")
}

// Overlay copies every flag the user set on fs onto p. Flags fs does not
// share with BindFlags are ignored.
func (p *Profile) Overlay(fs *pflag.FlagSet) error {
	target := pflag.NewFlagSet("profile", pflag.ContinueOnError)
	p.BindFlags(target)

	var errs error
	fs.Visit(func(f *pflag.Flag) {
		if target.Lookup(f.Name) == nil {
			return
		}
		errs = multierr.Append(errs, target.Set(f.Name, f.Value.String()))
	})
	return errs
}
