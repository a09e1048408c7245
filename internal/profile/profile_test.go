package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/clickedinc/axr/internal/link"
	"github.com/clickedinc/axr/internal/protocol"
	"github.com/clickedinc/axr/internal/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.DeviceID == "" {
		t.Error("default device id is empty")
	}
	if Default().DeviceID == p.DeviceID {
		t.Error("device ids should differ between defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "client.yaml", `
address: 10.0.0.5:9000
platform: enterprise
autoPlay: false
renderTarget: separate
video:
  width: 1920
  height: 1080
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Address != "10.0.0.5:9000" || p.AutoPlay {
		t.Errorf("got address=%q autoPlay=%v", p.Address, p.AutoPlay)
	}
	platform, err := p.LinkPlatform()
	if err != nil || platform != link.PlatformEnterprise {
		t.Errorf("platform = %v, %v", platform, err)
	}
	if !p.SeparateTarget() {
		t.Error("expected separate render target")
	}
	if p.Video.Width != 1920 || p.Video.Height != 1080 {
		t.Errorf("video = %dx%d", p.Video.Width, p.Video.Height)
	}
	// Unset fields keep their defaults.
	if p.Video.FrameRate != Default().Video.FrameRate {
		t.Errorf("frame rate = %d, want default", p.Video.FrameRate)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeFile(t, "client.jsonc", `{
  // streamer on the LAN
  "address": "192.168.1.20:56723",
  "transport": "websocket",
  "compression": "lz4",
  "video": {"frameRate": 90,},
}`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mode, err := p.DialMode()
	if err != nil || mode != transport.DialWebSocket {
		t.Errorf("dial mode = %v, %v", mode, err)
	}
	tag, err := p.CompressionTag()
	if err != nil || tag != protocol.CompressionLZ4 {
		t.Errorf("compression = %v, %v", tag, err)
	}
	if p.Video.FrameRate != 90 {
		t.Errorf("frame rate = %d", p.Video.FrameRate)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "client.toml", "address = 'x'")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := Load(writeFile(t, "client.json", "{")); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	p := Default()
	p.Platform = "cloud"
	p.Transport = "carrier-pigeon"
	p.RenderTarget = "window"
	p.Passkey = "zz"
	p.Video.FrameRate = 0
	p.Video.BitrateMin = p.Video.BitrateMax + 1

	err := p.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	if n := len(multierr.Errors(err)); n != 6 {
		t.Errorf("got %d errors, want 6: %v", n, err)
	}
}

func TestValidateAllowsMalformedAddress(t *testing.T) {
	p := Default()
	p.Address = "not an address"
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSetupProfile(t *testing.T) {
	p := Default()
	p.UserID = "u-1"
	p.Volumetric = true
	sp := p.SetupProfile()
	if sp.DeviceID != p.DeviceID || sp.UserID != "u-1" || !sp.Volumetric {
		t.Errorf("setup profile = %+v", sp)
	}
	if sp.VideoWidth != p.Video.Width || sp.BitrateMax != p.Video.BitrateMax || !sp.Stereoscopic {
		t.Errorf("setup profile = %+v", sp)
	}
}

func TestOverlayAppliesOnlyChangedFlags(t *testing.T) {
	flags := Default()
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	flags.BindFlags(fs)
	fs.Bool("verbose", false, "not a profile flag")
	if err := fs.Parse([]string{"--address", "1.2.3.4:5", "--frame-rate", "60", "--verbose"}); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(writeFile(t, "client.yaml", "platform: enterprise\nuserId: from-file\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Overlay(fs); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if loaded.Address != "1.2.3.4:5" || loaded.Video.FrameRate != 60 {
		t.Errorf("flags not applied: address=%q fps=%d", loaded.Address, loaded.Video.FrameRate)
	}
	if loaded.Platform != "enterprise" || loaded.UserID != "from-file" {
		t.Errorf("file values overwritten: platform=%q user=%q", loaded.Platform, loaded.UserID)
	}
	if !strings.Contains(loaded.DeviceID, "-") {
		t.Errorf("device id = %q", loaded.DeviceID)
	}
}
