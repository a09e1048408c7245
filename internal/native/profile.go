package native

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/address"
	"github.com/clickedinc/axr/internal/transport"
	"github.com/clickedinc/axr/internal/version"
)

// linkProfile samples QUIC statistics for one link. It is nil for
// connections without QUIC statistics.
type linkProfile struct {
	conn  transport.ProfileableConn
	addr  address.LinkAddress
	start time.Time
	dir   string
}

func newLinkProfile(conn transport.Conn, addr address.LinkAddress, dir string) *linkProfile {
	pc, ok := conn.(transport.ProfileableConn)
	if !ok {
		return nil
	}
	return &linkProfile{conn: pc, addr: addr, start: time.Now(), dir: dir}
}

// sample logs one RTT/loss line. Called on each heartbeat tick.
func (p *linkProfile) sample(log *zap.Logger) {
	if p == nil {
		return
	}
	stats := p.conn.ConnectionStats()
	log.Info("link profile",
		zap.Duration("rtt", stats.LatestRTT),
		zap.Duration("min_rtt", stats.MinRTT),
		zap.Duration("smoothed_rtt", stats.SmoothedRTT),
		zap.Duration("jitter", stats.MeanDeviation),
		zap.Uint64("pkts_lost", stats.PacketsLost),
		zap.Uint64("pkts_sent", stats.PacketsSent),
	)
}

type profileJSON struct {
	Timestamp string         `json:"timestamp"`
	Commit    string         `json:"commit"`
	Address   string         `json:"address"`
	DurationS float64        `json:"duration_s"`
	RTT       profileRTT     `json:"rtt"`
	Traffic   profileTraffic `json:"traffic"`
}

type profileRTT struct {
	MinMs    float64 `json:"min_ms"`
	SmoothMs float64 `json:"smooth_ms"`
	LatestMs float64 `json:"latest_ms"`
	JitterMs float64 `json:"jitter_ms"`
}

type profileTraffic struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
	PktsSent  uint64 `json:"pkts_sent"`
	PktsRecv  uint64 `json:"pkts_recv"`
	PktsLost  uint64 `json:"pkts_lost"`
}

// summary logs totals for the link and, when a directory is configured,
// writes them as JSON. It returns the file written, if any.
func (p *linkProfile) summary(log *zap.Logger) string {
	if p == nil {
		return ""
	}
	stats := p.conn.ConnectionStats()
	now := time.Now()
	duration := now.Sub(p.start)

	log.Info("link profile summary",
		zap.Duration("duration", duration.Round(time.Millisecond)),
		zap.Duration("min_rtt", stats.MinRTT),
		zap.Duration("smoothed_rtt", stats.SmoothedRTT),
		zap.Uint64("bytes_sent", stats.BytesSent),
		zap.Uint64("bytes_recv", stats.BytesReceived),
		zap.Uint64("pkts_lost", stats.PacketsLost),
	)
	if p.dir == "" {
		return ""
	}

	out := profileJSON{
		Timestamp: now.UTC().Format(time.RFC3339),
		Commit:    version.Commit,
		Address:   p.addr.String(),
		DurationS: duration.Seconds(),
		RTT: profileRTT{
			MinMs:    msFloat(stats.MinRTT),
			SmoothMs: msFloat(stats.SmoothedRTT),
			LatestMs: msFloat(stats.LatestRTT),
			JitterMs: msFloat(stats.MeanDeviation),
		},
		Traffic: profileTraffic{
			BytesSent: stats.BytesSent,
			BytesRecv: stats.BytesReceived,
			PktsSent:  stats.PacketsSent,
			PktsRecv:  stats.PacketsReceived,
			PktsLost:  stats.PacketsLost,
		},
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Warn("profile marshal failed", zap.Error(err))
		return ""
	}
	name := filepath.Join(p.dir, fmt.Sprintf("axr-profile-%s.json", now.Format("20060102-150405.000")))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		log.Warn("profile write failed", zap.String("file", name), zap.Error(err))
		return ""
	}
	log.Info("profile written", zap.String("file", name))
	return name
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
