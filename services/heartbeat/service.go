// Package heartbeat publishes a retained daemon liveness record so bus
// clients can tell a stalled daemon from a silent one.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gmuxd/bus"
)

// DefaultInterval is the publish period when no config overrides it.
const DefaultInterval = 30 * time.Second

var topicConfig = bus.Topic{"config", "heartbeat"}
var topicBeat = bus.Topic{"gmux", "daemon", "heartbeat"}

type Service struct {
	Log      zerolog.Logger
	Interval time.Duration
}

// Start runs the heartbeat loop on its own goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go s.loop(ctx, conn)
}

func (s *Service) loop(ctx context.Context, conn *bus.Connection) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	start := time.Now()
	var seq uint64
	publish := func() {
		conn.Publish(conn.NewMessage(topicBeat, map[string]any{
			"seq":       seq,
			"uptime_ms": time.Since(start).Milliseconds(),
			"ts_ms":     time.Now().UnixMilli(),
		}, true))
		seq++
	}
	publish()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("heartbeat stopping")
			conn.Publish(conn.NewMessage(topicBeat, nil, true))
			return
		case <-tick.C:
			publish()
		case msg := <-cfgSub.Channel():
			m, ok := msg.Payload.(map[string]any)
			if !ok {
				continue
			}
			ms, ok := asMillis(m["interval_ms"])
			if !ok || ms <= 0 {
				continue
			}
			interval = time.Duration(ms) * time.Millisecond
			tick.Reset(interval)
			s.Log.Info().Dur("interval", interval).Msg("heartbeat interval changed")
		}
	}
}

func asMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
