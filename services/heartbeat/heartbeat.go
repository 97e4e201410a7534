package heartbeat

import (
	"context"
	"time"

	"touchchip-go/bus"
	"touchchip-go/x/fmtx"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	TopicHeartbeat       = bus.T("heartbeat")
)

// Beat is published retained on heartbeat every interval.
type Beat struct {
	Seq    uint64   `json:"seq"`
	Uptime int64    `json:"uptime_s"`
	Chips  []string `json:"chips"`
}

// Chips reports which chips are live; *sim.Host satisfies it.
type Chips interface {
	Chips() []string
}

type Service struct {
	Source   Chips
	Interval time.Duration
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	iv := s.Interval
	if iv <= 0 {
		iv = time.Second
	}
	tick := time.NewTicker(iv)
	defer tick.Stop()

	start := time.Now()
	var seq uint64

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			fmtx.Info("heartbeat service stopping")
			return
		case t := <-tick.C:
			seq++
			b := Beat{Seq: seq, Uptime: int64(t.Sub(start) / time.Second)}
			if s.Source != nil {
				b.Chips = s.Source.Chips()
			}
			conn.Publish(conn.NewMessage(TopicHeartbeat, b, true))
		case msg := <-cfgSub.Channel():
			// Change tick interval if needed
			if m, ok := msg.Payload.(map[string]any); ok {
				if v, ok := m["interval"].(float64); ok && v > 0 {
					tick.Reset(time.Duration(v * float64(time.Second)))
					fmtx.Info("heartbeat interval set to %v seconds", v)
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
