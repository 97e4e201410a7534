// Package touchpoll samples a touch.Pointer on a ticker and publishes the
// point on touch/<id>/value. It owns the pointer: other users ask for a fresh
// sample with a request on touch/<id>/read.
package touchpoll

import (
	"context"
	"time"

	"touchchip-go/bus"
	"touchchip-go/x/fmtx"
	"touchchip-go/x/jsonx"

	"tinygo.org/x/drivers/touch"
)

var topicConfigTouchPoll = bus.T("config", "touchpoll")

const (
	TopicTouch      = "touch"
	DefaultInterval = time.Second
	minInterval     = 10 * time.Millisecond
)

// Value is published retained on touch/<id>/value and returned to read requests.
type Value struct {
	X       int   `json:"x"`
	Y       int   `json:"y"`
	Z       int   `json:"z"`
	Touched bool  `json:"touched"`
	TSms    int64 `json:"ts_ms"`
}

type Service struct {
	ID       string
	Pointer  touch.Pointer
	Interval time.Duration

	last    touch.Point
	hasLast bool
	done    chan struct{}
}

func New(id string, p touch.Pointer) *Service {
	return &Service{ID: id, Pointer: p, Interval: DefaultInterval, done: make(chan struct{})}
}

// Done is closed when the service loop exits.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) sample() Value {
	p := s.Pointer.ReadTouchPoint()
	return Value{X: p.X, Y: p.Y, Z: p.Z, Touched: p.Z > 0, TSms: time.Now().UnixMilli()}
}

// poll publishes only when the point moves or the touch state changes.
func (s *Service) poll(conn *bus.Connection) {
	v := s.sample()
	p := touch.Point{X: v.X, Y: v.Y, Z: v.Z}
	if s.hasLast && p == s.last {
		return
	}
	s.last, s.hasLast = p, true
	conn.Publish(conn.NewMessage(bus.T(TopicTouch, s.ID, "value"), v, true))
}

// intervalFrom reads {"interval_ms": N} from a config payload.
func intervalFrom(payload any) (time.Duration, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	ms, ok := jsonx.Int(m["interval_ms"])
	if !ok || ms <= 0 {
		return 0, false
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minInterval {
		d = minInterval
	}
	return d, true
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cfgSub, readSub *bus.Subscription) {
	defer close(s.done)
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(readSub)

	iv := s.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	tick := time.NewTicker(iv)
	defer tick.Stop()

	s.poll(conn)
	for {
		select {
		case <-ctx.Done():
			fmtx.Info("touchpoll: %s stopping", s.ID)
			return
		case <-tick.C:
			s.poll(conn)
		case req := <-readSub.Channel():
			conn.Reply(req, s.sample(), false)
		case msg := <-cfgSub.Channel():
			if d, ok := intervalFrom(msg.Payload); ok {
				tick.Reset(d)
				fmtx.Info("touchpoll: %s interval set to %v", s.ID, d)
			}
		}
	}
}

// Start the poller. Both subscriptions exist when Start returns, so a read
// request published right after is answered.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	cfgSub := conn.Subscribe(topicConfigTouchPoll)
	readSub := conn.Subscribe(bus.T(TopicTouch, s.ID, "read"))
	go s.serviceLoop(ctx, conn, cfgSub, readSub)
	return nil
}

// Read asks a running poller for a fresh sample.
func Read(ctx context.Context, conn *bus.Connection, id string) (Value, error) {
	reply, err := conn.RequestWait(ctx, conn.NewMessage(bus.T(TopicTouch, id, "read"), nil, false))
	if err != nil {
		return Value{}, err
	}
	v, _ := reply.Payload.(Value)
	return v, nil
}
