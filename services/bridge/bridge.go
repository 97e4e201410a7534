// Package bridge streams local bus traffic to an external link as
// length-prefixed frames carrying CBOR-encoded events.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"touchchip-go/bus"
	"touchchip-go/errcode"
	"touchchip-go/x/fmtx"
	"touchchip-go/x/jsonx"

	"github.com/fxamacker/cbor/v2"
	"github.com/tarm/serial"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

var (
	topicConfigBridge = bus.T("config", "bridge")
	TopicState        = bus.T("bridge", "state")
)

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: TopicState,
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// Match lists the topic patterns to forward, "/"-separated with "+" and
	// "#" wildcards. Empty means DefaultMatch.
	Match []string `json:"match,omitempty"`
}

// DefaultMatch forwards everything the simulated host and its services emit.
var DefaultMatch = []string{"pin/#", "log/#", "chip/#", "touch/#", "heartbeat"}

type TransportConfig struct {
	// "file", "tcp", "serial" or other names registered via RegisterTransport.
	Type   string        `json:"type"`
	File   *FileConfig   `json:"file,omitempty"`
	TCP    *TCPConfig    `json:"tcp,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`
}

// FileConfig appends frames to a file, creating it if needed.
type FileConfig struct {
	Path string `json:"path"`
}

// TCPConfig dials a collector.
type TCPConfig struct {
	Addr          string `json:"addr"`
	DialTimeoutMS int    `json:"dial_timeout_ms,omitempty"`
}

// SerialConfig opens a host serial port, e.g. a USB-UART to a logger MCU.
type SerialConfig struct {
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms,omitempty"` // per read; 0 means blocking
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigBridge)
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}
	patterns, err := parsePatterns(cfg.Match)
	if err != nil {
		s.publishState("error", "bad_match", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmtx.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, rwc, patterns); err != nil {
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmtx.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		return
	}
}

// handleLink owns the active link lifetime: it forwards matching bus
// messages, pings the peer and watches for the peer going away.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, patterns []bus.Topic) error {
	defer rwc.Close()
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	// Reader
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			if f.Type == frameClose {
				return
			}
			// Pongs and anything else from the peer are ignored.
		}
	}()

	// One subscription per pattern, merged into a single queue.
	events := make(chan *bus.Message, 32)
	stop := make(chan struct{})
	subs := make([]*bus.Subscription, 0, len(patterns))
	var wg sync.WaitGroup
	for _, p := range patterns {
		sub := s.conn.Subscribe(p)
		subs = append(subs, sub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range sub.Channel() {
				select {
				case events <- m:
				case <-stop:
				}
			}
		}()
	}
	defer func() {
		close(stop)
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
		wg.Wait()
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close.
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return err
		case m := <-events:
			payload, err := EncodeEvent(m)
			if err != nil {
				// Payloads CBOR cannot carry are skipped, not fatal.
				continue
			}
			if err := wr.WriteFrame(Frame{Type: frameEvent, Payload: payload}); err != nil {
				return err
			}
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// Event is the CBOR body of an event frame. Payload holds the CBOR encoding of
// the bus payload; decode it into the type the topic carries.
type Event struct {
	Topic    []string        `cbor:"1,keyasint"`
	Payload  cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	Retained bool            `cbor:"3,keyasint,omitempty"`
	TSms     int64           `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// EncodeEvent converts a bus message to an event frame body.
func EncodeEvent(m *bus.Message) ([]byte, error) {
	ev := Event{Retained: m.Retained, TSms: time.Now().UnixMilli()}
	ev.Topic = make([]string, len(m.Topic))
	for i, tok := range m.Topic {
		ev.Topic[i] = fmtx.Sprint(tok)
	}
	if m.Payload != nil {
		p, err := encMode.Marshal(m.Payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = p
	}
	b, err := encMode.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if len(b) > maxFrame {
		return nil, errcode.New(errcode.InvalidParams, "bridge_encode", "event too large")
	}
	return b, nil
}

// ReadEvent reads frames from r until the next event frame and decodes it.
// It returns io.EOF when the stream ends or the peer sent a close frame.
func ReadEvent(r io.Reader) (Event, error) {
	fr := newFramedReader(r)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return Event{}, err
		}
		switch f.Type {
		case frameEvent:
			var ev Event
			if err := cbor.Unmarshal(f.Payload, &ev); err != nil {
				return Event{}, err
			}
			return ev, nil
		case frameClose:
			return Event{}, io.EOF
		}
	}
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if ok {
		return f(cfg)
	}
	switch cfg.Type {
	case "file":
		if cfg.File == nil || cfg.File.Path == "" {
			return nil, errors.New("file transport requires file.path")
		}
		return &fileTransport{path: cfg.File.Path}, nil
	case "tcp":
		if cfg.TCP == nil || cfg.TCP.Addr == "" {
			return nil, errors.New("tcp transport requires tcp.addr")
		}
		return &tcpTransport{cfg: *cfg.TCP}, nil
	case "serial":
		if cfg.Serial == nil || cfg.Serial.Device == "" {
			return nil, errors.New("serial transport requires serial.device")
		}
		return &serialTransport{cfg: *cfg.Serial}, nil
	default:
		return nil, fmtx.Errorf("unknown transport type: %q", cfg.Type)
	}
}

type fileTransport struct{ path string }

func (t *fileTransport) Open(context.Context) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &writeOnly{w: f, closed: make(chan struct{})}, nil
}

func (t *fileTransport) String() string { return "file:" + t.path }

// writeOnly gives a sink the link shape: reads block until Close.
type writeOnly struct {
	w      io.WriteCloser
	once   sync.Once
	closed chan struct{}
}

func (w *writeOnly) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *writeOnly) Read([]byte) (int, error) {
	<-w.closed
	return 0, io.EOF
}

func (w *writeOnly) Close() error {
	err := os.ErrClosed
	w.once.Do(func() {
		close(w.closed)
		err = w.w.Close()
	})
	return err
}

type tcpTransport struct{ cfg TCPConfig }

func (t *tcpTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: 2 * time.Second}
	if t.cfg.DialTimeoutMS > 0 {
		d.Timeout = time.Duration(t.cfg.DialTimeoutMS) * time.Millisecond
	}
	return d.DialContext(ctx, "tcp", t.cfg.Addr)
}

func (t *tcpTransport) String() string { return "tcp:" + t.cfg.Addr }

type serialTransport struct{ cfg SerialConfig }

func (t *serialTransport) Open(context.Context) (io.ReadWriteCloser, error) {
	baud := t.cfg.Baud
	if baud <= 0 {
		baud = 115200
	}
	c := &serial.Config{
		Name:        t.cfg.Device,
		Baud:        baud,
		ReadTimeout: time.Duration(t.cfg.ReadTimeoutMS) * time.Millisecond,
	}
	return serial.OpenPort(c)
}

func (t *serialTransport) String() string { return "serial:" + t.cfg.Device }

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	frameEvent byte = 0x10
	frameClose byte = 0x7f

	maxFrame = 0xFFFF
)

// Frame is a very simple length-prefixed frame.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

// WriteFrame writes header and payload in one call so a frame is never split
// between concurrent appenders.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > maxFrame {
		return fmtx.Errorf("frame too large: %d", len(f.Payload))
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	_, err := fw.w.Write(buf)
	return err
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	switch v := p.(type) {
	case Config:
		return v, nil
	case []byte:
		return decodeConfigJSON(v)
	case string:
		return decodeConfigJSON([]byte(v))
	case map[string]any:
		return configFromObject(v)
	default:
		return Config{}, fmtx.Errorf("unsupported config payload type: %T", p)
	}
}

func decodeConfigJSON(raw []byte) (Config, error) {
	m, err := jsonx.DecodeObject(raw)
	if err != nil {
		return Config{}, err
	}
	return configFromObject(m)
}

func configFromObject(m map[string]any) (Config, error) {
	f := jsonx.NewFields(m, "transport", "match")
	cfg := Config{Match: f.Strings("match")}
	t := jsonx.NewFields(f.Object("transport"), "type", "file", "tcp", "serial")
	cfg.Transport.Type = t.String("type")
	if o := t.Object("file"); o != nil {
		ff := jsonx.NewFields(o, "path")
		cfg.Transport.File = &FileConfig{Path: ff.String("path")}
		if err := ff.Err(); err != nil {
			return Config{}, err
		}
	}
	if o := t.Object("tcp"); o != nil {
		tf := jsonx.NewFields(o, "addr", "dial_timeout_ms")
		cfg.Transport.TCP = &TCPConfig{Addr: tf.String("addr"), DialTimeoutMS: tf.Int("dial_timeout_ms")}
		if err := tf.Err(); err != nil {
			return Config{}, err
		}
	}
	if o := t.Object("serial"); o != nil {
		sf := jsonx.NewFields(o, "device", "baud", "read_timeout_ms")
		cfg.Transport.Serial = &SerialConfig{Device: sf.String("device"), Baud: sf.Int("baud"), ReadTimeoutMS: sf.Int("read_timeout_ms")}
		if err := sf.Err(); err != nil {
			return Config{}, err
		}
	}
	if err := t.Err(); err != nil {
		return Config{}, err
	}
	return cfg, f.Err()
}

// parsePatterns turns "pin/+/OUT" style strings into topics.
func parsePatterns(in []string) ([]bus.Topic, error) {
	if len(in) == 0 {
		in = DefaultMatch
	}
	out := make([]bus.Topic, 0, len(in))
	for _, p := range in {
		if p == "" {
			return nil, errors.New("empty match pattern")
		}
		var t bus.Topic
		start := 0
		for i := 0; i <= len(p); i++ {
			if i == len(p) || p[i] == '/' {
				t = append(t, p[start:i])
				start = i + 1
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
