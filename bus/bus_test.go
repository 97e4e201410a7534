package bus

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

// topicKey renders a concrete topic as "a/b/c" for use as a payload.
func topicKey(t Topic) string {
	parts := make([]string, len(t))
	for i, tok := range t {
		s, _ := tok.(string)
		parts[i] = s
	}
	return strings.Join(parts, "/")
}

// replayed returns the payloads already queued on sub, sorted. Retained
// replay happens inside Subscribe, so nothing arrives later.
func replayed(sub *Subscription) []string {
	var out []string
	for {
		select {
		case m := <-sub.Channel():
			out = append(out, m.Payload.(string))
		default:
			sort.Strings(out)
			return out
		}
	}
}

func TestRetainedReplay_Patterns(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("sim")
	for _, tp := range []Topic{
		{"pin", "touch1", "IN"},
		{"pin", "touch1", "OUT"},
		{"pin", "touch2", "IN"},
		{"chip", "touch1", "status"},
	} {
		c.Publish(c.NewMessage(tp, topicKey(tp), true))
	}
	c.Publish(c.NewMessage(T("log", "touch1"), "log/touch1", false))

	cases := []struct {
		pattern Topic
		want    string
	}{
		{T("pin", "touch1", "IN"), "pin/touch1/IN"},
		{T("pin", "+", "IN"), "pin/touch1/IN pin/touch2/IN"},
		{T("pin", "#"), "pin/touch1/IN pin/touch1/OUT pin/touch2/IN"},
		{T("+", "touch1", "+"), "chip/touch1/status pin/touch1/IN pin/touch1/OUT"},
		{T("#"), "chip/touch1/status pin/touch1/IN pin/touch1/OUT pin/touch2/IN"},
		{T("pin", "touch1"), ""},
		{T("pin", "+"), ""},
		{T("log", "+"), ""},
	}
	for _, tc := range cases {
		sub := c.Subscribe(tc.pattern)
		if got := strings.Join(replayed(sub), " "); got != tc.want {
			t.Fatalf("replay for %v = %q, want %q", tc.pattern, got, tc.want)
		}
		c.Unsubscribe(sub)
	}
}

func TestWildcard_LiveDelivery(t *testing.T) {
	cases := []struct {
		pattern Topic
		topic   Topic
		match   bool
	}{
		{T("pin", "+", "OUT"), T("pin", "touch1", "OUT"), true},
		{T("pin", "+", "OUT"), T("pin", "touch1", "IN"), false},
		{T("pin", "+", "OUT"), T("pin", "touch1"), false},
		{T("pin", "#"), T("pin"), true},
		{T("pin", "#"), T("pin", "touch1", "OUT", "extra"), true},
		{T("pin", "#"), T("log", "touch1"), false},
		{T("#"), T("heartbeat"), true},
		{T("log", "+"), T("log"), false},
		{T("touch", 1, "value"), T("touch", 1, "value"), true},
		{T("touch", 1, "value"), T("touch", "1", "value"), false},
	}
	for _, tc := range cases {
		b := NewBus(4)
		c := b.NewConnection("test")
		sub := c.Subscribe(tc.pattern)
		c.Publish(c.NewMessage(tc.topic, "x", false))
		got := len(replayed(sub)) == 1
		if got != tc.match {
			t.Fatalf("pattern %v, topic %v: delivered=%v, want %v", tc.pattern, tc.topic, got, tc.match)
		}
	}
}

func TestRetained_LatestWins(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("sim")
	tp := T("pin", "touch1", "OUT")
	c.Publish(c.NewMessage(tp, "high", true))
	c.Publish(c.NewMessage(tp, "low", true))

	sub := c.Subscribe(tp)
	if got := replayed(sub); len(got) != 1 || got[0] != "low" {
		t.Fatalf("replay = %v, want [low]", got)
	}
}

func TestRetained_NilPayloadClears(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("sim")
	tp := T("chip", "touch1", "status")
	c.Publish(c.NewMessage(tp, "ready", true))

	live := c.Subscribe(T("chip", "+", "status"))
	if got := replayed(live); len(got) != 1 {
		t.Fatalf("live replay = %v", got)
	}

	c.Publish(c.NewMessage(tp, nil, true))
	select {
	case m := <-live.Channel():
		if m.Payload != nil || !m.Retained {
			t.Fatalf("clear message = %#v", m)
		}
	default:
		t.Fatal("live subscriber did not see the clear")
	}

	late := c.Subscribe(T("#"))
	if got := replayed(late); len(got) != 0 {
		t.Fatalf("cleared slot replayed: %v", got)
	}

	c.Unsubscribe(live)
	c.Unsubscribe(late)
	if len(b.root.children) != 0 {
		t.Fatalf("cleared topic left trie nodes: %v", b.root.children)
	}

	// Clearing a topic that never held a value creates nothing.
	c.Publish(c.NewMessage(T("pin", "ghost", "IN"), nil, true))
	if len(b.root.children) != 0 {
		t.Fatalf("clear of unknown topic added nodes: %v", b.root.children)
	}
}

func TestRequest_PrivateReplyTopics(t *testing.T) {
	b := NewBus(8)
	ui := b.NewConnection("ui")
	poller := b.NewConnection("touchpoll")
	reads := poller.Subscribe(T("touch", "touch1", "read"))

	r1 := ui.Request(ui.NewMessage(T("touch", "touch1", "read"), nil, false))
	r2 := ui.Request(ui.NewMessage(T("touch", "touch1", "read"), nil, false))
	defer ui.Unsubscribe(r1)
	defer ui.Unsubscribe(r2)

	var got []*Message
	for len(got) < 2 {
		select {
		case m := <-reads.Channel():
			got = append(got, m)
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("requests seen: %d", len(got))
		}
	}
	for _, m := range got {
		if len(m.ReplyTo) != 3 || m.ReplyTo[0] != "_reply" || m.ReplyTo[1] != "ui" {
			t.Fatalf("ReplyTo = %v", m.ReplyTo)
		}
	}
	if got[0].ReplyTo[2] == got[1].ReplyTo[2] {
		t.Fatalf("requests share a reply topic: %v", got[0].ReplyTo)
	}

	// Answer only the second request; the first stays silent.
	poller.Reply(got[1], "x=400", false)
	select {
	case m := <-r2.Channel():
		if m.Payload != "x=400" {
			t.Fatalf("reply payload = %v", m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no reply")
	}
	if extra := replayed(r1); len(extra) != 0 {
		t.Fatalf("first request got %v", extra)
	}
}

func TestReply_WithoutReplyToIsDropped(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	all := c.Subscribe(T("#"))
	c.Reply(c.NewMessage(T("touch", "touch1", "read"), nil, false), "ignored", false)
	if got := replayed(all); len(got) != 0 {
		t.Fatalf("reply without ReplyTo published: %v", got)
	}
}

func TestRequestWait_DeadlineCleansUp(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("ui")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RequestWait(ctx, c.NewMessage(T("touch", "nobody", "read"), nil, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if len(b.root.children) != 0 {
		t.Fatalf("reply subscription left behind: %v", b.root.children)
	}
}

func TestDisconnect_ClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("bridge")
	s1 := c.Subscribe(T("pin", "#"))
	s2 := c.Subscribe(T("log", "+"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%v still open", s.Topic())
		}
	}
	// Unsubscribe after Disconnect must not close twice.
	c.Unsubscribe(s1)
	if len(b.root.children) != 0 {
		t.Fatalf("trie not pruned: %v", b.root.children)
	}
}

func TestUnsubscribe_PrunesAndCloses(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s := c.Subscribe(Topic{"log", "touch1"})
	c.Unsubscribe(s)

	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	if len(b.root.children) != 0 {
		t.Fatalf("trie not pruned: %v", b.root.children)
	}
	// Double unsubscribe is a no-op.
	c.Unsubscribe(s)
}

func TestQueueFull_DropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(Topic{"log", "+"})

	for _, p := range []string{"l1", "l2", "l3"} {
		c.Publish(b.NewMessage(Topic{"log", "touch1"}, p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "l2" || got[1] != "l3" {
		t.Fatalf("got %v, want [l2 l3]", got)
	}
}

func TestT_RejectsUnusableTokens(t *testing.T) {
	for name, tok := range map[string]any{"nil": nil, "slice": []byte{1}, "map": map[string]int{}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s token accepted", name)
				}
			}()
			_ = T("pin", tok)
		}()
	}
	if tp := T("touch", 1, "value"); len(tp) != 3 {
		t.Fatalf("T = %v", tp)
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}
