package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok || msg.Content != "hi" {
		t.Fatalf("ConsumeInbound = %+v, %v", msg, ok)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("ConsumeInbound on cancelled context should return false")
	}
}

// TestPublishOutboundNeverBlocks verifies a saturated outbound queue drops
// instead of stalling the producer.
func TestPublishOutboundNeverBlocks(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultOutboundBuffer+10; i++ {
			b.PublishOutbound(OutboundMessage{Op: OpPost})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishOutbound blocked on a full queue")
	}
}

func TestDroppedOutboundLogged(t *testing.T) {
	var logs bytes.Buffer
	b := New(WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	for i := 0; i < defaultOutboundBuffer+3; i++ {
		b.PublishOutbound(OutboundMessage{Channel: "discord", Op: OpPost, Destination: Destination{ChannelID: "ceo-ch"}})
	}

	if n := strings.Count(logs.String(), `"msg":"bus: outbound queue full, dropping message"`); n != 3 {
		t.Errorf("drop records = %d, want 3\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), `"chat_id":"ceo-ch"`) {
		t.Errorf("drop record missing destination: %s", logs.String())
	}
}

func TestBroadcast(t *testing.T) {
	b := New()
	var got atomic.Int32
	b.Subscribe("a", func(Event) { got.Add(1) })
	b.Subscribe("b", func(Event) { got.Add(1) })
	b.Broadcast(Event{Name: "x"})
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "y"})
	if got.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", got.Load())
	}
}

func TestDedupeCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewDedupeCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	if c.IsDuplicate("a") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !c.IsDuplicate("a") {
		t.Fatal("second sighting not reported as duplicate")
	}
	if c.IsDuplicate("") || c.IsDuplicate("") {
		t.Error("empty key must never be a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if c.IsDuplicate("a") {
		t.Error("expired key reported as duplicate")
	}

	c.IsDuplicate("b")
	c.IsDuplicate("c")
	if c.Len() > 2 {
		t.Errorf("Len = %d, want at most 2", c.Len())
	}
	if c.IsDuplicate("a") {
		t.Error("oldest key should have been evicted")
	}
}

func TestInboundRef(t *testing.T) {
	m := InboundMessage{ChatID: "parent", ThreadID: "th", MessageID: "m1",
		Metadata: map[string]string{"message_channel_id": "th"}}
	if ref := m.Ref(); ref.ChannelID != "th" || ref.MessageID != "m1" {
		t.Errorf("Ref = %+v", ref)
	}
	if d := m.Destination(); d.ChannelID != "parent" || d.ThreadID != "th" {
		t.Errorf("Destination = %+v", d)
	}
}
