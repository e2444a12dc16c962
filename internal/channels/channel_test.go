package channels

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name   string
		allow  []string
		sender string
		want   bool
	}{
		{"empty allowlist", nil, "123|bob", true},
		{"id match", []string{"123"}, "123|bob", true},
		{"username match", []string{"@bob"}, "123|bob", true},
		{"plain id", []string{"123"}, "123", true},
		{"no match", []string{"999", "alice"}, "123|bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", bus.New(), tt.allow)
			if got := c.IsAllowed(tt.sender); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestHandleMessagePublishes(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("discord", b, []string{"123"})

	c.HandleMessage("999|eve", bus.Destination{ChannelID: "c1"}, "m0", "ignored", nil)
	c.HandleMessage("123|bob", bus.Destination{ChannelID: "c1", ThreadID: "t1"}, "m1", "hello", nil)
	c.HandleAction("123|bob", bus.Destination{ChannelID: "c1", ThreadID: "t1"}, "m2", "aicib:confirm:t1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected inbound message")
	}
	if msg.Content != "hello" || msg.ThreadID != "t1" || msg.MessageID != "m1" || msg.Channel != "discord" {
		t.Errorf("unexpected message: %+v", msg)
	}
	act, ok := b.ConsumeInbound(ctx)
	if !ok || act.ActionID != "aicib:confirm:t1" {
		t.Errorf("expected action, got %+v", act)
	}
}

func TestActionIDRoundTrip(t *testing.T) {
	id := EncodeActionID("proceed", "thread-42")
	kind, key, ok := DecodeActionID(id)
	if !ok || kind != "proceed" || key != "thread-42" {
		t.Fatalf("DecodeActionID(%q) = %q, %q, %v", id, kind, key, ok)
	}
	for _, bad := range []string{"", "proceed:x", "aicib:", "aicib:proceed", "aicib::x", "other:proceed:x"} {
		if _, _, ok := DecodeActionID(bad); ok {
			t.Errorf("DecodeActionID(%q) should fail", bad)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := Truncate("日本語のテキストです", 8)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis, got %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Errorf("rune split in %q", got)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := SplitMessage(text, 40)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %q", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 30)+"\n" {
		t.Errorf("first chunk = %q", chunks[0])
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the input")
	}

	multi := strings.Repeat("é", 10) // 2 bytes each
	for _, c := range SplitMessage(multi, 5) {
		if len(c) > 5 || !utf8.ValidString(c) {
			t.Errorf("bad chunk %q", c)
		}
	}
	if got := SplitMessage("", 10); len(got) != 1 || got[0] != "" {
		t.Errorf("empty input = %q", got)
	}
}

type fakePlatform struct {
	*BaseChannel
	mu        sync.Mutex
	posts     []bus.Payload
	reactions []bus.Reaction
	postErr   error
	posted    chan struct{}
}

func newFakePlatform(b *bus.MessageBus) *fakePlatform {
	return &fakePlatform{BaseChannel: NewBaseChannel("fake", b, nil), posted: make(chan struct{}, 16)}
}

func (f *fakePlatform) Start(context.Context) error { f.SetRunning(true); return nil }
func (f *fakePlatform) Stop(context.Context) error  { f.SetRunning(false); return nil }

func (f *fakePlatform) PostMessage(_ context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return bus.MessageRef{}, f.postErr
	}
	f.posts = append(f.posts, p)
	f.posted <- struct{}{}
	return bus.MessageRef{ChannelID: dest.ChannelID, MessageID: "p1"}, nil
}

func (f *fakePlatform) UpdateMessage(context.Context, bus.MessageRef, bus.Payload) error { return nil }

func (f *fakePlatform) AddReaction(_ context.Context, _ bus.MessageRef, r bus.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, r)
	f.posted <- struct{}{}
	return nil
}

func (f *fakePlatform) RemoveReaction(context.Context, bus.MessageRef, bus.Reaction) error {
	return nil
}

func TestManagerDispatchesOutbound(t *testing.T) {
	b := bus.New()
	p := newFakePlatform(b)
	m := NewManager(b, 0, nil)
	m.RegisterChannel("fake", p)

	ctx := context.Background()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(ctx)

	out := m.Outbox("fake")
	out.Post(bus.Destination{ChannelID: "c1"}, bus.Payload{Text: "hi"})
	out.React(bus.MessageRef{ChannelID: "c1", MessageID: "m1"}, bus.ReactionAck)
	out.React(bus.MessageRef{}, bus.ReactionAck) // zero ref is dropped

	for i := 0; i < 2; i++ {
		select {
		case <-p.posted:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.posts) != 1 || p.posts[0].Text != "hi" {
		t.Errorf("posts = %+v", p.posts)
	}
	if len(p.reactions) != 1 || p.reactions[0] != bus.ReactionAck {
		t.Errorf("reactions = %+v", p.reactions)
	}
}

func TestPostAwait(t *testing.T) {
	b := bus.New()
	p := newFakePlatform(b)
	m := NewManager(b, 10, nil)
	m.RegisterChannel("fake", p)

	ctx := context.Background()
	if _, err := m.Outbox("fake").PostAwait(ctx, bus.Destination{ChannelID: "c1"}, bus.Payload{Text: "x"}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}

	_ = p.Start(ctx)
	ref, err := m.Outbox("fake").PostAwait(ctx, bus.Destination{ChannelID: "c1"}, bus.Payload{Text: "x"})
	if err != nil || ref.MessageID != "p1" {
		t.Fatalf("PostAwait = %+v, %v", ref, err)
	}

	if _, err := m.Outbox("missing").PostAwait(ctx, bus.Destination{}, bus.Payload{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning for unknown platform, got %v", err)
	}
}

func TestCallerRateLimiter(t *testing.T) {
	r := NewCallerRateLimiter(time.Minute, 3)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !r.Allow("1.2.3.4") {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if r.Allow("1.2.3.4") {
		t.Error("fourth hit should be rejected")
	}
	if !r.Allow("5.6.7.8") {
		t.Error("other key should be allowed")
	}
	now = now.Add(time.Minute)
	if !r.Allow("1.2.3.4") {
		t.Error("new window should allow")
	}
}
