package eventfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/gateway"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

func TestSubscriberReceivesEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	msgBus := bus.New()
	srv := gateway.NewServer(gateway.ServerOptions{Config: config.Static(cfg), Inbound: msgBus, Events: msgBus})
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, wsURL, "wrong"); err == nil {
		t.Fatal("expected dial with a bad token to fail")
	}

	sub, err := Dial(ctx, wsURL, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sub.Close()

	first, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.Event != protocol.EventHealth {
		t.Fatalf("first frame = %+v", first)
	}

	msgBus.Broadcast(bus.Event{Name: protocol.EventDirectiveQueued, Payload: map[string]string{"id": "d1"}})

	var got []protocol.EventFrame
	err = sub.Each(ctx, func(f protocol.EventFrame) bool {
		got = append(got, f)
		return false
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(got) != 1 || got[0].Event != protocol.EventDirectiveQueued || got[0].Seq != 1 {
		t.Fatalf("frames = %+v", got)
	}
	payload, ok := got[0].Payload.(map[string]interface{})
	if !ok || payload["id"] != "d1" {
		t.Errorf("payload = %#v", got[0].Payload)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		filter, event string
		want          bool
	}{
		{"", "chat.started", true},
		{"chat.", "chat.started", true},
		{"chat.", "confirm.requested", false},
		{"directive.failed, confirm.", "confirm.resolved", true},
		{"directive.failed", "directive.completed", false},
		{"chat", "chat.started", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"/"+tt.event, func(t *testing.T) {
			if got := Matches(tt.filter, tt.event); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.filter, tt.event, got, tt.want)
			}
		})
	}
}

func TestURL(t *testing.T) {
	if got := URL("0.0.0.0", 18790); got != "ws://127.0.0.1:18790/ws" {
		t.Errorf("URL = %q", got)
	}
	if got := URL("gw.local", 80); got != "ws://gw.local:80/ws" {
		t.Errorf("URL = %q", got)
	}
}
