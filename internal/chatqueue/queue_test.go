package chatqueue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPerAgentOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	q := New(HandlerFunc(func(_ context.Context, m Message) error {
		mu.Lock()
		got = append(got, m.Text)
		mu.Unlock()
		return nil
	}), nil, nil)

	for _, text := range []string{"one", "two", "three"} {
		q.Enqueue(Message{AgentKey: "cto", Text: text})
	}
	waitFor(t, func() bool { return !q.Busy("cto") })

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("order = %v", got)
	}
}

func TestAgentsIndependent(t *testing.T) {
	block := make(chan struct{})
	ctoDone := make(chan struct{})
	q := New(HandlerFunc(func(_ context.Context, m Message) error {
		switch m.AgentKey {
		case "cmo":
			<-block
		case "cto":
			close(ctoDone)
		}
		return nil
	}), nil, nil)

	q.Enqueue(Message{AgentKey: "cmo", Text: "slow"})
	q.Enqueue(Message{AgentKey: "cmo", Text: "waits"})
	waitFor(t, func() bool { return q.Busy("cmo") && q.Len("cmo") == 1 })

	q.Enqueue(Message{AgentKey: "cto", Text: "fast"})
	select {
	case <-ctoDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cto blocked behind cmo")
	}
	if q.Len("cmo") != 1 {
		t.Error("second cmo message should still wait")
	}
	close(block)
	waitFor(t, func() bool { return !q.Busy("cmo") })
}

func TestFailureReportedAndLoopContinues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var mu sync.Mutex
	var reported []string
	var handled []string
	q := New(HandlerFunc(func(_ context.Context, m Message) error {
		mu.Lock()
		handled = append(handled, m.Text)
		mu.Unlock()
		switch m.Text {
		case "fail":
			return errors.New("engine crashed")
		case "panic":
			panic("kaboom")
		}
		return nil
	}), func(m Message, err error) {
		mu.Lock()
		reported = append(reported, m.Text+": "+err.Error())
		mu.Unlock()
	}, logger)

	for _, text := range []string{"fail", "panic", "fine"} {
		q.Enqueue(Message{AgentKey: "cfo", Text: text})
	}
	waitFor(t, func() bool { return !q.Busy("cfo") })

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 3 {
		t.Errorf("handled = %v", handled)
	}
	if len(reported) != 2 || !strings.Contains(reported[1], "kaboom") {
		t.Errorf("reported = %v", reported)
	}
	if !strings.Contains(buf.String(), "chat turn failed") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestStop(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	q := New(HandlerFunc(func(_ context.Context, m Message) error {
		mu.Lock()
		handled = append(handled, m.Text)
		mu.Unlock()
		<-release
		return nil
	}), nil, nil)

	q.Enqueue(Message{AgentKey: "ceo", Text: "running"})
	q.Enqueue(Message{AgentKey: "ceo", Text: "dropped"})
	waitFor(t, func() bool { return q.Len("ceo") == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop = %v", err)
	}
	close(release)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(Message{AgentKey: "ceo", Text: "late"})

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Errorf("handled = %v", handled)
	}
}
