package confirm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels/channelstest"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/clock"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

type routed struct {
	path string // "directive" or "chat"
	text string
	dest bus.Destination
}

type fakeRouter struct {
	mu  sync.Mutex
	got []routed
}

func (r *fakeRouter) ToDirective(text string, dest bus.Destination, _ bus.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, routed{"directive", text, dest})
}

func (r *fakeRouter) ToChat(text string, dest bus.Destination, _ bus.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, routed{"chat", text, dest})
}

func (r *fakeRouter) routes() []routed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routed(nil), r.got...)
}

var thread = bus.Destination{ChannelID: "ceo-ch", ThreadID: "t1"}

func newWorkflow() (*Workflow, *channelstest.Recorder, *fakeRouter, *clock.FakeClock) {
	rec := &channelstest.Recorder{}
	router := &fakeRouter{}
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	w := New(Options{Out: rec, Router: router, Config: config.Static(config.Default()), Clock: clk})
	return w, rec, router, clk
}

func actionID(t *testing.T, rec *channelstest.Recorder, i int) string {
	t.Helper()
	posts := rec.Posts()
	if len(posts) == 0 {
		t.Fatal("no prompt posted")
	}
	p := posts[len(posts)-1]
	if !p.Awaited || len(p.Payload.Actions) != 2 {
		t.Fatalf("prompt = %+v", p)
	}
	return p.Payload.Actions[i].ID
}

func TestNoThreadGoesToDirective(t *testing.T) {
	w, rec, router, _ := newWorkflow()
	w.Request(context.Background(), "ship it", bus.Destination{ChannelID: "ceo-ch"}, bus.MessageRef{})

	if got := router.routes(); len(got) != 1 || got[0].path != "directive" {
		t.Fatalf("routes = %+v", got)
	}
	if len(rec.Posts()) != 0 {
		t.Error("no prompt expected without a thread")
	}
}

func TestResolutions(t *testing.T) {
	tests := []struct {
		name     string
		resolve  func(t *testing.T, w *Workflow, rec *channelstest.Recorder, clk *clock.FakeClock)
		wantPath string
		wantNote string
	}{
		{
			name: "proceed click",
			resolve: func(t *testing.T, w *Workflow, rec *channelstest.Recorder, _ *clock.FakeClock) {
				if !w.HandleAction(thread, actionID(t, rec, 0)) {
					t.Fatal("action not handled")
				}
			},
			wantPath: "directive",
			wantNote: "Queued as a directive.",
		},
		{
			name: "chat click",
			resolve: func(t *testing.T, w *Workflow, rec *channelstest.Recorder, _ *clock.FakeClock) {
				w.HandleAction(thread, actionID(t, rec, 1))
			},
			wantPath: "chat",
			wantNote: "OK, treating it as conversation.",
		},
		{
			name: "typed yes",
			resolve: func(t *testing.T, w *Workflow, _ *channelstest.Recorder, _ *clock.FakeClock) {
				if !w.HandleReply(thread, "Yes!") {
					t.Fatal("reply not consumed")
				}
			},
			wantPath: "directive",
			wantNote: "Queued as a directive.",
		},
		{
			name: "typed cancel",
			resolve: func(t *testing.T, w *Workflow, _ *channelstest.Recorder, _ *clock.FakeClock) {
				w.HandleReply(thread, "cancel")
			},
			wantPath: "chat",
			wantNote: "OK, treating it as conversation.",
		},
		{
			name: "timeout",
			resolve: func(t *testing.T, _ *Workflow, _ *channelstest.Recorder, clk *clock.FakeClock) {
				clk.Advance(2 * time.Minute)
			},
			wantPath: "chat",
			wantNote: "No response, treating it as conversation.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, rec, router, clk := newWorkflow()
			w.Request(context.Background(), "draft the board deck", thread, bus.MessageRef{ChannelID: "t1", MessageID: "in1"})
			if !w.IsPending("t1") || clk.Pending() != 1 {
				t.Fatalf("confirmation not pending")
			}

			tt.resolve(t, w, rec, clk)

			got := router.routes()
			if len(got) != 1 || got[0].path != tt.wantPath || got[0].text != "draft the board deck" || got[0].dest != thread {
				t.Fatalf("routes = %+v", got)
			}
			ups := rec.Updates()
			if len(ups) != 1 || ups[0].Payload.Text != tt.wantNote || !ups[0].Payload.ClearActions {
				t.Errorf("updates = %+v", ups)
			}
			if w.IsPending("t1") || clk.Pending() != 0 {
				t.Error("confirmation still pending")
			}
		})
	}
}

func TestResolveAtMostOnce(t *testing.T) {
	w, rec, router, clk := newWorkflow()
	w.Request(context.Background(), "draft the board deck", thread, bus.MessageRef{})
	proceed := actionID(t, rec, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.HandleAction(thread, proceed)
		}()
	}
	wg.Wait()
	clk.Advance(5 * time.Minute)

	if got := router.routes(); len(got) != 1 {
		t.Fatalf("resolved %d times: %+v", len(got), got)
	}
	late := 0
	for _, p := range rec.Posts() {
		if p.Payload.Text == "That confirmation already closed." {
			late++
		}
	}
	if late != 7 {
		t.Errorf("late resolutions told = %d, want 7", late)
	}
	if _, ok := w.Resolve("t1"); ok {
		t.Error("Resolve found a resolved confirmation")
	}
}

func TestSupersede(t *testing.T) {
	w, rec, router, clk := newWorkflow()
	w.Request(context.Background(), "first idea", thread, bus.MessageRef{})
	oldProceed := actionID(t, rec, 0)
	w.Request(context.Background(), "second idea", thread, bus.MessageRef{})

	got := router.routes()
	if len(got) != 1 || got[0].path != "chat" || got[0].text != "first idea" {
		t.Fatalf("routes = %+v", got)
	}
	if ups := rec.Updates(); len(ups) != 1 || ups[0].Payload.Text != "Superseded by a newer message." {
		t.Errorf("updates = %+v", ups)
	}
	if clk.Pending() != 1 || w.Len() != 1 {
		t.Errorf("pending timers=%d confirmations=%d", clk.Pending(), w.Len())
	}

	// A stale button must not resolve the newer confirmation.
	w.HandleAction(thread, oldProceed)
	if !w.IsPending("t1") {
		t.Fatal("stale button resolved the new confirmation")
	}
	w.HandleAction(thread, actionID(t, rec, 0))
	got = router.routes()
	if len(got) != 2 || got[1].path != "directive" || got[1].text != "second idea" {
		t.Errorf("routes = %+v", got)
	}
}

func TestPromptFailureFallsBackToChat(t *testing.T) {
	w, rec, router, clk := newWorkflow()
	rec.PostAwaitErr = errors.New("discord down")

	w.Request(context.Background(), "draft the board deck", thread, bus.MessageRef{})

	if got := router.routes(); len(got) != 1 || got[0].path != "chat" {
		t.Fatalf("routes = %+v", got)
	}
	if w.IsPending("t1") || clk.Pending() != 0 {
		t.Error("failed prompt left state behind")
	}
}

func TestHandleActionIgnoresForeignIDs(t *testing.T) {
	w, _, _, _ := newWorkflow()
	if w.HandleAction(thread, "something-else") {
		t.Error("foreign id handled")
	}
	if w.HandleAction(thread, channels.EncodeActionID("other", "x")) {
		t.Error("foreign kind handled")
	}
}

func TestHandleReplyLeavesOtherText(t *testing.T) {
	w, _, router, _ := newWorkflow()
	w.Request(context.Background(), "draft the board deck", thread, bus.MessageRef{})

	if w.HandleReply(thread, "yes, and also add the Q3 chart") {
		t.Error("long reply consumed")
	}
	if w.HandleReply(bus.Destination{ChannelID: "ceo-ch", ThreadID: "t2"}, "yes") {
		t.Error("reply in another thread consumed")
	}
	if len(router.routes()) != 0 {
		t.Error("nothing should be routed")
	}
}

// slowPrompt holds PostAwait until release is closed.
type slowPrompt struct {
	*channelstest.Recorder
	posting chan struct{}
	release chan struct{}
}

func (s *slowPrompt) PostAwait(ctx context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	close(s.posting)
	<-s.release
	return s.Recorder.PostAwait(ctx, dest, p)
}

func TestReplyWhilePromptPosting(t *testing.T) {
	out := &slowPrompt{Recorder: &channelstest.Recorder{}, posting: make(chan struct{}), release: make(chan struct{})}
	router := &fakeRouter{}
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	w := New(Options{Out: out, Router: router, Config: config.Static(config.Default()), Clock: clk})

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Request(context.Background(), "draft the board deck", thread, bus.MessageRef{})
	}()
	<-out.posting
	if !w.HandleReply(thread, "yes") {
		t.Fatal("reply not consumed")
	}
	close(out.release)
	<-done

	if got := router.routes(); len(got) != 1 || got[0].path != "directive" {
		t.Fatalf("routes = %+v", got)
	}
	ups := out.Updates()
	if len(ups) != 1 || ups[0].Payload.Text != "Queued as a directive." || !ups[0].Payload.ClearActions {
		t.Errorf("updates = %+v", ups)
	}
	if w.IsPending("t1") || clk.Pending() != 0 {
		t.Error("confirmation left state behind")
	}
}
