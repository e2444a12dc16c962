// Package channelstest provides an in-memory channels.Messenger that
// records every call synchronously.
package channelstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
)

// Post is a recorded post.
type Post struct {
	Dest    bus.Destination
	Payload bus.Payload
	Ref     bus.MessageRef
	Awaited bool
}

// Update is a recorded edit.
type Update struct {
	Ref     bus.MessageRef
	Payload bus.Payload
}

// Reaction is a recorded reaction change.
type Reaction struct {
	Ref      bus.MessageRef
	Reaction bus.Reaction
	Removed  bool
}

// Recorder implements channels.Messenger.
type Recorder struct {
	mu        sync.Mutex
	posts     []Post
	updates   []Update
	reactions []Reaction
	seq       int

	// PostAwaitErr, when set, fails every PostAwait call.
	PostAwaitErr error
}

var _ channels.Messenger = (*Recorder)(nil)

func (r *Recorder) record(dest bus.Destination, p bus.Payload, awaited bool) bus.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ref := bus.MessageRef{ChannelID: dest.ChannelID, MessageID: fmt.Sprintf("m%d", r.seq)}
	if dest.ThreadID != "" {
		ref.ChannelID = dest.ThreadID
	}
	r.posts = append(r.posts, Post{Dest: dest, Payload: p, Ref: ref, Awaited: awaited})
	return ref
}

func (r *Recorder) Post(dest bus.Destination, p bus.Payload) {
	r.record(dest, p, false)
}

func (r *Recorder) PostAwait(_ context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	if r.PostAwaitErr != nil {
		return bus.MessageRef{}, r.PostAwaitErr
	}
	return r.record(dest, p, true), nil
}

func (r *Recorder) Update(ref bus.MessageRef, p bus.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{Ref: ref, Payload: p})
}

func (r *Recorder) React(ref bus.MessageRef, reaction bus.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, Reaction{Ref: ref, Reaction: reaction})
}

func (r *Recorder) Unreact(ref bus.MessageRef, reaction bus.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, Reaction{Ref: ref, Reaction: reaction, Removed: true})
}

// Posts returns a copy of the recorded posts.
func (r *Recorder) Posts() []Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Post(nil), r.posts...)
}

// Texts returns the text of every recorded post in order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.posts))
	for i, p := range r.posts {
		out[i] = p.Payload.Text
	}
	return out
}

// Updates returns a copy of the recorded edits.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// Reactions returns a copy of the recorded reaction changes.
func (r *Recorder) Reactions() []Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reaction(nil), r.reactions...)
}
