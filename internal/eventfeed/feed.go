// Package eventfeed is a client for the gateway's /ws event stream.
package eventfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

const readLimit = 1 << 20

// URL builds the feed URL for a gateway listening on host:port.
func URL(host string, port int) string {
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d/ws", host, port)
}

// Subscriber reads event frames from one connection.
type Subscriber struct {
	conn *websocket.Conn
}

// Dial connects to the feed at rawURL. token, when set, is sent as a
// bearer token.
func Dial(ctx context.Context, rawURL, token string) (*Subscriber, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("eventfeed: bad url: %w", err)
	}
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, rawURL, opts)
	if err != nil {
		return nil, fmt.Errorf("eventfeed: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return &Subscriber{conn: conn}, nil
}

// Next blocks for the next frame.
func (s *Subscriber) Next(ctx context.Context) (protocol.EventFrame, error) {
	var frame protocol.EventFrame
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("eventfeed: decode frame: %w", err)
	}
	return frame, nil
}

// Each calls fn for every frame until ctx ends, the server closes the
// stream or fn returns false. A normal close is not an error.
func (s *Subscriber) Each(ctx context.Context, fn func(protocol.EventFrame) bool) error {
	for {
		frame, err := s.Next(ctx)
		if err != nil {
			if IsClosed(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !fn(frame) {
			return nil
		}
	}
}

// Close sends a normal close frame.
func (s *Subscriber) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// IsClosed reports whether err is the peer closing the stream normally.
func IsClosed(err error) bool {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway
	}
	return false
}

// Matches reports whether the event name is selected by filter, a comma
// separated list of names or prefixes ending in ".". An empty filter
// matches everything.
func Matches(filter, event string) bool {
	if filter == "" {
		return true
	}
	for _, f := range strings.Split(filter, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if f == event || (strings.HasSuffix(f, ".") && strings.HasPrefix(event, f)) {
			return true
		}
	}
	return false
}
