package livemap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/gorilla/websocket"
)

// FeedEvent is one decoded change-feed message; exactly one field is set
type FeedEvent struct {
	Location *models.LocationUpdateEvent
	Status   *models.StatusUpdateEvent
}

// Feed is the push side of the live map. The returned channel is closed when the
// subscription drops.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan FeedEvent, error)
}

// WSFeed subscribes to the server's /ws change feed
type WSFeed struct {
	url    string
	dialer *websocket.Dialer
}

// NewWSFeed builds a feed for the API at baseURL (http or https)
func NewWSFeed(baseURL, token string) (*WSFeed, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return &WSFeed{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (f *WSFeed) Subscribe(ctx context.Context) (<-chan FeedEvent, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	events := make(chan FeedEvent, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(events)
		defer close(done)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("⚠️  Feed connection dropped: %v", err)
				}
				return
			}
			// The server coalesces queued messages into one frame
			for _, line := range bytes.Split(data, []byte{'\n'}) {
				ev, ok := decodeFeedMessage(line)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

type rawFeedMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeFeedMessage(line []byte) (FeedEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return FeedEvent{}, false
	}
	var msg rawFeedMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Printf("⚠️  Invalid feed message: %v", err)
		return FeedEvent{}, false
	}

	switch msg.Type {
	case models.EventDriverLocationUpdate:
		var ev models.LocationUpdateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return FeedEvent{}, false
		}
		return FeedEvent{Location: &ev}, true
	case models.EventDriverStatusUpdate:
		var ev models.StatusUpdateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return FeedEvent{}, false
		}
		return FeedEvent{Status: &ev}, true
	default:
		// pong and future message types
		return FeedEvent{}, false
	}
}
