package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/argus-wallet/argus/pkg/pusher/events"
	"github.com/argus-wallet/argus/pkg/pusher/metrics"
)

// CancelFn releases the subscription feeding a session.
type CancelFn func()

// session represents an HTTP connection from a client and
// implements a loop to stream events from a channel to http.ResponseWriter.
type session struct {
	eventCh      chan Event
	cancel       CancelFn
	pingInterval time.Duration
}

func newSession() *session {
	return &session{
		eventCh:      make(chan Event, 100),
		cancel:       func() {},
		pingInterval: 5 * time.Second,
	}
}

// SendEvent drops the event when the client is too slow to drain the queue.
func (s *session) SendEvent(event Event) bool {
	select {
	case s.eventCh <- event:
		return true
	default:
		return false
	}
}

func (s *session) SetCancelFn(cancel CancelFn) {
	s.cancel = cancel
}

// StreamEvents writes events until the client goes away or the event channel is closed.
func (s *session) StreamEvents(ctx context.Context, writer http.ResponseWriter) error {
	defer s.cancel()

	flusher := writer.(http.Flusher)
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-s.eventCh:
			if !open {
				return nil
			}
			_, err = fmt.Fprintf(writer, "event: %v\nid: %v\ndata: %v\n\n", msg.Name, msg.EventID, string(msg.Data))
			metrics.SseEventSent(msg.Name)
		case <-ticker.C:
			_, err = fmt.Fprintf(writer, "event: %v\n\n", events.HeartbeatEvent)
		}
		if err != nil {
			// closing a connection
			return err
		}
		flusher.Flush()
	}
}
