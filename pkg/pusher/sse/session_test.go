package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argus-wallet/argus/pkg/pusher/errors"
	"github.com/argus-wallet/argus/pkg/pusher/events"
)

func Test_session_StreamEvents(t *testing.T) {
	cancelIsCalled := atomic.Bool{}
	s := newSession()
	s.pingInterval = 50 * time.Millisecond
	s.SetCancelFn(func() { cancelIsCalled.Store(true) })

	require.True(t, s.SendEvent(Event{Name: events.VaultAccountEvent, EventID: 1, Data: []byte(`{"lamports":1}`)}))
	require.True(t, s.SendEvent(Event{Name: events.VaultAccountEvent, EventID: 2, Data: []byte(`{"lamports":2}`)}))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	require.Nil(t, s.StreamEvents(ctx, rec))
	require.True(t, cancelIsCalled.Load())

	expectedBody := `event: vault-account
id: 1
data: {"lamports":1}

event: vault-account
id: 2
data: {"lamports":2}

event: heartbeat

`
	require.Equal(t, expectedBody, rec.Body.String())
}

func Test_session_SendEventDropsWhenFull(t *testing.T) {
	s := &session{eventCh: make(chan Event, 1)}
	require.True(t, s.SendEvent(Event{EventID: 1}))
	require.False(t, s.SendEvent(Event{EventID: 2}))
}

func TestStream(t *testing.T) {
	tests := []struct {
		name       string
		handler    handlerFunc
		wantStatus int
		wantBody   string
	}{
		{
			name: "events until the source closes",
			handler: func(session *session, request *http.Request) error {
				session.SendEvent(Event{Name: events.VaultAccountEvent, EventID: 7, Data: []byte("x")})
				close(session.eventCh)
				return nil
			},
			wantStatus: http.StatusOK,
			wantBody:   "event: vault-account\nid: 7\ndata: x\n\n",
		},
		{
			name: "handler refuses",
			handler: func(session *session, request *http.Request) error {
				return errors.BadRequest("bad account")
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "bad account",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Stream(tt.handler)(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, tt.wantBody, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
			}
		})
	}
}
