package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/pusher/errors"
	"github.com/argus-wallet/argus/pkg/pusher/events"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "argus_stream_dropped_events_total",
	Help: "Events dropped because a client did not keep up",
})

type AccountSubscriber interface {
	SubscribeAccount(ctx context.Context, address solana.PublicKey) (*ledger.Subscription, error)
}

// Handler streams account changes to SSE clients.
type Handler struct {
	subscriber     AccountSubscriber
	currentEventID int64
}

func NewHandler(subscriber AccountSubscriber) *Handler {
	return &Handler{
		subscriber:     subscriber,
		currentEventID: time.Now().UnixNano(),
	}
}

func (h *Handler) nextID() int64 {
	return atomic.AddInt64(&h.currentEventID, 1)
}

type accountEvent struct {
	Account  string `json:"account"`
	Slot     uint64 `json:"slot"`
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
	DataLen  int    `json:"data_len"`
}

// Account streams the account picked by resolve for each request.
func (h *Handler) Account(resolve func(*http.Request) (solana.PublicKey, error)) http.HandlerFunc {
	return Stream(func(session *session, request *http.Request) error {
		if h.subscriber == nil {
			return errors.BadRequest("account subscriptions are not configured")
		}
		address, err := resolve(request)
		if err != nil {
			return errors.BadRequest(err.Error())
		}
		sub, err := h.subscriber.SubscribeAccount(request.Context(), address)
		if err != nil {
			return errors.BadGateway(err.Error())
		}
		go func() {
			defer close(session.eventCh)
			for update := range sub.Updates() {
				data, err := json.Marshal(accountEvent{
					Account:  address.String(),
					Slot:     update.Slot,
					Lamports: update.Account.Lamports,
					Owner:    update.Account.Owner.String(),
					DataLen:  len(update.Account.Data),
				})
				if err != nil {
					continue
				}
				if !session.SendEvent(Event{Name: events.VaultAccountEvent, EventID: h.nextID(), Data: data}) {
					droppedEvents.Inc()
				}
			}
		}()
		session.SetCancelFn(sub.Close)
		return nil
	})
}
