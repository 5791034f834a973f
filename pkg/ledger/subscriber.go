package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"hash/maphash"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v2"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
)

// JsonRPCRequest is a request sent over the cluster's pubsub websocket.
type JsonRPCRequest struct {
	ID      uint64 `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// JsonRPCResponse is either a reply to a request (ID set) or a notification (Method set).
type JsonRPCResponse struct {
	ID      uint64          `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type accountNotification struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
		} `json:"value"`
	} `json:"result"`
}

// AccountUpdate is a new state of a subscribed account.
type AccountUpdate struct {
	Slot    uint64
	Account *core.Account
}

type reply struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	replies chan reply
	// onResult runs on the read loop before the next message is read.
	onResult func(json.RawMessage) error
}

// Subscriber multiplexes account subscriptions over one pubsub websocket. Subscriptions are
// registered in the subscriber itself and live until Close is called on their handle or the
// subscriber is closed.
type Subscriber struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	nextID     atomic.Uint64
	commitment rpc.CommitmentType
	pending    *xsync.MapOf[uint64, pendingCall]
	active     *xsync.MapOf[uint64, *Subscription]
	done       chan struct{}
	closeOnce  sync.Once
	err        error
	logger     *zap.Logger
}

func hashUint64(seed maphash.Seed, v uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum64()
}

// Dial connects to endpoint. http(s) endpoints are converted to ws(s).
func Dial(ctx context.Context, endpoint string, commitment rpc.CommitmentType, logger *zap.Logger) (*Subscriber, error) {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch endpointURL.Scheme {
	case "http":
		endpointURL.Scheme = "ws"
	case "https":
		endpointURL.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpointURL.String(), http.Header{})
	if err != nil {
		return nil, errors.Wrap(core.ErrNetwork, err.Error())
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	s := &Subscriber{
		conn:       conn,
		commitment: commitment,
		pending:    xsync.NewTypedMapOf[uint64, pendingCall](hashUint64),
		active:     xsync.NewTypedMapOf[uint64, *Subscription](hashUint64),
		done:       make(chan struct{}),
		logger:     logger,
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		var response JsonRPCResponse
		if err := json.Unmarshal(msg, &response); err != nil {
			s.logger.Warn("failed to decode pubsub message", zap.Error(err))
			continue
		}
		if response.Method == "accountNotification" {
			s.dispatch(response.Params)
			continue
		}
		call, ok := s.pending.LoadAndDelete(response.ID)
		if !ok {
			continue
		}
		r := reply{result: response.Result}
		if response.Error != nil {
			r.err = &core.RPCError{Code: response.Error.Code, Message: response.Error.Message}
		} else if call.onResult != nil {
			r.err = call.onResult(response.Result)
		}
		call.replies <- r
	}
}

func (s *Subscriber) dispatch(params json.RawMessage) {
	var n accountNotification
	if err := json.Unmarshal(params, &n); err != nil {
		s.logger.Warn("failed to decode account notification", zap.Error(err))
		return
	}
	sub, ok := s.active.Load(n.Subscription)
	if !ok || n.Result.Value == nil {
		return
	}
	account, err := decodeNotifiedAccount(sub.Address, n)
	if err != nil {
		s.logger.Warn("failed to decode account notification", zap.Stringer("account", sub.Address), zap.Error(err))
		return
	}
	sub.deliver(AccountUpdate{Slot: n.Result.Context.Slot, Account: account})
}

func decodeNotifiedAccount(address solana.PublicKey, n accountNotification) (*core.Account, error) {
	v := n.Result.Value
	owner, err := solana.PublicKeyFromBase58(v.Owner)
	if err != nil {
		return nil, err
	}
	account := &core.Account{
		Address:    address,
		Owner:      owner,
		Lamports:   v.Lamports,
		Executable: v.Executable,
	}
	if len(v.Data) > 0 && v.Data[0] != "" {
		raw, err := base64.StdEncoding.DecodeString(v.Data[0])
		if err != nil {
			return nil, err
		}
		account.Data = raw
	}
	return account, nil
}

func (s *Subscriber) call(ctx context.Context, onResult func(json.RawMessage) error, method string, params ...any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan reply, 1)
	s.pending.Store(id, pendingCall{replies: ch, onResult: onResult})
	defer s.pending.Delete(id)

	s.writeMu.Lock()
	err := s.conn.WriteJSON(JsonRPCRequest{ID: id, JSONRPC: "2.0", Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		return nil, errors.Wrap(core.ErrNetwork, err.Error())
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.Wrap(core.ErrNetwork, "pubsub connection closed")
	case r := <-ch:
		return r.result, r.err
	}
}

// SubscribeAccount starts delivering updates of address to the returned handle.
func (s *Subscriber) SubscribeAccount(ctx context.Context, address solana.PublicKey) (*Subscription, error) {
	sub := &Subscription{
		Address:    address,
		subscriber: s,
		updates:    make(chan AccountUpdate, 16),
	}
	// registered from the read loop so that a notification following the reply is not lost
	register := func(result json.RawMessage) error {
		if err := json.Unmarshal(result, &sub.id); err != nil {
			return errors.Wrap(err, "decode subscription id")
		}
		s.active.Store(sub.id, sub)
		return nil
	}
	_, err := s.call(ctx, register, "accountSubscribe", address.String(), map[string]string{
		"encoding":   "base64",
		"commitment": string(s.commitment),
	})
	if err != nil {
		if sub.id != 0 {
			sub.Close()
		}
		return nil, errors.Wrapf(err, "subscribe to %s", address)
	}
	return sub, nil
}

func (s *Subscriber) unsubscribe(sub *Subscription) {
	s.active.Delete(sub.id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.call(ctx, nil, "accountUnsubscribe", sub.id); err != nil {
		s.logger.Debug("failed to unsubscribe", zap.Stringer("account", sub.Address), zap.Error(err))
	}
}

// Done is closed when the connection is lost or the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscriber stopped.
func (s *Subscriber) Err() error {
	<-s.done
	return s.err
}

func (s *Subscriber) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		s.active.Range(func(id uint64, sub *Subscription) bool {
			sub.closeLocal()
			s.active.Delete(id)
			return true
		})
	})
}

func (s *Subscriber) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	err := s.conn.Close()
	s.shutdown(errors.New("subscriber closed"))
	return err
}

// Subscription is a handle to one account subscription.
type Subscription struct {
	Address    solana.PublicKey
	id         uint64
	subscriber *Subscriber
	updates    chan AccountUpdate
	mu         sync.Mutex
	isClosed   bool
}

// Updates delivers account states. The channel is closed when the subscription ends.
func (s *Subscription) Updates() <-chan AccountUpdate {
	return s.updates
}

func (s *Subscription) deliver(update AccountUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	select {
	case s.updates <- update:
	default:
		// the consumer is behind, the next update carries the full state anyway
	}
}

func (s *Subscription) closeLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return false
	}
	s.isClosed = true
	close(s.updates)
	return true
}

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.closeLocal() {
		s.subscriber.unsubscribe(s)
	}
}
