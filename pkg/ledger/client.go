// Package ledger is the wallet's access layer to a Solana cluster: account reads, transaction
// submission, confirmation polling and account subscriptions.
package ledger

import (
	"context"
	"time"

	"github.com/Narasimha1997/ratelimiter"
	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/cache"
	"github.com/argus-wallet/argus/pkg/core"
)

var rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "argus_rpc_request_duration_seconds",
	Help:    "Duration of Solana JSON-RPC calls by method",
	Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"method", "status"})

// AddressLookupTableProgramID owns address lookup table accounts.
var AddressLookupTableProgramID = solana.MustPublicKeyFromBase58("AddressLookupTab1e1111111111111111111111111")

const lookupTableHeaderSize = 56

type Options struct {
	Commitment rpc.CommitmentType
	// RequestsPerSecond bounds calls made through one client.
	RequestsPerSecond uint64
	// PollInterval is the delay between signature status reads in ConfirmTransaction.
	PollInterval time.Duration
	// LookupTableCacheSize is the number of decoded lookup tables kept in memory.
	LookupTableCacheSize int
}

func DefaultOptions() Options {
	return Options{
		Commitment:           rpc.CommitmentConfirmed,
		RequestsPerSecond:    20,
		PollInterval:         500 * time.Millisecond,
		LookupTableCacheSize: 256,
	}
}

// Client wraps a JSON-RPC endpoint. It is safe for concurrent use.
type Client struct {
	rpc          *rpc.Client
	limiter      *ratelimiter.DefaultLimiter
	lookupTables cache.Cache[solana.PublicKey, solana.PublicKeySlice]
	opts         Options
	logger       *zap.Logger
}

func NewClient(endpoint string, opts Options, logger *zap.Logger) *Client {
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = DefaultOptions().RequestsPerSecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.LookupTableCacheSize == 0 {
		opts.LookupTableCacheSize = DefaultOptions().LookupTableCacheSize
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:          rpc.New(endpoint),
		limiter:      ratelimiter.NewDefaultLimiter(opts.RequestsPerSecond, time.Second),
		lookupTables: cache.NewLRUCache[solana.PublicKey, solana.PublicKeySlice](opts.LookupTableCacheSize, "lookup_tables"),
		opts:         opts,
		logger:       logger,
	}
}

func (c *Client) wait(ctx context.Context) error {
	for {
		allowed, err := c.limiter.ShouldAllow(1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (c *Client) observe(method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	rpcRequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}

// GetAccount returns core.ErrEntityNotFound if the account does not exist.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.opts.Commitment,
		Encoding:   solana.EncodingBase64,
	})
	c.observe("getAccountInfo", start, err)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, core.ErrEntityNotFound
	}
	if err != nil {
		return nil, convertError(err)
	}
	if res == nil || res.Value == nil {
		return nil, core.ErrEntityNotFound
	}
	account := &core.Account{
		Address:    address,
		Owner:      res.Value.Owner,
		Lamports:   res.Value.Lamports,
		Executable: res.Value.Executable,
	}
	if res.Value.Data != nil {
		account.Data = res.Value.Data.GetBinary()
	}
	return account, nil
}

func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	res, err := c.rpc.GetBalance(ctx, address, c.opts.Commitment)
	c.observe("getBalance", start, err)
	if err != nil {
		return 0, convertError(err)
	}
	return res.Value, nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	start := time.Now()
	res, err := c.rpc.GetLatestBlockhash(ctx, c.opts.Commitment)
	c.observe("getLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, convertError(err)
	}
	return res.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction. With skipPreflight the node does not simulate
// it, so program errors only show up in the signature status.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: c.opts.Commitment,
	})
	c.observe("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, convertError(err)
	}
	return sig, nil
}

func (c *Client) SendRawTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	start := time.Now()
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: c.opts.Commitment,
	})
	c.observe("sendRawTransaction", start, err)
	if err != nil {
		return solana.Signature{}, convertError(err)
	}
	return sig, nil
}

// SignatureStatus returns core.ErrEntityNotFound while the cluster has not seen the signature.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*core.SignatureStatus, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.observe("getSignatureStatuses", start, err)
	if err != nil {
		return nil, convertError(err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, core.ErrEntityNotFound
	}
	value := res.Value[0]
	return &core.SignatureStatus{
		Signature:    sig,
		Slot:         value.Slot,
		Confirmation: core.ConfirmationLevel(value.ConfirmationStatus),
		Err:          value.Err,
	}, nil
}

// ConfirmTransaction polls the signature status until it is confirmed or timeout elapses. A
// landed transaction with an on-chain error is returned as a status, not as an error.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) (*core.SignatureStatus, error) {
	return ConfirmTransaction(ctx, c, sig, timeout, c.opts.PollInterval)
}

type statusReader interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (*core.SignatureStatus, error)
}

var errNotLanded = errors.New("transaction has not landed")

// ConfirmTransaction polls reader every interval until sig lands or timeout elapses, then returns
// core.ErrTimeout.
func ConfirmTransaction(ctx context.Context, reader statusReader, sig solana.Signature, timeout, interval time.Duration) (*core.SignatureStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	attempts := uint(timeout/interval) + 1
	var status *core.SignatureStatus
	err := retry.Do(func() error {
		s, err := reader.SignatureStatus(ctx, sig)
		if errors.Is(err, core.ErrEntityNotFound) {
			return errNotLanded
		}
		if err != nil {
			return err
		}
		if s.Failed() || s.Landed() {
			status = s
			return nil
		}
		return errNotLanded
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return status, nil
	}
	if errors.Is(err, errNotLanded) || errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Wrapf(core.ErrTimeout, "signature %s not confirmed within %s", sig, timeout)
	}
	return nil, err
}

// GetLookupTable returns the addresses stored in an address lookup table. Tables are cached since
// the wallet only reads tables referenced by swap routes, which are append-only.
func (c *Client) GetLookupTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error) {
	if addresses, ok := c.lookupTables.Get(address); ok {
		return addresses, nil
	}
	account, err := c.GetAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	addresses, err := DecodeLookupTable(account)
	if err != nil {
		return nil, err
	}
	c.lookupTables.Set(address, addresses)
	return addresses, nil
}

func DecodeLookupTable(account *core.Account) (solana.PublicKeySlice, error) {
	if !account.OwnedBy(AddressLookupTableProgramID) {
		return nil, errors.Wrapf(core.ErrInvalidAccount, "%s is not a lookup table", account.Address)
	}
	if len(account.Data) < lookupTableHeaderSize || (len(account.Data)-lookupTableHeaderSize)%32 != 0 {
		return nil, errors.Wrapf(core.ErrInvalidAccount, "lookup table %s has %d bytes", account.Address, len(account.Data))
	}
	body := account.Data[lookupTableHeaderSize:]
	addresses := make(solana.PublicKeySlice, 0, len(body)/32)
	for i := 0; i < len(body); i += 32 {
		addresses = append(addresses, solana.PublicKeyFromBytes(body[i:i+32]))
	}
	return addresses, nil
}

// convertError turns node responses into *core.RPCError and everything else (transport failures,
// non-2xx statuses) into an error wrapping core.ErrNetwork.
func convertError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return errors.Wrap(core.ErrNetwork, err.Error())
	}
	converted := &core.RPCError{Code: rpcErr.Code, Message: rpcErr.Message}
	if data, ok := rpcErr.Data.(map[string]any); ok {
		if logs, ok := data["logs"].([]any); ok {
			for _, l := range logs {
				if line, ok := l.(string); ok {
					converted.Logs = append(converted.Logs, line)
				}
			}
		}
		converted.InstructionError = data["err"]
	}
	if isThrottled(rpcErr.Code) {
		return errors.Wrap(core.ErrNetwork, converted.Error())
	}
	return converted
}

func isThrottled(code int) bool {
	// 429 is forwarded by some providers as the JSON-RPC code, -32005 is the node's own limit.
	return code == 429 || code == -32005
}
