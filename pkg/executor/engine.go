// Package executor executes approved vault transactions.
package executor

import (
	"context"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/i18n"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/sentry"
	"github.com/argus-wallet/argus/pkg/squads"
)

var executions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "argus_executions_total",
	Help: "Vault transaction executions by path and status",
}, []string{"path", "status"})

const (
	StageExecute = "vault_transaction_execute"
	viaRPC       = "rpc"
)

// Ledger is the part of the cluster access layer the engine needs.
type Ledger interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error)
	ledger.Submitter
	ledger.LookupTableReader
	SendRawTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (*core.SignatureStatus, error)
}

type Options struct {
	ProgramID      solana.PublicKey
	ConfirmTimeout time.Duration
	// PollInterval and PollWindow bound status polling on the low-latency path.
	PollInterval time.Duration
	PollWindow   time.Duration
	Relays       []Relay
}

func DefaultOptions() Options {
	return Options{
		ProgramID:      squads.ProgramID,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   500 * time.Millisecond,
		PollWindow:     30 * time.Second,
	}
}

type Engine struct {
	ledger Ledger
	relays []*relayClient
	opts   Options
	logger *zap.Logger
}

func New(l Ledger, opts Options, logger *zap.Logger) *Engine {
	defaults := DefaultOptions()
	if opts.ProgramID.IsZero() {
		opts.ProgramID = defaults.ProgramID
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.PollWindow == 0 {
		opts.PollWindow = defaults.PollWindow
	}
	e := &Engine{ledger: l, opts: opts, logger: logger}
	for _, r := range opts.Relays {
		e.relays = append(e.relays, newRelayClient(r))
	}
	return e
}

type Request struct {
	Multisig solana.PublicKey
	Index    uint64
	// LowLatency sends through the relays and accepts an unconfirmed broadcast as a result.
	LowLatency bool
	// Language selects the language of result messages.
	Language string
}

// Execute runs the approved vault transaction at req.Index, signed and paid by member. A
// transaction that lands with an error is a FAILED result, not an error.
func (e *Engine) Execute(ctx context.Context, member solana.PrivateKey, req Request) (*core.ExecutionResult, error) {
	path := "standard"
	if req.LowLatency {
		path = "low_latency"
	}
	ctx, span := otel.Tracer("argus/executor").Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(attribute.String("path", path), attribute.Int64("index", int64(req.Index)))

	tx, tables, err := e.prepare(ctx, member, req)
	if err != nil {
		return nil, err
	}
	var result *outcome
	if req.LowLatency {
		result, err = e.sendLowLatency(ctx, tx)
	} else {
		result, err = e.sendStandard(ctx, tx)
	}
	if err != nil {
		executions.WithLabelValues(path, "error").Inc()
		return nil, err
	}
	executions.WithLabelValues(path, string(result.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(result.Status)))

	switch result.Status {
	case core.ExecutionFailed:
		e.logger.Warn("vault transaction failed on-chain",
			zap.Stringer("multisig", req.Multisig),
			zap.Uint64("index", req.Index),
			zap.Stringer("signature", result.Signature),
			zap.String("code", result.ErrorCode),
			zap.Strings("logs", result.Logs))
		sentry.Send("vault transaction execution failed", sentry.SentryInfoData{
			"multisig":      req.Multisig.String(),
			"index":         strconv.FormatUint(req.Index, 10),
			"signature":     result.Signature.String(),
			"code":          result.ErrorCode,
			"logs":          result.Logs,
			"lookup_tables": len(tables),
		}, sentry.LevelError)
		result.Message = FailureMessage(req.Language, result.ErrorCode, result.err)
	case core.ExecutionSubmitted:
		result.Message = i18n.Message(req.Language, "executionSubmitted", nil)
	case core.ExecutionConfirmed:
		result.Message = i18n.Message(req.Language, "executionConfirmed", nil)
	}
	return result.ExecutionResult, nil
}

// prepare reads the approved proposal and its vault transaction and signs the execute
// transaction.
func (e *Engine) prepare(ctx context.Context, member solana.PrivateKey, req Request) (*solana.Transaction, map[solana.PublicKey]solana.PublicKeySlice, error) {
	proposalAddress, err := squads.ProposalAddress(e.opts.ProgramID, req.Multisig, req.Index)
	if err != nil {
		return nil, nil, err
	}
	transactionAddress, err := squads.TransactionAddress(e.opts.ProgramID, req.Multisig, req.Index)
	if err != nil {
		return nil, nil, err
	}
	account, err := e.ledger.GetAccount(ctx, proposalAddress)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read proposal %d", req.Index)
	}
	proposal, err := squads.DecodeProposal(account.Data)
	if err != nil {
		return nil, nil, err
	}
	if proposal.Status != squads.ProposalApproved {
		return nil, nil, errors.Wrapf(core.ErrNotApproved, "proposal %d is %s", req.Index, proposal.Status)
	}
	account, err = e.ledger.GetAccount(ctx, transactionAddress)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read vault transaction %d", req.Index)
	}
	vtx, err := squads.DecodeVaultTransaction(account.Data)
	if err != nil {
		return nil, nil, err
	}

	message := vtx.Message
	var tableKeys []solana.PublicKey
	for _, l := range message.AddressTableLookups {
		tableKeys = append(tableKeys, l.AccountKey)
	}
	tables := ledger.ResolveLookupTables(ctx, e.ledger, tableKeys, e.logger)
	if len(tables) != len(tableKeys) {
		// the program rejects the execution without the loaded accounts; it is still attempted
		resolved := message.AddressTableLookups[:0:0]
		for _, l := range message.AddressTableLookups {
			if _, ok := tables[l.AccountKey]; ok {
				resolved = append(resolved, l)
			}
		}
		message.AddressTableLookups = resolved
	}

	ix, err := squads.NewVaultTransactionExecuteInstruction(e.opts.ProgramID, squads.VaultTransactionExecuteAccounts{
		Multisig:    req.Multisig,
		Proposal:    proposalAddress,
		Transaction: transactionAddress,
		Member:      member.PublicKey(),
	}, &message, tables)
	if err != nil {
		return nil, nil, err
	}
	blockhash, err := e.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, nil, core.NewSubmissionError(StageExecute, solana.Signature{}, err)
	}
	tx, err := ledger.SignTransaction([]solana.Instruction{ix}, blockhash, member, nil, tables)
	if err != nil {
		return nil, nil, err
	}
	return tx, tables, nil
}

// outcome carries the raw transaction error next to the result until the message is localized.
type outcome struct {
	*core.ExecutionResult
	err any
}

func confirmed(sig solana.Signature, via string) *outcome {
	return &outcome{ExecutionResult: &core.ExecutionResult{Status: core.ExecutionConfirmed, Signature: sig, Via: via}}
}

func failed(sig solana.Signature, via string, txErr any, logs []string) *outcome {
	return &outcome{
		ExecutionResult: &core.ExecutionResult{
			Status:    core.ExecutionFailed,
			Signature: sig,
			ErrorCode: DecodeFailure(txErr),
			Via:       via,
			Logs:      logs,
		},
		err: txErr,
	}
}

func (e *Engine) sendStandard(ctx context.Context, tx *solana.Transaction) (*outcome, error) {
	signature := tx.Signatures[0]
	sig, err := e.ledger.SendTransaction(ctx, tx, false)
	if err != nil {
		var rpcErr *core.RPCError
		if errors.As(err, &rpcErr) && rpcErr.InstructionError != nil {
			return failed(signature, viaRPC, rpcErr.InstructionError, rpcErr.Logs), nil
		}
		return nil, core.NewSubmissionError(StageExecute, signature, err)
	}
	status, err := e.ledger.ConfirmTransaction(ctx, sig, e.opts.ConfirmTimeout)
	if err != nil {
		return nil, core.NewSubmissionError(StageExecute, sig, err)
	}
	if status.Failed() {
		return failed(sig, viaRPC, status.Err, nil), nil
	}
	return confirmed(sig, viaRPC), nil
}

// sendLowLatency tries the relays in order, then the cluster RPC with preflight skipped, and polls
// for the result. Not seeing the transaction land within the window is reported as SUBMITTED.
func (e *Engine) sendLowLatency(ctx context.Context, tx *solana.Transaction) (*outcome, error) {
	signature := tx.Signatures[0]
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "serialize transaction")
	}
	via := ""
	for _, relay := range e.relays {
		if _, err := relay.send(ctx, raw); err != nil {
			e.logger.Warn("relay rejected transaction", zap.String("relay", relay.URL), zap.Error(err))
			continue
		}
		via = relay.URL
		break
	}
	if via == "" {
		if _, err := e.ledger.SendRawTransaction(ctx, raw, true); err != nil {
			return nil, core.NewSubmissionError(StageExecute, signature, err)
		}
		via = viaRPC
	}
	e.logger.Info("execution broadcast", zap.Stringer("signature", signature), zap.String("via", via))

	status, err := ledger.ConfirmTransaction(ctx, e.ledger, signature, e.opts.PollWindow, e.opts.PollInterval)
	switch {
	case err == nil && status.Failed():
		return failed(signature, via, status.Err, nil), nil
	case err == nil:
		return confirmed(signature, via), nil
	case errors.Is(err, core.ErrTimeout) || errors.Is(err, core.ErrNetwork):
		return &outcome{ExecutionResult: &core.ExecutionResult{Status: core.ExecutionSubmitted, Signature: signature, Via: via}}, nil
	}
	return nil, core.NewSubmissionError(StageExecute, signature, err)
}
