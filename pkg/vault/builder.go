// Package vault creates vault transactions and their proposals.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/squads"
	"github.com/argus-wallet/argus/pkg/swap"
)

var vaultTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "argus_vault_transactions_total",
	Help: "Vault transaction creations by kind and result",
}, []string{"kind", "result"})

const (
	StageVaultTransactionCreate = "vault_transaction_create"
	StageProposalCreate         = "proposal_create"
)

// Ledger is the part of the cluster access layer the builder needs.
type Ledger interface {
	AccountReader
	ledger.Submitter
	ledger.LookupTableReader
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

type Options struct {
	ProgramID       solana.PublicKey
	VisibilityPolls uint
	VisibilityDelay time.Duration
	ConfirmTimeout  time.Duration
	// Probe bounds the index allocator's forward scan.
	Probe int
	Memo  string
}

func DefaultOptions() Options {
	return Options{
		ProgramID:       squads.ProgramID,
		VisibilityPolls: 10,
		VisibilityDelay: time.Second,
		ConfirmTimeout:  30 * time.Second,
		Probe:           DefaultProbe,
	}
}

type Builder struct {
	ledger    Ledger
	allocator *Allocator
	opts      Options
	logger    *zap.Logger
}

func NewBuilder(l Ledger, opts Options, logger *zap.Logger) *Builder {
	defaults := DefaultOptions()
	if opts.ProgramID.IsZero() {
		opts.ProgramID = defaults.ProgramID
	}
	if opts.VisibilityPolls == 0 {
		opts.VisibilityPolls = defaults.VisibilityPolls
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = defaults.ConfirmTimeout
	}
	return &Builder{
		ledger:    l,
		allocator: NewAllocator(l, opts.ProgramID, opts.Probe, logger),
		opts:      opts,
		logger:    logger,
	}
}

type TransferRequest struct {
	Multisig  solana.PublicKey
	Recipient solana.PublicKey
	Lamports  uint64
}

type SwapRequest struct {
	Multisig     solana.PublicKey
	Instructions *swap.Instructions
	// MinimumBalance is the vault balance required before proposing, usually the input amount when
	// swapping from SOL.
	MinimumBalance uint64
}

// OrphanedTransactionError reports a vault transaction that was created but whose proposal was
// not. The index stays consumed.
type OrphanedTransactionError struct {
	Index       uint64
	Transaction solana.PublicKey
	Signature   solana.Signature
	Err         error
}

func (e *OrphanedTransactionError) Error() string {
	return fmt.Sprintf("vault transaction %d (%s, %s) has no proposal: %v", e.Index, e.Transaction, e.Signature, e.Err)
}

func (e *OrphanedTransactionError) Unwrap() error {
	return e.Err
}

// CreateTransfer proposes a SOL transfer out of the multisig's default vault.
func (b *Builder) CreateTransfer(ctx context.Context, creator solana.PrivateKey, req TransferRequest) (*core.VaultTransaction, error) {
	ctx, span := otel.Tracer("argus/vault").Start(ctx, "CreateTransfer")
	defer span.End()

	vault, err := squads.VaultAddress(b.opts.ProgramID, req.Multisig, squads.DefaultVaultIndex)
	if err != nil {
		return nil, err
	}
	if err := b.checkBalance(ctx, vault, req.Lamports); err != nil {
		vaultTransactions.WithLabelValues(string(core.ProposalTransfer), "insufficient_balance").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ix := system.NewTransferInstruction(req.Lamports, vault, req.Recipient).Build()
	tx, err := b.create(ctx, core.ProposalTransfer, creator, req.Multisig, vault, []solana.Instruction{ix}, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("index", int64(tx.Index)))
	return tx, nil
}

// CreateSwap proposes a routed swap executed by the vault.
func (b *Builder) CreateSwap(ctx context.Context, creator solana.PrivateKey, req SwapRequest) (*core.VaultTransaction, error) {
	ctx, span := otel.Tracer("argus/vault").Start(ctx, "CreateSwap")
	defer span.End()

	if req.Instructions == nil {
		return nil, errors.New("empty swap bundle")
	}
	vault, err := squads.VaultAddress(b.opts.ProgramID, req.Multisig, squads.DefaultVaultIndex)
	if err != nil {
		return nil, err
	}
	if err := b.checkBalance(ctx, vault, req.MinimumBalance); err != nil {
		vaultTransactions.WithLabelValues(string(core.ProposalSwap), "insufficient_balance").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	tables := ledger.ResolveLookupTables(ctx, b.ledger, req.Instructions.LookupTables, b.logger)
	tx, err := b.create(ctx, core.ProposalSwap, creator, req.Multisig, vault, req.Instructions.Ordered(), tables)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("index", int64(tx.Index)), attribute.Int("ephemeral_signers", int(tx.EphemeralSigners)))
	return tx, nil
}

func (b *Builder) checkBalance(ctx context.Context, vault solana.PublicKey, required uint64) error {
	if required == 0 {
		return nil
	}
	balance, err := b.ledger.GetBalance(ctx, vault)
	if err != nil {
		return errors.Wrap(err, "read vault balance")
	}
	if balance < required {
		return errors.Wrapf(core.ErrInsufficientBalance, "vault %s holds %d lamports, %d required", vault, balance, required)
	}
	return nil
}

func (b *Builder) create(ctx context.Context, kind core.ProposalKind, creator solana.PrivateKey, multisig, vault solana.PublicKey, instructions []solana.Instruction, tables map[solana.PublicKey]solana.PublicKeySlice) (*core.VaultTransaction, error) {
	if err := b.waitMultisig(ctx, multisig); err != nil {
		return nil, err
	}
	index, err := b.allocator.NextIndex(ctx, multisig)
	if err != nil {
		return nil, err
	}
	transaction, err := squads.TransactionAddress(b.opts.ProgramID, multisig, index)
	if err != nil {
		return nil, err
	}
	proposal, err := squads.ProposalAddress(b.opts.ProgramID, multisig, index)
	if err != nil {
		return nil, err
	}
	message, err := squads.CompileMessage(vault, instructions, tables)
	if err != nil {
		return nil, errors.Wrap(err, "compile vault message")
	}
	compact, err := message.MarshalCompact()
	if err != nil {
		return nil, err
	}
	result := &core.VaultTransaction{
		Kind:             kind,
		Multisig:         multisig,
		Vault:            vault,
		Index:            index,
		Transaction:      transaction,
		Proposal:         proposal,
		EphemeralSigners: CountEphemeralSigners(instructions, vault, creator.PublicKey()),
	}
	for _, l := range message.AddressTableLookups {
		result.LookupTables = append(result.LookupTables, l.AccountKey)
	}

	args := squads.VaultTransactionCreateArgs{
		VaultIndex:         squads.DefaultVaultIndex,
		EphemeralSigners:   result.EphemeralSigners,
		TransactionMessage: compact,
	}
	if b.opts.Memo != "" {
		memo := b.opts.Memo
		args.Memo = &memo
	}
	createIx, err := squads.NewVaultTransactionCreateInstruction(b.opts.ProgramID, args, squads.VaultTransactionCreateAccounts{
		Multisig:    multisig,
		Transaction: transaction,
		Creator:     creator.PublicKey(),
		RentPayer:   creator.PublicKey(),
	})
	if err != nil {
		return nil, err
	}
	result.TransactionSignature, err = ledger.Submit(ctx, b.ledger, StageVaultTransactionCreate, []solana.Instruction{createIx}, creator, nil, b.opts.ConfirmTimeout)
	if err != nil {
		vaultTransactions.WithLabelValues(string(kind), "transaction_failed").Inc()
		return nil, err
	}
	b.logger.Info("vault transaction created",
		zap.Stringer("multisig", multisig),
		zap.Uint64("index", index),
		zap.Stringer("signature", result.TransactionSignature))

	proposalIx, err := squads.NewProposalCreateInstruction(b.opts.ProgramID, index, false, squads.ProposalCreateAccounts{
		Multisig:  multisig,
		Proposal:  proposal,
		Creator:   creator.PublicKey(),
		RentPayer: creator.PublicKey(),
	})
	if err == nil {
		result.ProposalSignature, err = ledger.Submit(ctx, b.ledger, StageProposalCreate, []solana.Instruction{proposalIx}, creator, nil, b.opts.ConfirmTimeout)
	}
	if err != nil {
		vaultTransactions.WithLabelValues(string(kind), "orphaned").Inc()
		b.logger.Error("proposal creation failed, vault transaction orphaned",
			zap.Stringer("multisig", multisig),
			zap.Uint64("index", index),
			zap.Stringer("transaction", transaction),
			zap.Error(err))
		return nil, &OrphanedTransactionError{
			Index:       index,
			Transaction: transaction,
			Signature:   result.TransactionSignature,
			Err:         err,
		}
	}
	vaultTransactions.WithLabelValues(string(kind), "created").Inc()
	return result, nil
}

// waitMultisig polls until the multisig can be read; a multisig created moments ago may not be
// indexed by the node serving reads.
func (b *Builder) waitMultisig(ctx context.Context, multisig solana.PublicKey) error {
	err := retry.Do(func() error {
		_, err := b.ledger.GetAccount(ctx, multisig)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(b.opts.VisibilityPolls),
		retry.Delay(b.opts.VisibilityDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, core.ErrEntityNotFound) || errors.Is(err, core.ErrNetwork)
		}),
	)
	if errors.Is(err, core.ErrEntityNotFound) {
		return errors.Wrapf(core.ErrTimeout, "multisig %s not visible after %d polls", multisig, b.opts.VisibilityPolls)
	}
	return err
}
