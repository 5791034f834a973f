package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
)

// SignTransaction builds a transaction paid by payer and signs it with payer and signers. Lookup
// tables, when given, produce a v0 message.
func SignTransaction(instructions []solana.Instruction, blockhash solana.Hash, payer solana.PrivateKey, signers []solana.PrivateKey, tables map[solana.PublicKey]solana.PublicKeySlice) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(payer.PublicKey())}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(tables))
	}
	tx, err := solana.NewTransaction(instructions, blockhash, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "build transaction")
	}
	keys := map[solana.PublicKey]solana.PrivateKey{payer.PublicKey(): payer}
	for _, s := range signers {
		keys[s.PublicKey()] = s
	}
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if k, ok := keys[pk]; ok {
			return &k
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return tx, nil
}

// Submitter sends and confirms transactions.
type Submitter interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature, timeout time.Duration) (*core.SignatureStatus, error)
}

// Submit signs, sends and confirms one transaction. Every failure is a *core.SubmissionError
// carrying the signature once the transaction was signed; a transaction that landed with an
// on-chain error fails too.
func Submit(ctx context.Context, s Submitter, stage string, instructions []solana.Instruction, payer solana.PrivateKey, signers []solana.PrivateKey, timeout time.Duration) (solana.Signature, error) {
	blockhash, err := s.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, core.NewSubmissionError(stage, solana.Signature{}, err)
	}
	tx, err := SignTransaction(instructions, blockhash, payer, signers, nil)
	if err != nil {
		return solana.Signature{}, core.NewSubmissionError(stage, solana.Signature{}, err)
	}
	signature := tx.Signatures[0]
	sig, err := s.SendTransaction(ctx, tx, false)
	if err != nil {
		return solana.Signature{}, core.NewSubmissionError(stage, signature, err)
	}
	status, err := s.ConfirmTransaction(ctx, sig, timeout)
	if err != nil {
		return sig, core.NewSubmissionError(stage, sig, err)
	}
	if status.Failed() {
		return sig, core.NewSubmissionError(stage, sig, &core.RPCError{
			Message:          "transaction failed: " + core.ErrorName(status.Err),
			InstructionError: status.Err,
		})
	}
	return sig, nil
}

// LookupTableReader reads address lookup tables.
type LookupTableReader interface {
	GetLookupTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error)
}

// ResolveLookupTables fetches tables concurrently. Tables that fail to resolve are left out and
// logged; the caller compiles or executes without them.
func ResolveLookupTables(ctx context.Context, reader LookupTableReader, addresses []solana.PublicKey, logger *zap.Logger) map[solana.PublicKey]solana.PublicKeySlice {
	resolved := make([]solana.PublicKeySlice, len(addresses))
	iter.Iterator[solana.PublicKey]{MaxGoroutines: 4}.ForEachIdx(addresses, func(i int, address *solana.PublicKey) {
		table, err := reader.GetLookupTable(ctx, *address)
		if err != nil {
			logger.Warn("skipping unresolved lookup table", zap.Stringer("table", *address), zap.Error(err))
			return
		}
		resolved[i] = table
	})
	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(addresses))
	for i, address := range addresses {
		if resolved[i] != nil {
			tables[address] = resolved[i]
		}
	}
	return tables
}
