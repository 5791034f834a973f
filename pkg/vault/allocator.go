package vault

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/squads"
)

// DefaultProbe is how many indexes past the multisig counter are tried.
const DefaultProbe = 10

type AccountReader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error)
}

// Allocator picks the transaction index for the next vault transaction of a multisig.
type Allocator struct {
	reader    AccountReader
	programID solana.PublicKey
	probe     int
	logger    *zap.Logger
}

func NewAllocator(reader AccountReader, programID solana.PublicKey, probe int, logger *zap.Logger) *Allocator {
	if probe <= 0 {
		probe = DefaultProbe
	}
	return &Allocator{reader: reader, programID: programID, probe: probe, logger: logger}
}

// NextIndex returns the first index after the multisig counter whose vault transaction account
// does not exist yet. Occupied indexes are left from vault transactions created by a writer that
// crashed before bumping the counter we read.
func (a *Allocator) NextIndex(ctx context.Context, multisig solana.PublicKey) (uint64, error) {
	account, err := a.reader.GetAccount(ctx, multisig)
	if err != nil {
		return 0, errors.Wrapf(err, "read multisig %s", multisig)
	}
	m, err := squads.DecodeMultisig(account.Data)
	if err != nil {
		return 0, err
	}
	for i := 1; i <= a.probe; i++ {
		index := m.TransactionIndex + uint64(i)
		address, err := squads.TransactionAddress(a.programID, multisig, index)
		if err != nil {
			return 0, err
		}
		_, err = a.reader.GetAccount(ctx, address)
		switch {
		case errors.Is(err, core.ErrEntityNotFound):
			return index, nil
		case err != nil:
			return 0, err
		}
		a.logger.Warn("transaction index already taken",
			zap.Stringer("multisig", multisig),
			zap.Uint64("index", index),
			zap.Uint64("counter", m.TransactionIndex))
	}
	return 0, errors.Wrapf(core.ErrNoFreeSlot, "no free transaction index in %d..%d",
		m.TransactionIndex+1, m.TransactionIndex+uint64(a.probe))
}
