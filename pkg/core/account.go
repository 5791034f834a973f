package core

import (
	"github.com/gagliardetto/solana-go"
)

// Account holds low-level details about a particular account taken directly from the blockchain.
type Account struct {
	Address    solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool
}

// OwnedBy reports whether the account is owned by the given program.
func (a *Account) OwnedBy(program solana.PublicKey) bool {
	return a != nil && a.Owner.Equals(program)
}

const LamportsPerSOL = 1_000_000_000
