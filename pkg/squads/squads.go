// Package squads implements address derivation, account layouts and instruction encoding for the
// Squads v4 multisig program.
package squads

import (
	"encoding/binary"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/core"
)

// ProgramID is the mainnet and devnet deployment of Squads v4.
var ProgramID = solana.MustPublicKeyFromBase58("SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")

const (
	seedPrefix          = "multisig"
	seedProgramConfig   = "program_config"
	seedMultisig        = "multisig"
	seedVault           = "vault"
	seedTransaction     = "transaction"
	seedProposal        = "proposal"
	seedEphemeralSigner = "ephemeral_signer"
)

// DefaultVaultIndex is the only vault this wallet uses.
const DefaultVaultIndex uint8 = 0

// Permission bits of a multisig member.
const (
	PermissionInitiate uint8 = 1 << 0
	PermissionVote     uint8 = 1 << 1
	PermissionExecute  uint8 = 1 << 2
	PermissionAll            = PermissionInitiate | PermissionVote | PermissionExecute
)

// ErrCodeAlreadyInUse is the program error the legacy client treats as "multisig already initialized".
const ErrCodeAlreadyInUse uint32 = 6014

type Member struct {
	Key         solana.PublicKey
	Permissions uint8
}

func (m Member) Has(permission uint8) bool {
	return m.Permissions&permission == permission
}

// ProgramConfigAddress derives the global program config account.
func ProgramConfigAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		[]byte(seedProgramConfig),
	}, programID)
	return addr, err
}

// MultisigAddress derives the multisig account from its create key.
func MultisigAddress(programID, createKey solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		[]byte(seedMultisig),
		createKey.Bytes(),
	}, programID)
	return addr, err
}

func VaultAddress(programID, multisig solana.PublicKey, vaultIndex uint8) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		multisig.Bytes(),
		[]byte(seedVault),
		{vaultIndex},
	}, programID)
	return addr, err
}

func TransactionAddress(programID, multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		multisig.Bytes(),
		[]byte(seedTransaction),
		u64le(index),
	}, programID)
	return addr, err
}

// ProposalAddress derives the proposal paired with the vault transaction at the same index.
func ProposalAddress(programID, multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		multisig.Bytes(),
		[]byte(seedTransaction),
		u64le(index),
		[]byte(seedProposal),
	}, programID)
	return addr, err
}

func EphemeralSignerAddress(programID, transaction solana.PublicKey, index uint8) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(seedPrefix),
		transaction.Bytes(),
		[]byte(seedEphemeralSigner),
		{index},
	}, programID)
	return addr, err
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// IsAlreadyInUse reports whether a submission failed because the target account already exists.
func IsAlreadyInUse(err error) bool {
	var rpcErr *core.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if code, ok := rpcErr.CustomCode(); ok && code == ErrCodeAlreadyInUse {
		return true
	}
	for _, line := range rpcErr.Logs {
		if strings.Contains(line, "already in use") {
			return true
		}
	}
	return false
}
