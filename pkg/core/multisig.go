package core

import (
	"github.com/gagliardetto/solana-go"
)

type ProvisionOutcome string

const (
	ProvisionCreated   ProvisionOutcome = "CREATED"
	ProvisionRecovered ProvisionOutcome = "RECOVERED"
)

// ProvisionResult is the outcome of provisioning a 2-member multisig and its vault.
type ProvisionResult struct {
	Multisig  solana.PublicKey
	Vault     solana.PublicKey
	CreateKey solana.PublicKey
	Outcome   ProvisionOutcome
	// Attempt is the index of the create key that produced the multisig.
	Attempt int
	// Signature is set only for CREATED outcomes.
	Signature solana.Signature
}

type ProposalKind string

const (
	ProposalTransfer ProposalKind = "transfer"
	ProposalSwap     ProposalKind = "swap"
)

// VaultTransaction is a created vault transaction together with its proposal.
type VaultTransaction struct {
	Kind                 ProposalKind
	Multisig             solana.PublicKey
	Vault                solana.PublicKey
	Index                uint64
	Transaction          solana.PublicKey
	Proposal             solana.PublicKey
	EphemeralSigners     uint8
	LookupTables         []solana.PublicKey
	TransactionSignature solana.Signature
	ProposalSignature    solana.Signature
}

// Approval is the policy service's answer to an approval request.
type Approval struct {
	Signature solana.Signature
	Approved  bool
}
