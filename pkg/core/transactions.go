package core

import (
	"github.com/gagliardetto/solana-go"
)

type ConfirmationLevel string

const (
	Processed ConfirmationLevel = "processed"
	Confirmed ConfirmationLevel = "confirmed"
	Finalized ConfirmationLevel = "finalized"
)

// SignatureStatus is the cluster's view of a submitted transaction.
type SignatureStatus struct {
	Signature    solana.Signature
	Slot         uint64
	Confirmation ConfirmationLevel
	// Err is the transaction error as returned by the JSON-RPC API, nil on success.
	Err any
}

// Landed reports whether the transaction reached at least "confirmed" commitment.
func (s *SignatureStatus) Landed() bool {
	return s != nil && (s.Confirmation == Confirmed || s.Confirmation == Finalized)
}

func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

type ExecutionStatus string

const (
	// ExecutionConfirmed means the transaction landed without an error.
	ExecutionConfirmed ExecutionStatus = "CONFIRMED"
	// ExecutionFailed means the transaction landed with an on-chain error.
	ExecutionFailed ExecutionStatus = "FAILED"
	// ExecutionSubmitted means the transaction was broadcast but not observed within the polling window.
	ExecutionSubmitted ExecutionStatus = "SUBMITTED"
)

// Decoded on-chain error codes.
const (
	ErrorCodeSlippage          = "SLIPPAGE_EXCEEDED"
	ErrorCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrorCodeBlockhashExpired  = "BLOCKHASH_EXPIRED"
	ErrorCodeOnChainFailure    = "ONCHAIN_FAILURE"
)

type ExecutionResult struct {
	Status    ExecutionStatus
	Signature solana.Signature
	ErrorCode string
	Message   string
	// Via names the endpoint that accepted the transaction: a relay URL or "rpc".
	Via  string
	Logs []string
}
