package api

import (
	"context"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/executor"
	"github.com/argus-wallet/argus/pkg/swap"
	"github.com/argus-wallet/argus/pkg/vault"
)

type chainReader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error)
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

type multisigProvisioner interface {
	Provision(ctx context.Context, owner solana.PrivateKey, approvalSigner solana.PublicKey) (*core.ProvisionResult, error)
}

type proposalBuilder interface {
	CreateTransfer(ctx context.Context, creator solana.PrivateKey, req vault.TransferRequest) (*core.VaultTransaction, error)
	CreateSwap(ctx context.Context, creator solana.PrivateKey, req vault.SwapRequest) (*core.VaultTransaction, error)
}

type swapRouter interface {
	Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error)
	SwapInstructions(ctx context.Context, quote *swap.Quote, user solana.PublicKey) (*swap.Instructions, error)
}

type policyGateway interface {
	Config(ctx context.Context) (approval.Config, error)
	Activate(ctx context.Context, req approval.ActivateRequest) error
	Approve(ctx context.Context, req approval.ApproveRequest) (*core.Approval, error)
}

// factorGateway enrolls and checks the wallet's second factors with the policy backend.
type factorGateway interface {
	SetPassword(ctx context.Context, req approval.PasswordRequest) error
	VerifyPassword(ctx context.Context, req approval.PasswordRequest) (*approval.VerifyResponse, error)
	EnrollVoice(ctx context.Context, req approval.VoiceRequest) error
	VerifyVoice(ctx context.Context, req approval.VoiceRequest) (*approval.VerifyResponse, error)
	WebAuthnOptions(ctx context.Context, wallet solana.PublicKey, register bool) (json.RawMessage, error)
	RegisterWebAuthn(ctx context.Context, req approval.WebAuthnRequest) error
	VerifyWebAuthn(ctx context.Context, req approval.WebAuthnRequest) (*approval.VerifyResponse, error)
	StartPairing(ctx context.Context, wallet solana.PublicKey) (*approval.Pairing, error)
	CompletePairing(ctx context.Context, req approval.PairRequest) error
}

type executionEngine interface {
	Execute(ctx context.Context, member solana.PrivateKey, req executor.Request) (*core.ExecutionResult, error)
}

type ratesSource interface {
	GetRates() map[string]decimal.Decimal
	Convert(lamports uint64, currency string) (decimal.Decimal, error)
}
