package api

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/ledgertest"
	"github.com/argus-wallet/argus/pkg/rates"
	"github.com/argus-wallet/argus/pkg/squads"
	"github.com/argus-wallet/argus/pkg/swap"
)

// mockGateway casts the vote itself with the voter key instead of a backend.
type mockGateway struct {
	chain      *ledgertest.Chain
	voter      solana.PrivateKey
	signer     solana.PublicKey
	activated  []approval.ActivateRequest
	approveErr error
}

func (m *mockGateway) Config(ctx context.Context) (approval.Config, error) {
	return approval.Config{ApprovalSigner: m.signer, GeofenceRadius: 100}, nil
}

func (m *mockGateway) Activate(ctx context.Context, req approval.ActivateRequest) error {
	m.activated = append(m.activated, req)
	return nil
}

func (m *mockGateway) Approve(ctx context.Context, req approval.ApproveRequest) (*core.Approval, error) {
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	proposal, err := squads.ProposalAddress(squads.ProgramID, req.Multisig, req.TransactionIndex)
	if err != nil {
		return nil, err
	}
	ix, err := squads.NewProposalApproveInstruction(squads.ProgramID, req.Multisig, proposal, m.voter.PublicKey(), nil)
	if err != nil {
		return nil, err
	}
	sig, err := ledger.Submit(ctx, m.chain, "proposal_approve", []solana.Instruction{ix}, m.voter, nil, time.Second)
	if err != nil {
		return nil, err
	}
	return &core.Approval{Approved: true, Signature: sig}, nil
}

type mockRouter struct {
	quote        *swap.Quote
	instructions *swap.Instructions
	user         solana.PublicKey
}

func (m *mockRouter) Quote(ctx context.Context, req swap.QuoteRequest) (*swap.Quote, error) {
	return m.quote, nil
}

func (m *mockRouter) SwapInstructions(ctx context.Context, quote *swap.Quote, user solana.PublicKey) (*swap.Instructions, error) {
	m.user = user
	return m.instructions, nil
}

type rateSource map[string]decimal.Decimal

func (r rateSource) Rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	return r, nil
}

func testRates() *rates.SolRates {
	r := rates.New(rateSource{"USD": decimal.RequireFromString("150")}, zap.NewNop())
	r.Refresh(context.Background())
	return r
}
