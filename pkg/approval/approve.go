package approval

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/squads"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Accuracy is the reported position accuracy in meters.
	Accuracy float64 `json:"accuracy,omitempty"`
}

// ApproveRequest asks the backend to vote on a proposal. Exactly which proofs are required is the
// backend's policy.
type ApproveRequest struct {
	Multisig         solana.PublicKey `json:"multisig"`
	TransactionIndex uint64           `json:"transactionIndex"`
	Proposal         solana.PublicKey `json:"proposal"`
	Location         *Location        `json:"location,omitempty"`
	VoiceSample      string           `json:"voiceSample,omitempty"`
	WebAuthn         json.RawMessage  `json:"webauthn,omitempty"`
	CompanionToken   string           `json:"companionToken,omitempty"`
}

type approveResponse struct {
	Approved  bool   `json:"approved"`
	Signature string `json:"signature"`
}

// Approve submits the proofs for a proposal. On approval the backend casts its vote on-chain; Approve
// then waits until the proposal reads as Approved.
func (g *Gateway) Approve(ctx context.Context, req ApproveRequest) (*core.Approval, error) {
	ctx, span := otel.Tracer("argus/approval").Start(ctx, "Approve")
	defer span.End()
	span.SetAttributes(attribute.Int64("index", int64(req.TransactionIndex)))

	if req.Proposal.IsZero() {
		proposal, err := squads.ProposalAddress(g.opts.ProgramID, req.Multisig, req.TransactionIndex)
		if err != nil {
			return nil, err
		}
		req.Proposal = proposal
	}
	var resp approveResponse
	if err := g.do(ctx, http.MethodPost, "/approve-transfer", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Approved {
		return nil, &RejectionError{Code: "NOT_APPROVED", Message: "backend declined the proposal"}
	}
	approval := &core.Approval{Approved: true}
	if resp.Signature != "" {
		sig, err := solana.SignatureFromBase58(resp.Signature)
		if err != nil {
			return nil, errors.Wrap(err, "approval signature")
		}
		approval.Signature = sig
	}
	if err := g.waitApproved(ctx, req.Proposal); err != nil {
		return nil, err
	}
	g.logger.Info("proposal approved",
		zap.Stringer("multisig", req.Multisig),
		zap.Uint64("index", req.TransactionIndex),
		zap.Stringer("signature", approval.Signature))
	return approval, nil
}

func (g *Gateway) waitApproved(ctx context.Context, proposal solana.PublicKey) error {
	var last squads.ProposalStatus
	err := retry.Do(func() error {
		account, err := g.reader.GetAccount(ctx, proposal)
		if err != nil {
			return err
		}
		p, err := squads.DecodeProposal(account.Data)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		last = p.Status
		switch {
		case p.Status == squads.ProposalApproved || p.Status == squads.ProposalExecuting || p.Status == squads.ProposalExecuted:
			return nil
		case p.Status.Terminal():
			return retry.Unrecoverable(errors.Wrapf(core.ErrNotApproved, "proposal %s is %s", proposal, p.Status))
		}
		return errors.Wrapf(core.ErrNotApproved, "proposal %s is %s", proposal, p.Status)
	},
		retry.Context(ctx),
		retry.Attempts(g.opts.ProposalPolls),
		retry.Delay(g.opts.ProposalDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		g.logger.Warn("proposal not approved on-chain", zap.Stringer("proposal", proposal), zap.Stringer("status", last), zap.Error(err))
	}
	return err
}
