package api

import (
	"encoding/json"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/executor"
	"github.com/argus-wallet/argus/pkg/rates"
	"github.com/argus-wallet/argus/pkg/swap"
	"github.com/argus-wallet/argus/pkg/vault"
)

type vaultTransactionJSON struct {
	Kind              string   `json:"kind"`
	Multisig          string   `json:"multisig"`
	Vault             string   `json:"vault"`
	Index             uint64   `json:"index"`
	Transaction       string   `json:"transaction"`
	Proposal          string   `json:"proposal"`
	EphemeralSigners  uint8    `json:"ephemeral_signers"`
	LookupTables      []string `json:"lookup_tables,omitempty"`
	ProposalSignature string   `json:"proposal_signature"`
}

func convertVaultTransaction(tx *core.VaultTransaction) vaultTransactionJSON {
	res := vaultTransactionJSON{
		Kind:              string(tx.Kind),
		Multisig:          tx.Multisig.String(),
		Vault:             tx.Vault.String(),
		Index:             tx.Index,
		Transaction:       tx.Transaction.String(),
		Proposal:          tx.Proposal.String(),
		EphemeralSigners:  tx.EphemeralSigners,
		ProposalSignature: tx.ProposalSignature.String(),
	}
	for _, t := range tx.LookupTables {
		res.LookupTables = append(res.LookupTables, t.String())
	}
	return res
}

type transferRequest struct {
	Multisig  string `json:"multisig"`
	Recipient string `json:"recipient"`
	// Amount is in SOL, for example "0.25".
	Amount string `json:"amount"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	multisig, err := h.resolveMultisig(req.Multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		h.writeError(w, r, badRequest(errors.Wrap(err, "recipient")))
		return
	}
	lamports, err := rates.ParseSOL(req.Amount)
	if err != nil {
		h.writeError(w, r, badRequest(errors.Wrapf(err, "amount %q", req.Amount)))
		return
	}
	tx, err := h.builder.CreateTransfer(r.Context(), h.owner, vault.TransferRequest{
		Multisig:  multisig,
		Recipient: recipient,
		Lamports:  lamports,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convertVaultTransaction(tx))
}

type swapRequest struct {
	Multisig         string `json:"multisig"`
	InputMint        string `json:"input_mint"`
	OutputMint       string `json:"output_mint"`
	Amount           uint64 `json:"amount,string"`
	SlippageBps      uint16 `json:"slippage_bps"`
	OnlyDirectRoutes bool   `json:"only_direct_routes"`
}

func (req swapRequest) quoteRequest() (swap.QuoteRequest, error) {
	input, err := solana.PublicKeyFromBase58(req.InputMint)
	if err != nil {
		return swap.QuoteRequest{}, badRequest(errors.Wrap(err, "input_mint"))
	}
	output, err := solana.PublicKeyFromBase58(req.OutputMint)
	if err != nil {
		return swap.QuoteRequest{}, badRequest(errors.Wrap(err, "output_mint"))
	}
	if req.Amount == 0 {
		return swap.QuoteRequest{}, badRequest(errors.New("amount must be positive"))
	}
	if req.SlippageBps == 0 {
		req.SlippageBps = 50
	}
	return swap.QuoteRequest{
		InputMint:        input,
		OutputMint:       output,
		Amount:           req.Amount,
		SlippageBps:      req.SlippageBps,
		OnlyDirectRoutes: req.OnlyDirectRoutes,
	}, nil
}

func (h *Handler) GetSwapQuote(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	quoteReq, err := req.quoteRequest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quote, err := h.router.Quote(r.Context(), quoteReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type swapJSON struct {
	vaultTransactionJSON
	Quote *swap.Quote `json:"quote"`
}

// CreateSwap quotes the swap for the vault and proposes the router's instructions.
func (h *Handler) CreateSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	quoteReq, err := req.quoteRequest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	multisig, err := h.resolveMultisig(req.Multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vaultAddress, err := h.vaultFromMultisig(multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	quote, err := h.router.Quote(ctx, quoteReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	instructions, err := h.router.SwapInstructions(ctx, quote, vaultAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var minimumBalance uint64
	if quoteReq.InputMint.Equals(solana.SolMint) {
		minimumBalance = quoteReq.Amount
	}
	tx, err := h.builder.CreateSwap(ctx, h.owner, vault.SwapRequest{
		Multisig:       multisig,
		Instructions:   instructions,
		MinimumBalance: minimumBalance,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, swapJSON{vaultTransactionJSON: convertVaultTransaction(tx), Quote: quote})
}

type approveRequest struct {
	Multisig       string             `json:"multisig"`
	Location       *approval.Location `json:"location"`
	VoiceSample    string             `json:"voice_sample"`
	WebAuthn       json.RawMessage    `json:"webauthn"`
	CompanionToken string             `json:"companion_token"`
}

type approvalJSON struct {
	Approved  bool   `json:"approved"`
	Signature string `json:"signature,omitempty"`
}

func (h *Handler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	multisig, err := h.resolveMultisig(req.Multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.gateway.Approve(r.Context(), approval.ApproveRequest{
		Multisig:         multisig,
		TransactionIndex: index,
		Location:         req.Location,
		VoiceSample:      req.VoiceSample,
		WebAuthn:         req.WebAuthn,
		CompanionToken:   req.CompanionToken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res := approvalJSON{Approved: result.Approved}
	if !result.Signature.IsZero() {
		res.Signature = result.Signature.String()
	}
	writeJSON(w, http.StatusOK, res)
}

type executeRequest struct {
	Multisig   string `json:"multisig"`
	LowLatency bool   `json:"low_latency"`
}

type executionJSON struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Via       string `json:"via"`
}

// ExecuteProposal answers 200 for every execution result, including FAILED ones.
func (h *Handler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	multisig, err := h.resolveMultisig(req.Multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.engine.Execute(r.Context(), h.owner, executor.Request{
		Multisig:   multisig,
		Index:      index,
		LowLatency: req.LowLatency,
		Language:   requestLanguage(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executionJSON{
		Status:    string(result.Status),
		Signature: result.Signature.String(),
		ErrorCode: result.ErrorCode,
		Message:   result.Message,
		Via:       result.Via,
	})
}
