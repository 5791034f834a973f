package api

import (
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/rates"
	"github.com/argus-wallet/argus/pkg/squads"
)

type provisionJSON struct {
	Multisig  string `json:"multisig"`
	Vault     string `json:"vault"`
	CreateKey string `json:"create_key"`
	Outcome   string `json:"outcome"`
	Attempt   int    `json:"attempt"`
	Signature string `json:"signature,omitempty"`
}

// Provision creates or recovers the owner's multisig and registers it with the policy backend.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.gateway.Config(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.provisioner.Provision(ctx, h.owner, cfg.ApprovalSigner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.rememberMultisig(result.Multisig)
	err = h.gateway.Activate(ctx, approval.ActivateRequest{
		Wallet:   h.owner.PublicKey(),
		Multisig: result.Multisig,
		Vault:    result.Vault,
	})
	if err != nil {
		h.logger.Warn("multisig activation failed", zap.Stringer("multisig", result.Multisig), zap.Error(err))
		h.writeError(w, r, err)
		return
	}
	res := provisionJSON{
		Multisig:  result.Multisig.String(),
		Vault:     result.Vault.String(),
		CreateKey: result.CreateKey.String(),
		Outcome:   string(result.Outcome),
		Attempt:   result.Attempt,
	}
	if result.Outcome == core.ProvisionCreated {
		res.Signature = result.Signature.String()
	}
	status := http.StatusOK
	if result.Outcome == core.ProvisionCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type memberJSON struct {
	Key      string `json:"key"`
	Initiate bool   `json:"initiate"`
	Vote     bool   `json:"vote"`
	Execute  bool   `json:"execute"`
}

type multisigJSON struct {
	Address               string       `json:"address"`
	Vault                 string       `json:"vault"`
	Threshold             uint16       `json:"threshold"`
	TimeLock              uint32       `json:"time_lock"`
	TransactionIndex      uint64       `json:"transaction_index"`
	StaleTransactionIndex uint64       `json:"stale_transaction_index"`
	Members               []memberJSON `json:"members"`
}

func convertMultisig(address, vault solana.PublicKey, m *squads.Multisig) multisigJSON {
	res := multisigJSON{
		Address:               address.String(),
		Vault:                 vault.String(),
		Threshold:             m.Threshold,
		TimeLock:              m.TimeLock,
		TransactionIndex:      m.TransactionIndex,
		StaleTransactionIndex: m.StaleTransactionIndex,
	}
	for _, member := range m.Members {
		res.Members = append(res.Members, memberJSON{
			Key:      member.Key.String(),
			Initiate: member.Has(squads.PermissionInitiate),
			Vote:     member.Has(squads.PermissionVote),
			Execute:  member.Has(squads.PermissionExecute),
		})
	}
	return res
}

func (h *Handler) GetMultisig(w http.ResponseWriter, r *http.Request) {
	multisig, err := h.resolveMultisig(r.URL.Query().Get("multisig"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), multisig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !account.OwnedBy(h.programID) {
		h.writeError(w, r, errors.Wrapf(core.ErrEntityNotFound, "%s is not a multisig", multisig))
		return
	}
	decoded, err := squads.DecodeMultisig(account.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vault, err := squads.VaultAddress(h.programID, multisig, squads.DefaultVaultIndex)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convertMultisig(multisig, vault, decoded))
}

type fiatJSON struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type balanceJSON struct {
	Vault    string    `json:"vault"`
	Lamports uint64    `json:"lamports"`
	SOL      string    `json:"sol"`
	Fiat     *fiatJSON `json:"fiat,omitempty"`
}

func (h *Handler) GetVaultBalance(w http.ResponseWriter, r *http.Request) {
	vault, err := h.vaultFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lamports, err := h.ledger.GetBalance(r.Context(), vault)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res := balanceJSON{
		Vault:    vault.String(),
		Lamports: lamports,
		SOL:      rates.FormatSOL(lamports),
	}
	if currency := r.URL.Query().Get("currency"); currency != "" && h.rates != nil {
		value, err := h.rates.Convert(lamports, currency)
		if err != nil {
			h.writeError(w, r, badRequest(err))
			return
		}
		res.Fiat = &fiatJSON{Currency: currency, Value: value.String()}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	res := map[string]string{}
	if h.rates != nil {
		for currency, price := range h.rates.GetRates() {
			res[currency] = price.String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": res})
}
