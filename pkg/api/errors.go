package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/internal/g"
	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/i18n"
	"github.com/argus-wallet/argus/pkg/vault"
)

var errNotProvisioned = errors.New("wallet has no multisig yet")

type errorJSON struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Distance *float64 `json:"distance,omitempty"`
	Radius   *float64 `json:"radius,omitempty"`
	// Index, Transaction and Signature are set when a vault transaction was created but its
	// proposal was not.
	Index       *uint64 `json:"index,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Signature   string  `json:"signature,omitempty"`
}

type badRequestError struct {
	err error
}

func (e badRequestError) Error() string { return e.err.Error() }

func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return badRequestError{err: err}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// toError maps a component error to a status code and a localized body.
func toError(lang string, err error) (int, errorJSON) {
	var (
		geofence  *approval.GeofenceError
		rejection *approval.RejectionError
		orphan    *vault.OrphanedTransactionError
		invalid   badRequestError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, errorJSON{Error: err.Error(), Code: "BAD_REQUEST"}
	case errors.As(err, &geofence):
		return http.StatusForbidden, errorJSON{
			Error: i18n.Message(lang, "geofenceRejected", map[string]any{
				"Distance": int64(geofence.Distance),
				"Radius":   int64(geofence.Radius),
			}),
			Code:     "GEOFENCE",
			Distance: g.Pointer(geofence.Distance),
			Radius:   g.Pointer(geofence.Radius),
		}
	case errors.As(err, &rejection):
		reason := rejection.Message
		if reason == "" {
			reason = rejection.Code
		}
		return http.StatusForbidden, errorJSON{
			Error: i18n.Message(lang, "approvalRejected", map[string]any{"Reason": reason}),
			Code:  rejection.Code,
		}
	case errors.As(err, &orphan):
		return http.StatusBadGateway, errorJSON{
			Error: i18n.Message(lang, "networkError", nil),
			Code:        "ORPHANED_TRANSACTION",
			Index:       g.Pointer(orphan.Index),
			Transaction: orphan.Transaction.String(),
			Signature:   orphan.Signature.String(),
		}
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorJSON{Error: i18n.Message(lang, "insufficientBalance", nil), Code: "INSUFFICIENT_BALANCE"}
	case errors.Is(err, core.ErrNoFreeSlot):
		return http.StatusServiceUnavailable, errorJSON{Error: i18n.Message(lang, "noFreeSlot", nil), Code: "NO_FREE_SLOT"}
	case errors.Is(err, core.ErrNotApproved):
		return http.StatusConflict, errorJSON{Error: i18n.Message(lang, "notApproved", nil), Code: "NOT_APPROVED"}
	case errors.Is(err, core.ErrEntityNotFound), errors.Is(err, errNotProvisioned):
		return http.StatusNotFound, errorJSON{Error: err.Error(), Code: "NOT_FOUND"}
	case errors.Is(err, core.ErrNetwork), errors.Is(err, core.ErrTimeout):
		return http.StatusBadGateway, errorJSON{Error: i18n.Message(lang, "networkError", nil), Code: "NETWORK"}
	}
	var subErr *core.SubmissionError
	if errors.As(err, &subErr) {
		return http.StatusBadGateway, errorJSON{Error: err.Error(), Code: "SUBMISSION_FAILED"}
	}
	return http.StatusInternalServerError, errorJSON{Error: err.Error(), Code: "INTERNAL"}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toError(requestLanguage(r), err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}
