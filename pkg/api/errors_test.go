package api

import (
	"net/http"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/vault"
)

var approvalGeofence = approval.GeofenceError{Distance: 1250, Radius: 100}

func TestToError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "geofence", err: errors.Wrap(&approvalGeofence, "approve"), wantStatus: http.StatusForbidden, wantCode: "GEOFENCE"},
		{name: "voice", err: &approval.RejectionError{Code: "VOICE_MISMATCH"}, wantStatus: http.StatusForbidden, wantCode: "VOICE_MISMATCH"},
		{name: "balance", err: errors.Wrap(core.ErrInsufficientBalance, "vault"), wantStatus: http.StatusUnprocessableEntity, wantCode: "INSUFFICIENT_BALANCE"},
		{name: "capacity", err: core.ErrNoFreeSlot, wantStatus: http.StatusServiceUnavailable, wantCode: "NO_FREE_SLOT"},
		{name: "network", err: errors.Wrap(core.ErrNetwork, "router"), wantStatus: http.StatusBadGateway, wantCode: "NETWORK"},
		{name: "timeout", err: core.ErrTimeout, wantStatus: http.StatusBadGateway, wantCode: "NETWORK"},
		{name: "not approved", err: core.ErrNotApproved, wantStatus: http.StatusConflict, wantCode: "NOT_APPROVED"},
		{name: "orphan", err: &vault.OrphanedTransactionError{Index: 3, Err: core.ErrNetwork}, wantStatus: http.StatusBadGateway, wantCode: "ORPHANED_TRANSACTION"},
		{name: "submission", err: core.NewSubmissionError("multisig_create", solana.Signature{}, errors.New("blockhash not found")), wantStatus: http.StatusBadGateway, wantCode: "SUBMISSION_FAILED"},
		{name: "bad request", err: badRequest(errors.New("amount")), wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := toError("en", tt.err)
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, tt.wantCode, body.Code)
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestToError_Orphan(t *testing.T) {
	transaction := solana.NewWallet().PublicKey()
	signature := solana.Signature{1, 2, 3}
	status, body := toError("en", errors.Wrap(&vault.OrphanedTransactionError{
		Index:       3,
		Transaction: transaction,
		Signature:   signature,
		Err:         core.ErrNetwork,
	}, "create transfer"))
	require.Equal(t, http.StatusBadGateway, status)
	require.NotNil(t, body.Index)
	require.Equal(t, uint64(3), *body.Index)
	require.Equal(t, transaction.String(), body.Transaction)
	require.Equal(t, signature.String(), body.Signature)
}

func TestNormalizeLanguage(t *testing.T) {
	require.Equal(t, "ru", normalizeLanguage("ru-ru,ru;q=0.9"))
	require.Equal(t, "en", normalizeLanguage(""))
	require.Equal(t, "en", normalizeLanguage("de"))
}
