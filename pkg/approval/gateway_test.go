package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledgertest"
	"github.com/argus-wallet/argus/pkg/squads"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.ProposalPolls = 3
	opts.ProposalDelay = time.Millisecond
	return opts
}

func putProposal(t *testing.T, chain *ledgertest.Chain, multisig solana.PublicKey, index uint64, status squads.ProposalStatus) solana.PublicKey {
	address, err := squads.ProposalAddress(squads.ProgramID, multisig, index)
	require.Nil(t, err)
	require.Nil(t, chain.PutProgramAccount(address, &squads.Proposal{
		Multisig:         multisig,
		TransactionIndex: index,
		Status:           status,
		Approved:         []solana.PublicKey{},
		Rejected:         []solana.PublicKey{},
		Cancelled:        []solana.PublicKey{},
	}))
	return address
}

func TestGateway_ConfigIsCached(t *testing.T) {
	signer := solana.NewWallet().PublicKey()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/config", r.URL.Path)
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"approvalSigner": signer.String(), "geofenceRadius": 150, "cluster": "devnet"})
	}))
	defer srv.Close()

	g, err := New(srv.URL, ledgertest.New(), testOptions(), zap.NewNop())
	require.Nil(t, err)
	cfg, err := g.Config(context.Background())
	require.Nil(t, err)
	require.Equal(t, signer, cfg.ApprovalSigner)
	require.Equal(t, 150.0, cfg.GeofenceRadius)

	require.Eventually(t, func() bool {
		_, err := g.configs.Get(context.Background(), configCacheKey)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	cfg, err = g.Config(context.Background())
	require.Nil(t, err)
	require.Equal(t, "devnet", cfg.Cluster)
	require.Equal(t, int32(1), hits.Load())
}

func TestGateway_Approve(t *testing.T) {
	chain := ledgertest.New()
	multisig := solana.NewWallet().PublicKey()
	proposal := putProposal(t, chain, multisig, 7, squads.ProposalActive)
	backendSig := solana.SignatureFromBytes(make([]byte, 64))
	backendSig[0] = 1

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ApproveRequest
		require.Nil(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, proposal, req.Proposal)
		require.Equal(t, uint64(7), req.TransactionIndex)
		require.NotNil(t, req.Location)
		putProposal(t, chain, multisig, 7, squads.ProposalApproved)
		json.NewEncoder(w).Encode(map[string]any{"approved": true, "signature": backendSig.String()})
	}))
	defer srv.Close()

	g, err := New(srv.URL, chain, testOptions(), zap.NewNop())
	require.Nil(t, err)
	approval, err := g.Approve(context.Background(), ApproveRequest{
		Multisig:         multisig,
		TransactionIndex: 7,
		Location:         &Location{Latitude: 52.52, Longitude: 13.405},
	})
	require.Nil(t, err)
	require.True(t, approval.Approved)
	require.Equal(t, backendSig, approval.Signature)
}

func TestGateway_ApproveFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		// proposal status left on-chain after the backend answers
		onchain squads.ProposalStatus
		check   func(t *testing.T, err error)
	}{
		{
			name:   "outside geofence",
			status: http.StatusForbidden,
			body:   `{"error":"too far","code":"GEOFENCE","distance":1234.5,"radius":100}`,
			check: func(t *testing.T, err error) {
				var geofence *GeofenceError
				require.True(t, errors.As(err, &geofence))
				require.Equal(t, 1234.5, geofence.Distance)
				require.Equal(t, 100.0, geofence.Radius)
				require.True(t, IsPolicyRejection(err))
			},
		},
		{
			name:   "voice mismatch",
			status: http.StatusForbidden,
			body:   `{"error":"phrase does not match","code":"VOICE_MISMATCH"}`,
			check: func(t *testing.T, err error) {
				var rejection *RejectionError
				require.True(t, errors.As(err, &rejection))
				require.Equal(t, "VOICE_MISMATCH", rejection.Code)
			},
		},
		{
			name:   "backend down",
			status: http.StatusServiceUnavailable,
			body:   "upstream unavailable",
			check: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, core.ErrNetwork))
				require.False(t, IsPolicyRejection(err))
			},
		},
		{
			name:    "vote never lands",
			status:  http.StatusOK,
			body:    `{"approved":true}`,
			onchain: squads.ProposalActive,
			check: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, core.ErrNotApproved))
			},
		},
		{
			name:    "proposal rejected on-chain",
			status:  http.StatusOK,
			body:    `{"approved":true}`,
			onchain: squads.ProposalRejected,
			check: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, core.ErrNotApproved))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := ledgertest.New()
			multisig := solana.NewWallet().PublicKey()
			putProposal(t, chain, multisig, 1, tt.onchain)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, err := New(srv.URL, chain, testOptions(), zap.NewNop())
			require.Nil(t, err)
			_, err = g.Approve(context.Background(), ApproveRequest{Multisig: multisig, TransactionIndex: 1})
			require.NotNil(t, err)
			tt.check(t, err)
		})
	}
}

func TestGateway_Rates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rates":{"USD":"142.17","EUR":131.5}}`))
	}))
	defer srv.Close()

	g, err := New(srv.URL, ledgertest.New(), testOptions(), zap.NewNop())
	require.Nil(t, err)
	rates, err := g.Rates(context.Background())
	require.Nil(t, err)
	require.True(t, decimal.RequireFromString("142.17").Equal(rates["USD"]))
	require.True(t, decimal.NewFromFloat(131.5).Equal(rates["EUR"]))
}
