package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
)

type rpcHandler func(method string, params []json.RawMessage) (result any, rpcErr map[string]any)

func newRPCServer(t *testing.T, handler rpcHandler) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.Nil(t, err)
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.Nil(t, json.Unmarshal(body, &req))
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.Nil(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestClient_GetAccount(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58("SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")
	existing := solana.PublicKeyFromBytes(make([]byte, 32))
	missing := AddressLookupTableProgramID

	server := newRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		require.Equal(t, "getAccountInfo", method)
		var address string
		require.Nil(t, json.Unmarshal(params[0], &address))
		context := map[string]any{"slot": 10}
		if address == missing.String() {
			return map[string]any{"context": context, "value": nil}, nil
		}
		return map[string]any{
			"context": context,
			"value": map[string]any{
				"lamports":   1500,
				"owner":      owner.String(),
				"data":       []string{base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), "base64"},
				"executable": false,
				"rentEpoch":  0,
			},
		}, nil
	})
	defer server.Close()

	client := NewClient(server.URL, DefaultOptions(), zap.NewNop())
	account, err := client.GetAccount(context.Background(), existing)
	require.Nil(t, err)
	require.Equal(t, uint64(1500), account.Lamports)
	require.Equal(t, []byte{1, 2, 3}, account.Data)
	require.True(t, account.OwnedBy(owner))

	_, err = client.GetAccount(context.Background(), missing)
	require.True(t, errors.Is(err, core.ErrEntityNotFound))
}

func TestClient_SendTransactionPreflightError(t *testing.T) {
	server := newRPCServer(t, func(method string, params []json.RawMessage) (any, map[string]any) {
		require.Equal(t, "sendTransaction", method)
		return nil, map[string]any{
			"code":    -32002,
			"message": "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x177e",
			"data": map[string]any{
				"err":  map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6014}}},
				"logs": []string{"Program SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf invoke [1]"},
			},
		}
	})
	defer server.Close()

	payer := solana.NewWallet()
	tx, err := solana.NewTransaction([]solana.Instruction{
		solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{solana.Meta(payer.PublicKey()).WRITE().SIGNER()}, []byte{0}),
	}, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	require.Nil(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		return &payer.PrivateKey
	})
	require.Nil(t, err)

	client := NewClient(server.URL, DefaultOptions(), zap.NewNop())
	_, err = client.SendTransaction(context.Background(), tx, false)
	var rpcErr *core.RPCError
	require.True(t, errors.As(err, &rpcErr))
	code, ok := rpcErr.CustomCode()
	require.True(t, ok)
	require.Equal(t, uint32(6014), code)
	require.Len(t, rpcErr.Logs, 1)
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, DefaultOptions(), zap.NewNop())
	_, err := client.GetBalance(context.Background(), AddressLookupTableProgramID)
	require.True(t, errors.Is(err, core.ErrNetwork))
}

func TestDecodeLookupTable(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	data := make([]byte, lookupTableHeaderSize)
	data = append(data, a[:]...)
	data = append(data, b[:]...)

	tests := []struct {
		name    string
		account *core.Account
		want    solana.PublicKeySlice
		wantErr bool
	}{
		{
			name:    "two addresses",
			account: &core.Account{Owner: AddressLookupTableProgramID, Data: data},
			want:    solana.PublicKeySlice{a, b},
		},
		{
			name:    "wrong owner",
			account: &core.Account{Owner: solana.SystemProgramID, Data: data},
			wantErr: true,
		},
		{
			name:    "truncated",
			account: &core.Account{Owner: AddressLookupTableProgramID, Data: data[:len(data)-1]},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLookupTable(tt.account)
			if tt.wantErr {
				require.True(t, errors.Is(err, core.ErrInvalidAccount))
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type scriptedStatuses struct {
	calls    int
	landAt   int
	statusFn func() *core.SignatureStatus
}

func (s *scriptedStatuses) SignatureStatus(ctx context.Context, sig solana.Signature) (*core.SignatureStatus, error) {
	s.calls++
	if s.landAt == 0 || s.calls < s.landAt {
		return nil, core.ErrEntityNotFound
	}
	return s.statusFn(), nil
}

func TestConfirmTransaction(t *testing.T) {
	tests := []struct {
		name       string
		reader     *scriptedStatuses
		wantErr    error
		wantFailed bool
	}{
		{
			name: "lands on third poll",
			reader: &scriptedStatuses{landAt: 3, statusFn: func() *core.SignatureStatus {
				return &core.SignatureStatus{Confirmation: core.Confirmed}
			}},
		},
		{
			name: "lands with an error",
			reader: &scriptedStatuses{landAt: 1, statusFn: func() *core.SignatureStatus {
				return &core.SignatureStatus{Confirmation: core.Confirmed, Err: "BlockhashNotFound"}
			}},
			wantFailed: true,
		},
		{
			name:    "never lands",
			reader:  &scriptedStatuses{},
			wantErr: core.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := ConfirmTransaction(context.Background(), tt.reader, solana.Signature{}, 200*time.Millisecond, 10*time.Millisecond)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.wantFailed, status.Failed())
		})
	}
}
