package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/ledgertest"
	"github.com/argus-wallet/argus/pkg/squads"
	"github.com/argus-wallet/argus/pkg/swap"
	"github.com/argus-wallet/argus/pkg/vault"
)

type fixture struct {
	chain    *ledgertest.Chain
	owner    solana.PrivateKey
	multisig solana.PublicKey
	vault    solana.PublicKey
	builder  *vault.Builder
}

func newFixture(t *testing.T) *fixture {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	createKey := solana.NewWallet().PublicKey()
	multisig, err := squads.MultisigAddress(squads.ProgramID, createKey)
	require.Nil(t, err)
	require.Nil(t, chain.PutProgramAccount(multisig, &squads.Multisig{
		CreateKey: createKey,
		Threshold: 1,
		Members: []squads.Member{
			{Key: owner.PublicKey(), Permissions: squads.PermissionAll},
			{Key: solana.NewWallet().PublicKey(), Permissions: squads.PermissionInitiate | squads.PermissionVote},
		},
	}))
	vaultAddress, err := squads.VaultAddress(squads.ProgramID, multisig, squads.DefaultVaultIndex)
	require.Nil(t, err)
	chain.SetBalance(owner.PublicKey(), core.LamportsPerSOL)
	chain.SetBalance(vaultAddress, 2*core.LamportsPerSOL)

	opts := vault.DefaultOptions()
	opts.VisibilityDelay = time.Millisecond
	return &fixture{
		chain:    chain,
		owner:    owner,
		multisig: multisig,
		vault:    vaultAddress,
		builder:  vault.NewBuilder(chain, opts, zap.NewNop()),
	}
}

func (f *fixture) approve(t *testing.T, index uint64) {
	proposal, err := squads.ProposalAddress(squads.ProgramID, f.multisig, index)
	require.Nil(t, err)
	ix, err := squads.NewProposalApproveInstruction(squads.ProgramID, f.multisig, proposal, f.owner.PublicKey(), nil)
	require.Nil(t, err)
	_, err = ledger.Submit(context.Background(), f.chain, "proposal_approve", []solana.Instruction{ix}, f.owner, nil, time.Second)
	require.Nil(t, err)
}

func (f *fixture) transfer(t *testing.T, recipient solana.PublicKey, lamports uint64) uint64 {
	tx, err := f.builder.CreateTransfer(context.Background(), f.owner, vault.TransferRequest{
		Multisig:  f.multisig,
		Recipient: recipient,
		Lamports:  lamports,
	})
	require.Nil(t, err)
	return tx.Index
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ConfirmTimeout = time.Second
	opts.PollInterval = time.Millisecond
	opts.PollWindow = 50 * time.Millisecond
	return opts
}

func TestExecute_Transfer(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()
	index := f.transfer(t, recipient, core.LamportsPerSOL/2)
	engine := New(f.chain, testOptions(), zap.NewNop())

	_, err := engine.Execute(context.Background(), f.owner, Request{Multisig: f.multisig, Index: index})
	require.True(t, errors.Is(err, core.ErrNotApproved))

	f.approve(t, index)
	result, err := engine.Execute(context.Background(), f.owner, Request{Multisig: f.multisig, Index: index, Language: "ru"})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionConfirmed, result.Status)
	require.Equal(t, "rpc", result.Via)
	require.NotEmpty(t, result.Message)

	balance, err := f.chain.GetBalance(context.Background(), recipient)
	require.Nil(t, err)
	require.Equal(t, uint64(core.LamportsPerSOL/2), balance)
	proposalAddress, err := squads.ProposalAddress(squads.ProgramID, f.multisig, index)
	require.Nil(t, err)
	proposal, err := f.chain.Proposal(proposalAddress)
	require.Nil(t, err)
	require.Equal(t, squads.ProposalExecuted, proposal.Status)
}

func TestExecute_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	index := f.transfer(t, solana.NewWallet().PublicKey(), core.LamportsPerSOL)
	f.approve(t, index)
	// the vault was drained between proposal and execution
	f.chain.SetBalance(f.vault, core.LamportsPerSOL/4)

	result, err := New(f.chain, testOptions(), zap.NewNop()).Execute(context.Background(), f.owner, Request{Multisig: f.multisig, Index: index})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionFailed, result.Status)
	require.Equal(t, core.ErrorCodeInsufficientFunds, result.ErrorCode)
	require.NotEmpty(t, result.Message)
}

func (f *fixture) swap(t *testing.T, router solana.PublicKey, tables ...solana.PublicKey) uint64 {
	pool := solana.NewWallet().PublicKey()
	if len(tables) > 0 {
		f.chain.AddLookupTable(tables[0], solana.PublicKeySlice{pool})
	}
	tx, err := f.builder.CreateSwap(context.Background(), f.owner, vault.SwapRequest{
		Multisig: f.multisig,
		Instructions: &swap.Instructions{
			Swap: solana.NewInstruction(router, solana.AccountMetaSlice{
				solana.Meta(f.vault).WRITE().SIGNER(),
				solana.Meta(pool).WRITE(),
			}, []byte{0xe5}),
			LookupTables: tables,
		},
	})
	require.Nil(t, err)
	f.approve(t, tx.Index)
	return tx.Index
}

func TestExecute_LowLatencyDecodesSlippage(t *testing.T) {
	f := newFixture(t)
	router := solana.NewWallet().PublicKey()
	f.chain.RegisterProgram(router, func(inv *ledgertest.Invocation) error {
		return &ledgertest.ProgramError{Custom: 6001, Log: "Program log: Error: SlippageToleranceExceeded"}
	})
	index := f.swap(t, router)

	result, err := New(f.chain, testOptions(), zap.NewNop()).Execute(context.Background(), f.owner, Request{
		Multisig:   f.multisig,
		Index:      index,
		LowLatency: true,
	})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionFailed, result.Status)
	require.Equal(t, core.ErrorCodeSlippage, result.ErrorCode)
	require.Equal(t, "rpc", result.Via)
}

func TestExecute_LowLatencySubmitted(t *testing.T) {
	f := newFixture(t)
	index := f.swap(t, solana.NewWallet().PublicKey())
	f.chain.DropNextSend(1)

	result, err := New(f.chain, testOptions(), zap.NewNop()).Execute(context.Background(), f.owner, Request{
		Multisig:   f.multisig,
		Index:      index,
		LowLatency: true,
	})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionSubmitted, result.Status)
	require.NotEqual(t, solana.Signature{}, result.Signature)
}

func TestExecute_RelayFallthrough(t *testing.T) {
	f := newFixture(t)
	index := f.swap(t, solana.NewWallet().PublicKey())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	var relayed int
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.Nil(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sendTransaction", req.Method)
		raw, err := base58.Decode(req.Params[0].(string))
		require.Nil(t, err)
		sig, err := f.chain.SendRawTransaction(r.Context(), raw, true)
		require.Nil(t, err)
		relayed++
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": sig.String()})
	}))
	defer up.Close()

	opts := testOptions()
	opts.Relays = []Relay{{URL: down.URL, Encoding: EncodingBase64}, {URL: up.URL, Encoding: EncodingBase58}}
	result, err := New(f.chain, opts, zap.NewNop()).Execute(context.Background(), f.owner, Request{
		Multisig:   f.multisig,
		Index:      index,
		LowLatency: true,
	})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionConfirmed, result.Status)
	require.Equal(t, up.URL, result.Via)
	require.Equal(t, 1, relayed)
}

func TestExecute_LookupTables(t *testing.T) {
	f := newFixture(t)
	table := solana.NewWallet().PublicKey()
	index := f.swap(t, solana.NewWallet().PublicKey(), table)

	result, err := New(f.chain, testOptions(), zap.NewNop()).Execute(context.Background(), f.owner, Request{Multisig: f.multisig, Index: index})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionConfirmed, result.Status)
}

// tableFailer fails every lookup table read.
type tableFailer struct {
	*ledgertest.Chain
}

func (tableFailer) GetLookupTable(ctx context.Context, address solana.PublicKey) (solana.PublicKeySlice, error) {
	return nil, errors.Wrap(core.ErrNetwork, "table read failed")
}

func TestExecute_UnresolvedLookupTableIsSkipped(t *testing.T) {
	f := newFixture(t)
	table := solana.NewWallet().PublicKey()
	index := f.swap(t, solana.NewWallet().PublicKey(), table)

	result, err := New(tableFailer{f.chain}, testOptions(), zap.NewNop()).Execute(context.Background(), f.owner, Request{Multisig: f.multisig, Index: index})
	require.Nil(t, err)
	require.Equal(t, core.ExecutionFailed, result.Status)
	require.Equal(t, core.ErrorCodeOnChainFailure, result.ErrorCode)
}

func TestDecodeFailure(t *testing.T) {
	custom := func(code float64) any {
		return map[string]any{"InstructionError": []any{float64(0), map[string]any{"Custom": code}}}
	}
	tests := []struct {
		name  string
		txErr any
		want  string
	}{
		{name: "slippage", txErr: custom(6001), want: core.ErrorCodeSlippage},
		{name: "token insufficient funds", txErr: custom(1), want: core.ErrorCodeInsufficientFunds},
		{name: "fee", txErr: "InsufficientFundsForFee", want: core.ErrorCodeInsufficientFunds},
		{name: "rent", txErr: map[string]any{"InsufficientFundsForRent": map[string]any{"account_index": float64(0)}}, want: core.ErrorCodeInsufficientFunds},
		{name: "blockhash", txErr: "BlockhashNotFound", want: core.ErrorCodeBlockhashExpired},
		{name: "other custom", txErr: custom(6013), want: core.ErrorCodeOnChainFailure},
		{name: "builtin instruction error", txErr: map[string]any{"InstructionError": []any{float64(1), "InvalidAccountData"}}, want: core.ErrorCodeOnChainFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DecodeFailure(tt.txErr))
		})
	}
}

func TestFailureMessage(t *testing.T) {
	en := FailureMessage("en", core.ErrorCodeSlippage, nil)
	ru := FailureMessage("ru-RU,ru;q=0.9", core.ErrorCodeSlippage, nil)
	require.Contains(t, en, "slippage")
	require.NotEqual(t, en, ru)
	require.Contains(t, FailureMessage("de", core.ErrorCodeOnChainFailure, "InvalidAccountData"), "InvalidAccountData")
}

func TestParseRelay(t *testing.T) {
	tests := []struct {
		in      string
		want    Relay
		wantErr bool
	}{
		{in: "https://relay.example", want: Relay{URL: "https://relay.example", Encoding: EncodingBase64}},
		{in: " https://relay.example/api#base58 ", want: Relay{URL: "https://relay.example/api", Encoding: EncodingBase58}},
		{in: "https://relay.example#hex", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRelay(tt.in)
			if tt.wantErr {
				require.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
