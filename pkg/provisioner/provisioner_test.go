package provisioner

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledgertest"
	"github.com/argus-wallet/argus/pkg/squads"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.VisibilityDelay = time.Millisecond
	opts.TransientDelay = time.Millisecond
	opts.ConfirmTimeout = time.Second
	return opts
}

func multisigForAttempt(t *testing.T, scheme CreateKeyScheme, owner solana.PublicKey, attempt int) solana.PublicKey {
	createKey, err := DeriveCreateKey(scheme, owner, attempt)
	require.Nil(t, err)
	addr, err := squads.MultisigAddress(squads.ProgramID, createKey.PublicKey())
	require.Nil(t, err)
	return addr
}

func TestProvision_Idempotent(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()
	p := New(chain, testOptions(), zap.NewNop())

	first, err := p.Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)
	require.Equal(t, core.ProvisionCreated, first.Outcome)
	require.Equal(t, 0, first.Attempt)
	require.NotEqual(t, solana.Signature{}, first.Signature)

	m, err := chain.Multisig(first.Multisig)
	require.Nil(t, err)
	require.Equal(t, uint16(1), m.Threshold)
	ownerMember, ok := m.Member(owner.PublicKey())
	require.True(t, ok)
	require.Equal(t, squads.PermissionAll, ownerMember.Permissions)
	signerMember, ok := m.Member(approvalSigner)
	require.True(t, ok)
	require.Equal(t, squads.PermissionInitiate|squads.PermissionVote, signerMember.Permissions)

	second, err := p.Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)
	require.Equal(t, core.ProvisionRecovered, second.Outcome)
	require.Equal(t, first.Multisig, second.Multisig)
	require.Equal(t, first.Vault, second.Vault)
	require.Len(t, chain.Submitted, 1)
}

func TestProvision_SkipsCollisions(t *testing.T) {
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()

	tests := []struct {
		name    string
		occupy  func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey)
		attempt int
	}{
		{
			name: "system account at the address",
			occupy: func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey) {
				chain.SetBalance(address, 1_000_000)
			},
			attempt: 1,
		},
		{
			name: "foreign multisig at the address",
			occupy: func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey) {
				require.Nil(t, chain.PutProgramAccount(address, &squads.Multisig{
					Threshold: 1,
					Members:   []squads.Member{{Key: solana.NewWallet().PublicKey(), Permissions: squads.PermissionAll}},
				}))
			},
			attempt: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := ledgertest.New()
			occupied := multisigForAttempt(t, SchemeHashed, owner.PublicKey(), 0)
			tt.occupy(t, chain, occupied)

			result, err := New(chain, testOptions(), zap.NewNop()).Provision(context.Background(), owner, approvalSigner)
			require.Nil(t, err)
			require.Equal(t, tt.attempt, result.Attempt)
			require.NotEqual(t, occupied, result.Multisig)
			require.Equal(t, core.ProvisionCreated, result.Outcome)
		})
	}
}

func TestProvision_AlreadyInUseRecovers(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()
	p := New(chain, testOptions(), zap.NewNop())

	first, err := p.Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)

	// the node answering reads has not indexed the multisig yet, so creation is attempted again
	chain.HideAccount(first.Multisig, 2)
	second, err := p.Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)
	require.Equal(t, core.ProvisionRecovered, second.Outcome)
	require.Equal(t, first.Multisig, second.Multisig)
	require.Equal(t, 0, second.Attempt)
}

func TestProvision_AlreadyInUseByForeignAccountSkips(t *testing.T) {
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()

	tests := []struct {
		name   string
		occupy func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey)
	}{
		{
			name: "system account",
			occupy: func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey) {
				chain.SetBalance(address, 1_000_000)
			},
		},
		{
			name: "account of another program",
			occupy: func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey) {
				chain.PutAccount(core.Account{
					Address:  address,
					Owner:    solana.NewWallet().PublicKey(),
					Lamports: 2_000_000,
					Data:     []byte{1, 2, 3, 4},
				})
			},
		},
		{
			name: "multisig without our members",
			occupy: func(t *testing.T, chain *ledgertest.Chain, address solana.PublicKey) {
				require.Nil(t, chain.PutProgramAccount(address, &squads.Multisig{
					Threshold: 1,
					Members:   []squads.Member{{Key: solana.NewWallet().PublicKey(), Permissions: squads.PermissionAll}},
				}))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := ledgertest.New()
			occupied := multisigForAttempt(t, SchemeHashed, owner.PublicKey(), 0)
			tt.occupy(t, chain, occupied)
			// the first read misses the account, so creation runs into it on chain
			chain.HideAccount(occupied, 1)

			result, err := New(chain, testOptions(), zap.NewNop()).Provision(context.Background(), owner, approvalSigner)
			require.Nil(t, err)
			require.Equal(t, 1, result.Attempt)
			require.Equal(t, multisigForAttempt(t, SchemeHashed, owner.PublicKey(), 1), result.Multisig)
			require.NotEqual(t, occupied, result.Multisig)
			require.Equal(t, core.ProvisionCreated, result.Outcome)

			m, err := chain.Multisig(result.Multisig)
			require.Nil(t, err)
			_, ok := m.Member(owner.PublicKey())
			require.True(t, ok)
		})
	}
}

func TestProvision_WaitsForVisibility(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()
	chain.HideAccount(multisigForAttempt(t, SchemeHashed, owner.PublicKey(), 0), 4)

	result, err := New(chain, testOptions(), zap.NewNop()).Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)
	require.Equal(t, core.ProvisionCreated, result.Outcome)
	require.Equal(t, 0, result.Attempt)
}

func TestProvision_TransientErrorKeepsCreateKey(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	approvalSigner := solana.NewWallet().PublicKey()
	chain.FailNextSend(errors.Wrap(core.ErrNetwork, "connection reset"))

	result, err := New(chain, testOptions(), zap.NewNop()).Provision(context.Background(), owner, approvalSigner)
	require.Nil(t, err)
	require.Equal(t, 0, result.Attempt)
	require.Equal(t, core.ProvisionCreated, result.Outcome)
	require.Len(t, chain.Submitted, 2)
}

func TestProvision_PersistentNetworkFailure(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	opts := testOptions()
	opts.TransientRetries = 2
	for i := 0; i < 2; i++ {
		chain.FailNextSend(errors.Wrap(core.ErrNetwork, "503"))
	}

	_, err := New(chain, opts, zap.NewNop()).Provision(context.Background(), owner, solana.NewWallet().PublicKey())
	require.True(t, errors.Is(err, core.ErrNetwork))
	require.False(t, errors.Is(err, core.ErrNoFreeSlot))
}

func TestProvision_NoFreeSlot(t *testing.T) {
	chain := ledgertest.New()
	owner := solana.NewWallet().PrivateKey
	opts := testOptions()
	opts.Attempts = 3
	for i := 0; i < opts.Attempts; i++ {
		chain.SetBalance(multisigForAttempt(t, SchemeHashed, owner.PublicKey(), i), 1)
	}

	_, err := New(chain, opts, zap.NewNop()).Provision(context.Background(), owner, solana.NewWallet().PublicKey())
	require.True(t, errors.Is(err, core.ErrNoFreeSlot))
	require.Len(t, chain.Submitted, 0)
}

func TestDeriveCreateKey(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	for _, scheme := range []CreateKeyScheme{SchemeHashed, SchemeXOR} {
		t.Run(string(scheme), func(t *testing.T) {
			seen := map[solana.PublicKey]bool{}
			for attempt := 0; attempt < 10; attempt++ {
				a, err := DeriveCreateKey(scheme, owner, attempt)
				require.Nil(t, err)
				b, err := DeriveCreateKey(scheme, owner, attempt)
				require.Nil(t, err)
				require.Equal(t, a.PublicKey(), b.PublicKey())
				require.False(t, seen[a.PublicKey()])
				seen[a.PublicKey()] = true
			}
		})
	}

	_, err := DeriveCreateKey("random", owner, 0)
	require.NotNil(t, err)

	scheme, err := ParseCreateKeyScheme("xor")
	require.Nil(t, err)
	require.Equal(t, SchemeXOR, scheme)
}
