package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/argus-wallet/argus/pkg/executor"
	"github.com/argus-wallet/argus/pkg/provisioner"
	"github.com/argus-wallet/argus/pkg/squads"
)

func setBaseEnv(t *testing.T) solana.PrivateKey {
	owner := solana.NewWallet().PrivateKey
	t.Setenv("ARGUS_OWNER_KEY", owner.String())
	t.Setenv("POLICY_BACKEND_URL", "https://policy.example")
	return owner
}

func TestParse(t *testing.T) {
	owner := setBaseEnv(t)
	t.Setenv("ARGUS_RELAYS", "https://relay-a.example#base58, https://relay-b.example")
	t.Setenv("PROVISION_CREATE_KEY_SCHEME", "xor")

	c, err := Parse()
	require.Nil(t, err)
	require.Equal(t, owner, c.Wallet.OwnerKey)
	require.Equal(t, squads.ProgramID, c.Solana.ProgramID)
	require.Equal(t, provisioner.SchemeXOR, c.Wallet.CreateKeyScheme)
	require.Equal(t, relayList{
		{URL: "https://relay-a.example", Encoding: executor.EncodingBase58},
		{URL: "https://relay-b.example", Encoding: executor.EncodingBase64},
	}, c.Executor.Relays)
	require.Equal(t, 8081, c.API.Port)
	require.Equal(t, "INFO", c.App.LogLevel)
	_, set := os.LookupEnv("ARGUS_OWNER_KEY")
	require.False(t, set)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad relay encoding", env: map[string]string{"ARGUS_RELAYS": "https://relay.example#hex"}},
		{name: "bad scheme", env: map[string]string{"PROVISION_CREATE_KEY_SCHEME": "random"}},
		{name: "bad program id", env: map[string]string{"SQUADS_PROGRAM_ID": "nope"}},
		{name: "no backend", env: map[string]string{"POLICY_BACKEND_URL": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			require.Error(t, err)
		})
	}
}

func TestParse_ConfigFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ARGUS_RELAYS", "https://relay-env.example")
	path := filepath.Join(t.TempDir(), "argus.yaml")
	require.Nil(t, os.WriteFile(path, []byte(`
rpc_url: https://rpc.example
relays:
  - https://relay-1.example#base58
  - https://relay-2.example
`), 0o600))
	t.Setenv("ARGUS_CONFIG_FILE", path)

	c, err := Parse()
	require.Nil(t, err)
	require.Equal(t, "https://rpc.example", c.Solana.RPCEndpoint)
	require.Equal(t, "https://policy.example", c.Services.BackendURL)
	require.Len(t, c.Executor.Relays, 2)
	require.Equal(t, executor.EncodingBase58, c.Executor.Relays[0].Encoding)
}
