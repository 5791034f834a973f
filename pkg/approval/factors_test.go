package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/ledgertest"
)

func TestGateway_Factors(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.Nil(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, wallet.String(), body["wallet"])
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/password/verify", "/webauthn/verify":
			w.Write([]byte(`{"verified":true}`))
		case "/voice/verify":
			w.Write([]byte(`{"verified":false,"score":0.41}`))
		case "/webauthn/register/options", "/webauthn/authenticate/options":
			w.Write([]byte(`{"challenge":"` + r.URL.Path + `"}`))
		case "/companion/pair/start":
			w.Write([]byte(`{"code":"1234","expiresAt":60}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	g, err := New(srv.URL, ledgertest.New(), testOptions(), zap.NewNop())
	require.Nil(t, err)
	ctx := context.Background()

	require.Nil(t, g.SetPassword(ctx, PasswordRequest{Wallet: wallet, Password: "pw"}))
	verify, err := g.VerifyPassword(ctx, PasswordRequest{Wallet: wallet, Password: "pw"})
	require.Nil(t, err)
	require.True(t, verify.Verified)

	require.Nil(t, g.EnrollVoice(ctx, VoiceRequest{Wallet: wallet, Sample: "UklGRg=="}))
	verify, err = g.VerifyVoice(ctx, VoiceRequest{Wallet: wallet, Sample: "UklGRg=="})
	require.Nil(t, err)
	require.False(t, verify.Verified)
	require.Equal(t, 0.41, verify.Score)

	options, err := g.WebAuthnOptions(ctx, wallet, true)
	require.Nil(t, err)
	require.JSONEq(t, `{"challenge":"/webauthn/register/options"}`, string(options))
	options, err = g.WebAuthnOptions(ctx, wallet, false)
	require.Nil(t, err)
	require.JSONEq(t, `{"challenge":"/webauthn/authenticate/options"}`, string(options))
	credential := WebAuthnRequest{Wallet: wallet, Credential: json.RawMessage(`{"id":"abc"}`)}
	require.Nil(t, g.RegisterWebAuthn(ctx, credential))
	verify, err = g.VerifyWebAuthn(ctx, credential)
	require.Nil(t, err)
	require.True(t, verify.Verified)

	pairing, err := g.StartPairing(ctx, wallet)
	require.Nil(t, err)
	require.Equal(t, &Pairing{Code: "1234", ExpiresAt: 60}, pairing)
	require.Nil(t, g.CompletePairing(ctx, PairRequest{Wallet: wallet, Code: "1234", DeviceID: "phone"}))

	require.Equal(t, []string{
		"/password/set",
		"/password/verify",
		"/voice/enroll",
		"/voice/verify",
		"/webauthn/register/options",
		"/webauthn/authenticate/options",
		"/webauthn/register",
		"/webauthn/verify",
		"/companion/pair/start",
		"/companion/pair/complete",
	}, paths)
}

func TestGateway_FactorRefusals(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rejected",
			status: http.StatusForbidden,
			body:   `{"error":"voice does not match","code":"VOICE_MISMATCH"}`,
			check: func(t *testing.T, err error) {
				var rejection *RejectionError
				require.True(t, errors.As(err, &rejection))
				require.Equal(t, "VOICE_MISMATCH", rejection.Code)
			},
		},
		{
			name:   "backend failure",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, core.ErrNetwork))
				require.False(t, IsPolicyRejection(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, err := New(srv.URL, ledgertest.New(), testOptions(), zap.NewNop())
			require.Nil(t, err)
			_, err = g.VerifyVoice(context.Background(), VoiceRequest{Wallet: solana.NewWallet().PublicKey(), Sample: "x"})
			require.NotNil(t, err)
			tt.check(t, err)
		})
	}
}
