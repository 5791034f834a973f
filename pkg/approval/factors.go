package approval

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Second-factor enrollment and verification. The backend owns the checks; these calls only carry
// the payloads.

type PasswordRequest struct {
	Wallet   solana.PublicKey `json:"wallet"`
	Password string           `json:"password"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
	// Score is the similarity reported by voice verification.
	Score float64 `json:"score,omitempty"`
}

func (g *Gateway) SetPassword(ctx context.Context, req PasswordRequest) error {
	return g.do(ctx, http.MethodPost, "/password/set", req, nil)
}

func (g *Gateway) VerifyPassword(ctx context.Context, req PasswordRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := g.do(ctx, http.MethodPost, "/password/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type VoiceRequest struct {
	Wallet solana.PublicKey `json:"wallet"`
	// Sample is a base64 encoded recording.
	Sample string `json:"sample"`
	Phrase string `json:"phrase,omitempty"`
}

func (g *Gateway) EnrollVoice(ctx context.Context, req VoiceRequest) error {
	return g.do(ctx, http.MethodPost, "/voice/enroll", req, nil)
}

func (g *Gateway) VerifyVoice(ctx context.Context, req VoiceRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := g.do(ctx, http.MethodPost, "/voice/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type WebAuthnRequest struct {
	Wallet solana.PublicKey `json:"wallet"`
	// Credential is the browser's attestation or assertion, forwarded unchanged.
	Credential json.RawMessage `json:"credential"`
}

// WebAuthnOptions returns the creation or request options for the browser ceremony.
func (g *Gateway) WebAuthnOptions(ctx context.Context, wallet solana.PublicKey, register bool) (json.RawMessage, error) {
	path := "/webauthn/authenticate/options"
	if register {
		path = "/webauthn/register/options"
	}
	var resp json.RawMessage
	if err := g.do(ctx, http.MethodPost, path, map[string]solana.PublicKey{"wallet": wallet}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) RegisterWebAuthn(ctx context.Context, req WebAuthnRequest) error {
	return g.do(ctx, http.MethodPost, "/webauthn/register", req, nil)
}

func (g *Gateway) VerifyWebAuthn(ctx context.Context, req WebAuthnRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := g.do(ctx, http.MethodPost, "/webauthn/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type Pairing struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type PairRequest struct {
	Wallet   solana.PublicKey `json:"wallet"`
	Code     string           `json:"code"`
	DeviceID string           `json:"deviceId"`
}

// StartPairing issues a short-lived code the companion device enters to pair.
func (g *Gateway) StartPairing(ctx context.Context, wallet solana.PublicKey) (*Pairing, error) {
	var resp Pairing
	if err := g.do(ctx, http.MethodPost, "/companion/pair/start", map[string]solana.PublicKey{"wallet": wallet}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *Gateway) CompletePairing(ctx context.Context, req PairRequest) error {
	return g.do(ctx, http.MethodPost, "/companion/pair/complete", req, nil)
}

// Rates returns the price of one SOL per currency code.
func (g *Gateway) Rates(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp struct {
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := g.do(ctx, http.MethodGet, "/rates", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rates, nil
}
