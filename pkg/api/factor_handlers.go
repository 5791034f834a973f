package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/approval"
)

// Second factors always belong to the owner wallet this API serves.

type passwordRequest struct {
	Password string `json:"password"`
}

type voiceRequest struct {
	// Sample is a base64 encoded recording.
	Sample string `json:"sample"`
	Phrase string `json:"phrase,omitempty"`
}

type webAuthnOptionsRequest struct {
	Register bool `json:"register"`
}

type credentialRequest struct {
	Credential json.RawMessage `json:"credential"`
}

type pairingRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type enrolledJSON struct {
	Wallet   string `json:"wallet"`
	Enrolled bool   `json:"enrolled"`
}

type verifiedJSON struct {
	Verified bool    `json:"verified"`
	Score    float64 `json:"score,omitempty"`
}

func (h *Handler) enrolled(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, enrolledJSON{Wallet: h.owner.PublicKey().String(), Enrolled: true})
}

func (h *Handler) verified(w http.ResponseWriter, r *http.Request, resp *approval.VerifyResponse, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifiedJSON{Verified: resp.Verified, Score: resp.Score})
}

func (h *Handler) decodePassword(r *http.Request) (approval.PasswordRequest, error) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		return approval.PasswordRequest{}, err
	}
	if req.Password == "" {
		return approval.PasswordRequest{}, badRequest(errors.New("password is required"))
	}
	return approval.PasswordRequest{Wallet: h.owner.PublicKey(), Password: req.Password}, nil
}

func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodePassword(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.factors.SetPassword(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.enrolled(w)
}

func (h *Handler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodePassword(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.factors.VerifyPassword(r.Context(), req)
	h.verified(w, r, resp, err)
}

func (h *Handler) decodeVoice(r *http.Request) (approval.VoiceRequest, error) {
	var req voiceRequest
	if err := decodeBody(r, &req); err != nil {
		return approval.VoiceRequest{}, err
	}
	if req.Sample == "" {
		return approval.VoiceRequest{}, badRequest(errors.New("voice sample is required"))
	}
	return approval.VoiceRequest{Wallet: h.owner.PublicKey(), Sample: req.Sample, Phrase: req.Phrase}, nil
}

func (h *Handler) EnrollVoice(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeVoice(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.factors.EnrollVoice(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.enrolled(w)
}

func (h *Handler) VerifyVoice(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeVoice(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.factors.VerifyVoice(r.Context(), req)
	h.verified(w, r, resp, err)
}

// WebAuthnOptions passes the backend's ceremony options through unchanged.
func (h *Handler) WebAuthnOptions(w http.ResponseWriter, r *http.Request) {
	var req webAuthnOptionsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	options, err := h.factors.WebAuthnOptions(r.Context(), h.owner.PublicKey(), req.Register)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (h *Handler) decodeCredential(r *http.Request) (approval.WebAuthnRequest, error) {
	var req credentialRequest
	if err := decodeBody(r, &req); err != nil {
		return approval.WebAuthnRequest{}, err
	}
	if len(req.Credential) == 0 {
		return approval.WebAuthnRequest{}, badRequest(errors.New("credential is required"))
	}
	return approval.WebAuthnRequest{Wallet: h.owner.PublicKey(), Credential: req.Credential}, nil
}

func (h *Handler) RegisterWebAuthn(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCredential(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.factors.RegisterWebAuthn(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.enrolled(w)
}

func (h *Handler) VerifyWebAuthn(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCredential(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.factors.VerifyWebAuthn(r.Context(), req)
	h.verified(w, r, resp, err)
}

func (h *Handler) StartPairing(w http.ResponseWriter, r *http.Request) {
	pairing, err := h.factors.StartPairing(r.Context(), h.owner.PublicKey())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pairing)
}

func (h *Handler) CompletePairing(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Code == "" || req.DeviceID == "" {
		h.writeError(w, r, badRequest(errors.New("code and device_id are required")))
		return
	}
	err := h.factors.CompletePairing(r.Context(), approval.PairRequest{
		Wallet:   h.owner.PublicKey(),
		Code:     req.Code,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.enrolled(w)
}
