package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/pusher/sse"
	"github.com/argus-wallet/argus/pkg/squads"
)

// Handler serves the local wallet API on behalf of a single owner key.
type Handler struct {
	logger      *zap.Logger
	owner       solana.PrivateKey
	programID   solana.PublicKey
	ledger      chainReader
	provisioner multisigProvisioner
	builder     proposalBuilder
	router      swapRouter
	gateway     policyGateway
	factors     factorGateway
	engine      executionEngine
	rates       ratesSource
	events      *sse.Handler

	// multisig is the last provisioned multisig, used when a request names none.
	multisig atomic.Pointer[solana.PublicKey]
}

type HandlerOptions struct {
	ProgramID   solana.PublicKey
	Ledger      chainReader
	Provisioner multisigProvisioner
	Builder     proposalBuilder
	Router      swapRouter
	Gateway     policyGateway
	Factors     factorGateway
	Engine      executionEngine
	Rates       ratesSource
	Events      *sse.Handler
	// Multisig preselects the wallet's multisig, for wallets provisioned in an earlier run.
	Multisig solana.PublicKey
}

func NewHandler(logger *zap.Logger, owner solana.PrivateKey, opts HandlerOptions) *Handler {
	if opts.ProgramID.IsZero() {
		opts.ProgramID = squads.ProgramID
	}
	h := &Handler{
		logger:      logger,
		owner:       owner,
		programID:   opts.ProgramID,
		ledger:      opts.Ledger,
		provisioner: opts.Provisioner,
		builder:     opts.Builder,
		router:      opts.Router,
		gateway:     opts.Gateway,
		factors:     opts.Factors,
		engine:      opts.Engine,
		rates:       opts.Rates,
		events:      opts.Events,
	}
	if !opts.Multisig.IsZero() {
		h.rememberMultisig(opts.Multisig)
	}
	return h
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, Logging(h.logger), Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/multisig", h.Provision)
		r.Get("/multisig", h.GetMultisig)
		r.Get("/vault/balance", h.GetVaultBalance)
		if h.events != nil {
			r.Get("/vault/events", h.events.Account(h.vaultFromQuery))
		}
		r.Post("/transfers", h.CreateTransfer)
		r.Post("/swaps/quote", h.GetSwapQuote)
		r.Post("/swaps", h.CreateSwap)
		r.Post("/proposals/{index}/approve", h.ApproveProposal)
		r.Post("/proposals/{index}/execute", h.ExecuteProposal)
		r.Get("/rates", h.GetRates)
		if h.factors != nil {
			r.Route("/factors", func(r chi.Router) {
				r.Post("/password", h.SetPassword)
				r.Post("/password/verify", h.VerifyPassword)
				r.Post("/voice", h.EnrollVoice)
				r.Post("/voice/verify", h.VerifyVoice)
				r.Post("/webauthn/options", h.WebAuthnOptions)
				r.Post("/webauthn", h.RegisterWebAuthn)
				r.Post("/webauthn/verify", h.VerifyWebAuthn)
				r.Post("/pairing", h.StartPairing)
				r.Post("/pairing/complete", h.CompletePairing)
			})
		}
	})
	return r
}

func (h *Handler) rememberMultisig(multisig solana.PublicKey) {
	h.multisig.Store(&multisig)
}

// resolveMultisig parses value, falling back to the remembered multisig when value is empty.
func (h *Handler) resolveMultisig(value string) (solana.PublicKey, error) {
	if value != "" {
		multisig, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			return solana.PublicKey{}, badRequest(errors.Wrap(err, "multisig"))
		}
		return multisig, nil
	}
	if m := h.multisig.Load(); m != nil {
		return *m, nil
	}
	return solana.PublicKey{}, errNotProvisioned
}

func (h *Handler) vaultFromQuery(r *http.Request) (solana.PublicKey, error) {
	multisig, err := h.resolveMultisig(r.URL.Query().Get("multisig"))
	if err != nil {
		return solana.PublicKey{}, err
	}
	return h.vaultFromMultisig(multisig)
}

func (h *Handler) vaultFromMultisig(multisig solana.PublicKey) (solana.PublicKey, error) {
	return squads.VaultAddress(h.programID, multisig, squads.DefaultVaultIndex)
}

func decodeBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(errors.Wrap(err, "decode body"))
	}
	return nil
}

func indexParam(r *http.Request) (uint64, error) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil || index == 0 {
		return 0, badRequest(errors.Errorf("invalid transaction index %q", chi.URLParam(r, "index")))
	}
	return index, nil
}
