// Package approval is the client of the policy backend that acts as the multisig's second member.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/cache"
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/squads"
)

var backendRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "argus_policy_backend_request_duration_seconds",
	Help:    "Policy backend request durations",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"path", "status"})

const configCacheKey = "config"

// Config is the backend's public configuration.
type Config struct {
	ApprovalSigner solana.PublicKey `json:"approvalSigner"`
	// GeofenceRadius is in meters.
	GeofenceRadius float64 `json:"geofenceRadius"`
	Cluster        string  `json:"cluster"`
}

type Options struct {
	ProgramID solana.PublicKey
	ConfigTTL time.Duration
	// ProposalPolls and ProposalDelay bound the wait for the backend's on-chain vote.
	ProposalPolls uint
	ProposalDelay time.Duration
	Timeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		ProgramID:     squads.ProgramID,
		ConfigTTL:     5 * time.Minute,
		ProposalPolls: 15,
		ProposalDelay: time.Second,
		Timeout:       20 * time.Second,
	}
}

type AccountReader interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*core.Account, error)
}

type Gateway struct {
	endpoint string
	http     *http.Client
	reader   AccountReader
	configs  *cache.TTLCache[Config]
	opts     Options
	logger   *zap.Logger
}

func New(endpoint string, reader AccountReader, opts Options, logger *zap.Logger) (*Gateway, error) {
	defaults := DefaultOptions()
	if opts.ProgramID.IsZero() {
		opts.ProgramID = defaults.ProgramID
	}
	if opts.ConfigTTL == 0 {
		opts.ConfigTTL = defaults.ConfigTTL
	}
	if opts.ProposalPolls == 0 {
		opts.ProposalPolls = defaults.ProposalPolls
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaults.Timeout
	}
	configs, err := cache.NewTTLCache[Config](16, "policy_config")
	if err != nil {
		return nil, err
	}
	return &Gateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: opts.Timeout},
		reader:   reader,
		configs:  configs,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Config returns the backend configuration, cached for ConfigTTL.
func (g *Gateway) Config(ctx context.Context) (Config, error) {
	cfg, err := g.configs.Get(ctx, configCacheKey)
	if err == nil {
		return cfg, nil
	}
	if err := g.do(ctx, http.MethodGet, "/config", nil, &cfg); err != nil {
		return Config{}, err
	}
	if err := g.configs.Set(ctx, configCacheKey, cfg, g.opts.ConfigTTL); err != nil {
		g.logger.Warn("failed to cache policy config", zap.Error(err))
	}
	return cfg, nil
}

type ActivateRequest struct {
	Wallet   solana.PublicKey `json:"wallet"`
	Multisig solana.PublicKey `json:"multisig"`
	Vault    solana.PublicKey `json:"vault"`
}

// Activate registers the wallet's multisig with the backend.
func (g *Gateway) Activate(ctx context.Context, req ActivateRequest) error {
	return g.do(ctx, http.MethodPost, "/activate", req, nil)
}

// errorBody is the backend's refusal payload.
type errorBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Distance *float64 `json:"distance"`
	Radius   *float64 `json:"radius"`
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := g.http.Do(req)
	if err != nil {
		backendRequests.WithLabelValues(path, "transport").Observe(time.Since(start).Seconds())
		return errors.Wrapf(core.ErrNetwork, "policy backend %s: %v", path, err)
	}
	defer resp.Body.Close()
	backendRequests.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(core.ErrNetwork, "policy backend %s: %v", path, err)
	}
	if resp.StatusCode >= 500 {
		return errors.Wrapf(core.ErrNetwork, "policy backend %s: status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return decodeRefusal(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

func decodeRefusal(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || (body.Error == "" && body.Code == "") {
		return &RejectionError{Code: strconv.Itoa(status), Message: strings.TrimSpace(string(raw))}
	}
	if body.Distance != nil && body.Radius != nil {
		return &GeofenceError{Distance: *body.Distance, Radius: *body.Radius}
	}
	return &RejectionError{Code: body.Code, Message: body.Error}
}

// GeofenceError is returned when the claimed location is too far from the registered one.
type GeofenceError struct {
	// Distance and Radius are in meters.
	Distance float64
	Radius   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("outside approval area: %.0fm away, %.0fm allowed", e.Distance, e.Radius)
}

// RejectionError is any other policy refusal.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return "approval rejected: " + e.Code
	}
	return fmt.Sprintf("approval rejected (%s): %s", e.Code, e.Message)
}

// IsPolicyRejection reports whether err is a refusal by the policy backend.
func IsPolicyRejection(err error) bool {
	var geofence *GeofenceError
	var rejection *RejectionError
	return errors.As(err, &geofence) || errors.As(err, &rejection)
}
