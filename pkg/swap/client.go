// Package swap talks to a Jupiter v6 compatible swap router.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/argus-wallet/argus/pkg/core"
)

var routerRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "argus_swap_router_request_duration_seconds",
	Help:    "Swap router request durations",
	Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"endpoint", "status"})

const DefaultEndpoint = "https://quote-api.jup.ag/v6"

type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

func NewClient(endpoint string, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps uint16
	// OnlyDirectRoutes keeps the route to a single hop, which keeps the vault transaction small.
	OnlyDirectRoutes bool
}

// Quote is a router quote. Raw is sent back unchanged when asking for instructions.
type Quote struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SlippageBps          uint16 `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			AmmKey string `json:"ammKey"`
			Label  string `json:"label"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`

	Raw json.RawMessage `json:"-"`
}

func (q *Quote) OutAmountLamports() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint.String())
	params.Set("outputMint", req.OutputMint.String())
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(int(req.SlippageBps)))
	if req.OnlyDirectRoutes {
		params.Set("onlyDirectRoutes", "true")
	}
	raw, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, errors.Wrap(err, "decode quote")
	}
	q.Raw = raw
	return &q, nil
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

// SwapInstructions asks the router for the instructions swapping on behalf of user, usually a
// vault.
func (c *Client) SwapInstructions(ctx context.Context, quote *Quote, user solana.PublicKey) (*Instructions, error) {
	raw, err := c.do(ctx, http.MethodPost, "/swap-instructions", swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, err
	}
	var resp instructionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode swap instructions")
	}
	if resp.Error != "" {
		return nil, errors.Errorf("router: %s", resp.Error)
	}
	return resp.decode()
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	endpoint := path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		endpoint = path[:i]
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		routerRequests.WithLabelValues(endpoint, "transport").Observe(time.Since(start).Seconds())
		return nil, errors.Wrapf(core.ErrNetwork, "router %s: %v", endpoint, err)
	}
	defer resp.Body.Close()
	routerRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(core.ErrNetwork, "router %s: %v", endpoint, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(core.ErrNetwork, "router %s: status %d", endpoint, resp.StatusCode)
	case resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("router %s: %s", endpoint, e.Error)
		}
		return nil, fmt.Errorf("router %s: status %d", endpoint, resp.StatusCode)
	}
	return raw, nil
}
