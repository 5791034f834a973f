package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
)

type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingBase58 Encoding = "base58"
)

// Relay is a low-latency transaction forwarding endpoint speaking the sendTransaction JSON-RPC
// method.
type Relay struct {
	URL      string
	Encoding Encoding
}

// ParseRelay parses "url" or "url#encoding".
func ParseRelay(s string) (Relay, error) {
	s = strings.TrimSpace(s)
	url, enc, found := strings.Cut(s, "#")
	r := Relay{URL: url, Encoding: EncodingBase64}
	if found {
		r.Encoding = Encoding(enc)
	}
	if r.URL == "" {
		return Relay{}, errors.New("empty relay url")
	}
	if r.Encoding != EncodingBase64 && r.Encoding != EncodingBase58 {
		return Relay{}, fmt.Errorf("relay %s: unknown encoding %q", r.URL, r.Encoding)
	}
	return r, nil
}

type relayClient struct {
	Relay
	rpc jsonrpc.RPCClient
}

func newRelayClient(r Relay) *relayClient {
	return &relayClient{Relay: r, rpc: jsonrpc.NewClient(r.URL)}
}

func (c *relayClient) send(ctx context.Context, raw []byte) (solana.Signature, error) {
	var payload string
	switch c.Encoding {
	case EncodingBase58:
		payload = base58.Encode(raw)
	default:
		payload = base64.StdEncoding.EncodeToString(raw)
	}
	var out string
	err := c.rpc.CallForInto(ctx, &out, "sendTransaction", []interface{}{
		payload,
		map[string]any{"encoding": string(c.Encoding)},
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBase58(out)
}
