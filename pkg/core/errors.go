package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"
)

var ErrEntityNotFound = errors.New("entity not found")

// ErrNoFreeSlot is returned when every create key or transaction index within the probing bound is taken.
var ErrNoFreeSlot = errors.New("no free slot")

var ErrInsufficientBalance = errors.New("insufficient vault balance")

// ErrNetwork marks failures a user may retry: transport errors, 5xx responses, rate limits.
var ErrNetwork = errors.New("network error")

var ErrTimeout = errors.New("timeout")

var ErrNotApproved = errors.New("proposal is not approved")

var ErrInvalidAccount = errors.New("invalid account data")

// RPCError is a JSON-RPC failure returned by a cluster node, usually a preflight simulation error.
type RPCError struct {
	Code    int
	Message string
	Logs    []string
	// InstructionError is the raw "err" value of the simulation result, if any.
	InstructionError any
}

func (e *RPCError) Error() string {
	if code, ok := e.CustomCode(); ok {
		return fmt.Sprintf("rpc error %d: %s (custom program error %d)", e.Code, e.Message, code)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CustomCode extracts the program error code from {"InstructionError":[idx,{"Custom":code}]}.
func (e *RPCError) CustomCode() (uint32, bool) {
	return CustomErrorCode(e.InstructionError)
}

// CustomErrorCode extracts a custom program error code from a transaction error value as it is
// returned by the JSON-RPC API.
func CustomErrorCode(txErr any) (uint32, bool) {
	m, ok := txErr.(map[string]any)
	if !ok {
		return 0, false
	}
	ie, ok := m["InstructionError"].([]any)
	if !ok || len(ie) != 2 {
		return 0, false
	}
	detail, ok := ie[1].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := detail["Custom"].(type) {
	case float64:
		return uint32(v), true
	case int:
		return uint32(v), true
	case uint32:
		return v, true
	case int64:
		return uint32(v), true
	case json.Number:
		n, err := v.Int64()
		return uint32(n), err == nil
	}
	return 0, false
}

// ErrorName returns a short name for a transaction error: "BlockhashNotFound",
// "InsufficientFundsForRent", "Custom", and so on.
func ErrorName(txErr any) string {
	switch v := txErr.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if ie, ok := v["InstructionError"].([]any); ok && len(ie) == 2 {
			switch d := ie[1].(type) {
			case string:
				return d
			case map[string]any:
				for k := range d {
					return k
				}
			}
		}
		for k := range v {
			return k
		}
	}
	return fmt.Sprintf("%v", txErr)
}

// SubmissionError describes a failed on-chain write. Signature is kept when the transaction was
// signed so that partially applied flows can be inspected on an explorer.
type SubmissionError struct {
	Stage     string
	Signature solana.Signature
	Logs      []string
	Err       error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	b.WriteString(" failed")
	if e.Signature != (solana.Signature{}) {
		b.WriteString(" (signature ")
		b.WriteString(e.Signature.String())
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// NewSubmissionError wraps err and copies program logs from an underlying RPCError.
func NewSubmissionError(stage string, sig solana.Signature, err error) *SubmissionError {
	subErr := &SubmissionError{Stage: stage, Signature: sig, Err: err}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		subErr.Logs = rpcErr.Logs
	}
	return subErr
}
