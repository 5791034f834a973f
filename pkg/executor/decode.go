package executor

import (
	"github.com/argus-wallet/argus/pkg/core"
	"github.com/argus-wallet/argus/pkg/i18n"
)

const (
	// errSlippageToleranceExceeded is the swap router program's error.
	errSlippageToleranceExceeded uint32 = 6001
	// errTokenInsufficientFunds is shared by the token program and the system transfer.
	errTokenInsufficientFunds uint32 = 1
)

// DecodeFailure maps a transaction error as returned by the cluster to an error code.
func DecodeFailure(txErr any) string {
	if code, ok := core.CustomErrorCode(txErr); ok {
		switch code {
		case errSlippageToleranceExceeded:
			return core.ErrorCodeSlippage
		case errTokenInsufficientFunds:
			return core.ErrorCodeInsufficientFunds
		}
		return core.ErrorCodeOnChainFailure
	}
	switch core.ErrorName(txErr) {
	case "InsufficientFundsForFee", "InsufficientFundsForRent", "InsufficientFunds":
		return core.ErrorCodeInsufficientFunds
	case "BlockhashNotFound":
		return core.ErrorCodeBlockhashExpired
	}
	return core.ErrorCodeOnChainFailure
}

var messageIDs = map[string]string{
	core.ErrorCodeSlippage:          "slippageExceeded",
	core.ErrorCodeInsufficientFunds: "insufficientFunds",
	core.ErrorCodeBlockhashExpired:  "blockhashExpired",
	core.ErrorCodeOnChainFailure:    "onchainFailure",
}

// FailureMessage returns the user-facing text for a decoded failure.
func FailureMessage(lang, code string, txErr any) string {
	id, ok := messageIDs[code]
	if !ok {
		id = messageIDs[core.ErrorCodeOnChainFailure]
	}
	return i18n.Message(lang, id, map[string]any{"Reason": core.ErrorName(txErr)})
}
