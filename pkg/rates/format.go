package rates

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const lamportsDecimals = 9

// Lamports converts an amount of lamports to SOL.
func Lamports(amount uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -lamportsDecimals)
}

// ParseSOL converts a decimal SOL amount to lamports, rejecting amounts below one lamport precision.
func ParseSOL(s string) (uint64, error) {
	x, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if x.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	shifted := x.Shift(lamportsDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, errInvalidAmount
	}
	n := shifted.BigInt()
	if !n.IsUint64() {
		return 0, errInvalidAmount
	}
	return n.Uint64(), nil
}

// FormatSOL represents the given amount of lamports in SOL and formats it according to the english locale (#,###.##).
func FormatSOL(amount uint64) string {
	p := message.NewPrinter(language.English)
	x := Lamports(amount)
	intPart := p.Sprintf("%v", x.IntPart())
	if x.Equal(decimal.New(x.IntPart(), 0)) {
		return intPart
	}
	parts := strings.Split(x.String(), ".")
	if len(parts) != 2 {
		return intPart
	}
	return intPart + "." + parts[1]
}
