package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals matches the 18-decimal ERC-20 style tokens distributed on Starknet.
const DefaultDecimals = 18

// ParseAmount converts a human-readable token amount into base units.
func ParseAmount(input string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.ContainsAny(trimmed, " _eE") {
		return nil, fmt.Errorf("amount must be a plain decimal number")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %s", input)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	if -d.Exponent() > decimals {
		return nil, fmt.Errorf("amount has more than %d decimal places", decimals)
	}
	return d.Shift(decimals).BigInt(), nil
}

// FormatAmount renders a base-unit amount as a decimal string, dropping
// trailing fractional zeros.
func FormatAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
