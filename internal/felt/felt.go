package felt

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Digits is the width of a canonical felt in hex digits (256 bits).
const Digits = 64

var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// PadHex left-pads a hex string with zeros to 64 digits and prefixes it with 0x.
// Longer input is returned untruncated.
func PadHex(value string) string {
	digits := trimPrefix(value)
	if len(digits) < Digits {
		digits = strings.Repeat("0", Digits-len(digits)) + digits
	}
	return "0x" + digits
}

// NormalizeAddress validates a user supplied account or contract address and
// returns its padded, lowercase form.
func NormalizeAddress(addr string) (string, error) {
	trimmed := trimPrefix(strings.TrimSpace(addr))
	if trimmed == "" {
		return "", fmt.Errorf("address is empty")
	}
	if len(trimmed) > Digits {
		return "", fmt.Errorf("address must be at most %d hex characters, got %d", Digits, len(trimmed))
	}
	probe := trimmed
	if len(probe)%2 == 1 {
		probe = "0" + probe
	}
	if _, err := hex.DecodeString(probe); err != nil {
		return "", fmt.Errorf("invalid hex address: %w", err)
	}
	return PadHex(strings.ToLower(trimmed)), nil
}

// Selector returns the entry point selector for a contract function name:
// keccak256 of the name truncated to 250 bits.
func Selector(name string) string {
	sum := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return FromBig(sum.And(sum, selectorMask))
}

// FromBig renders a non-negative integer as a 0x-prefixed lowercase hex felt.
func FromBig(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return "0x" + value.Text(16)
}

// ToBig parses a felt given either as 0x-prefixed hex or as a decimal string.
func ToBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("felt is empty")
	}
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
		base = 16
		if trimmed == "" {
			return big.NewInt(0), nil
		}
	}
	out, ok := new(big.Int).SetString(trimmed, base)
	if !ok {
		return nil, fmt.Errorf("invalid felt value: %s", value)
	}
	if out.Sign() < 0 {
		return nil, fmt.Errorf("felt cannot be negative: %s", value)
	}
	return out, nil
}

// Shorten renders an address as 0x1234...abcd for display.
func Shorten(addr string) string {
	if addr == "" {
		return ""
	}
	padded := PadHex(addr)
	return padded[:6] + "..." + padded[len(padded)-4:]
}

func trimPrefix(value string) string {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return value[2:]
	}
	return value
}
