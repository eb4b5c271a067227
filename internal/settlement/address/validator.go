// Package address format-validates withdrawal destination addresses per
// blockchain family.
package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Result is the outcome of a destination address validation. An invalid
// result is a hard stop for the caller, never a silent pass.
type Result struct {
	Valid  bool
	Reason string
}

var (
	// P2PKH/P2SH base58 (25-34 chars) or Bech32 bc1 (39-59 chars).
	bitcoinPattern = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{24,33}$|^bc1[a-z0-9]{39,59}$`)

	// Base58 charset, 32-44 chars.
	solanaPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Validate checks an address against the syntax rules of the blockchain key.
// Unrecognized keys are rejected explicitly so the caller treats them as a
// hard stop rather than skipping validation.
func Validate(addr, blockchainKey string) Result {
	if addr == "" {
		return Result{Reason: "address is empty"}
	}

	switch {
	case isEVMKey(blockchainKey):
		return validateEVM(addr)
	case strings.HasPrefix(blockchainKey, "bitcoin"):
		return validateBitcoin(addr)
	case strings.HasPrefix(blockchainKey, "solana"):
		return validateSolana(addr)
	default:
		return Result{Reason: fmt.Sprintf("address validation not implemented for blockchain %q", blockchainKey)}
	}
}

func isEVMKey(key string) bool {
	for _, prefix := range []string{"ethereum", "eth", "bsc", "polygon", "arbitrum", "optimism"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func validateEVM(addr string) Result {
	if !common.IsHexAddress(addr) {
		return Result{Reason: "not a valid hex-encoded EVM address"}
	}
	// Mixed-case addresses must carry a correct EIP-55 checksum. All-lower
	// or all-upper addresses carry no checksum and pass on format alone.
	hexPart := strings.TrimPrefix(addr, "0x")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if common.HexToAddress(addr).Hex() != addr {
			return Result{Reason: "EIP-55 checksum mismatch"}
		}
	}
	return Result{Valid: true}
}

func validateBitcoin(addr string) Result {
	if !bitcoinPattern.MatchString(addr) {
		return Result{Reason: "not a valid P2PKH, P2SH or Bech32 bitcoin address"}
	}
	return Result{Valid: true}
}

func validateSolana(addr string) Result {
	if !solanaPattern.MatchString(addr) {
		return Result{Reason: "not a valid base58 solana address (32-44 chars)"}
	}
	return Result{Valid: true}
}
