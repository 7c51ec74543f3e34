package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"riskledger/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return crypto.AddressFromArray(addr.Array()).String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatHash(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}
