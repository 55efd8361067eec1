package common

import (
	"fmt"
	"strings"
)

const maxAssetSymbolLen = 8

// NormalizeAsset canonicalises a settlement asset symbol to uppercase and
// validates its shape. Registration against the ledger's asset registry is
// enforced separately by the state layer.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("asset symbol must not be empty")
	}
	if len(trimmed) > maxAssetSymbolLen {
		return "", fmt.Errorf("asset symbol too long: %s", trimmed)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("unsupported asset symbol: %s", symbol)
		}
	}
	return trimmed, nil
}
