package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Validate rejects configurations the daemon cannot safely run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress required")
	}
	for _, asset := range cfg.Assets {
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("asset symbols must not be blank")
		}
	}
	if arb := strings.TrimSpace(cfg.Dispute.Arbitrator); arb != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(arb, "0x"))
		if err != nil || len(raw) != 20 {
			return fmt.Errorf("Dispute.Arbitrator must be a 20 byte hex address")
		}
	}
	if cfg.Dispute.MaxDurationSecs <= cfg.Dispute.AgreementWindowSecs {
		return fmt.Errorf("Dispute.MaxDurationSecs must exceed Dispute.AgreementWindowSecs")
	}
	return nil
}
