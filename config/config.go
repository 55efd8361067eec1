package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Escrow tunes the funding escrow engine.
type Escrow struct {
	GracePeriodSecs int64 `toml:"GracePeriodSecs"`
}

// Dispute configures the resolution windows and the optional arbitrator.
// Arbitrator is a hex address; leave it empty to disable third party rulings.
type Dispute struct {
	Arbitrator          string `toml:"Arbitrator"`
	AgreementWindowSecs int64  `toml:"AgreementWindowSecs"`
	MaxDurationSecs     int64  `toml:"MaxDurationSecs"`
}

// Auction bounds bidder activity per auction.
type Auction struct {
	MaxBidsPerAuction uint32 `toml:"MaxBidsPerAuction"`
}

// Pauses halts mutating operations per module while leaving reads open.
type Pauses struct {
	WorkOrder bool `toml:"WorkOrder"`
	Escrow    bool `toml:"Escrow"`
	Auction   bool `toml:"Auction"`
	Dispute   bool `toml:"Dispute"`
}

// Logging selects the output file and rotation limits. An empty file logs to
// stdout only.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type Config struct {
	RPCAddress     string   `toml:"RPCAddress"`
	GatewayAddress string   `toml:"GatewayAddress"`
	MetricsAddress string   `toml:"MetricsAddress"`
	DataDir        string   `toml:"DataDir"`
	NetworkName    string   `toml:"NetworkName"`
	Assets         []string `toml:"Assets"`
	Escrow         Escrow   `toml:"Escrow"`
	Dispute        Dispute  `toml:"Dispute"`
	Auction        Auction  `toml:"Auction"`
	Pauses         Pauses   `toml:"Pauses"`
	Logging        Logging  `toml:"Logging"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "gavel-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./gavel-data"
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = []string{"NHB", "ZNHB"}
	}
	if cfg.Escrow.GracePeriodSecs <= 0 {
		cfg.Escrow.GracePeriodSecs = 72 * 3600
	}
	if cfg.Dispute.AgreementWindowSecs <= 0 {
		cfg.Dispute.AgreementWindowSecs = 48 * 3600
	}
	if cfg.Dispute.MaxDurationSecs <= 0 {
		cfg.Dispute.MaxDurationSecs = 7 * 24 * 3600
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		GatewayAddress: ":8081",
		MetricsAddress: ":9090",
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
