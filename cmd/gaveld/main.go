package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gavel/config"
	"gavel/core/events"
	"gavel/core/state"
	"gavel/gateway"
	"gavel/native/auction"
	nativecommon "gavel/native/common"
	"gavel/native/dispute"
	"gavel/native/escrow"
	"gavel/native/reputation"
	"gavel/native/workorder"
	"gavel/observability"
	"gavel/observability/logging"
	"gavel/rpc"
	"gavel/storage"
)

const maintenanceInterval = 30 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GAVEL_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service:    "gaveld",
		Env:        env,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	var db storage.Database
	if cfg.DataDir == ":memory:" {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		defer leveldb.Close()
		db = leveldb
	}

	manager, err := state.NewManager(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open state: %v", err))
	}
	for _, asset := range cfg.Assets {
		if err := manager.RegisterAsset(asset); err != nil {
			logger.Error("Failed to register asset", "asset", asset, slog.Any("error", err))
			os.Exit(1)
		}
	}
	applyPauses(manager, cfg.Pauses, logger)

	log := events.NewLog(0)

	workOrders := workorder.NewEngine()
	workOrders.SetState(manager)
	workOrders.SetEmitter(log)
	workOrders.SetPauses(manager)

	escrows := escrow.NewEngine()
	escrows.SetState(manager)
	escrows.SetWorkOrders(workOrders)
	escrows.SetEmitter(log)
	escrows.SetPauses(manager)
	escrows.SetGracePeriod(cfg.Escrow.GracePeriodSecs)

	auctions := auction.NewEngine()
	auctions.SetState(manager)
	auctions.SetWorkOrders(workOrders)
	auctions.SetEscrows(escrows)
	auctions.SetEmitter(log)
	auctions.SetPauses(manager)
	if cfg.Auction.MaxBidsPerAuction > 0 {
		auctions.SetQuota(nativecommon.Quota{MaxRequestsPerEpoch: cfg.Auction.MaxBidsPerAuction})
	}

	disputes := dispute.NewEngine()
	disputes.SetState(manager)
	disputes.SetEscrows(escrows)
	disputes.SetEmitter(log)
	disputes.SetPauses(manager)
	disputes.SetWindows(cfg.Dispute.AgreementWindowSecs, cfg.Dispute.MaxDurationSecs)
	if arb := strings.TrimSpace(cfg.Dispute.Arbitrator); arb != "" {
		addr, err := parseArbitrator(arb)
		if err != nil {
			logger.Error("Invalid arbitrator address", slog.Any("error", err))
			os.Exit(1)
		}
		disputes.SetArbitrator(addr)
	}

	scores := reputation.NewEngine()
	scores.SetState(manager)
	scores.SetEmitter(log)
	escrows.SetReputation(scores)
	disputes.SetReputation(scores)

	server := rpc.NewServer(rpc.Services{
		WorkOrders: workOrders,
		Escrows:    escrows,
		Auctions:   auctions,
		Disputes:   disputes,
		Reputation: scores,
		State:      manager,
		Events:     log,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() { errCh <- server.Start(ctx, cfg.RPCAddress) }()

	if cfg.GatewayAddress != "" {
		gw := gateway.New(gateway.Config{
			Target: "http://127.0.0.1" + cfg.RPCAddress,
			Logger: logger,
		})
		go func() { errCh <- gw.Start(ctx, cfg.GatewayAddress) }()
	}

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			logger.Info("metrics listening", "addr", cfg.MetricsAddress)
			errCh <- srv.ListenAndServe()
		}()
	}

	go runMaintenance(ctx, manager, escrows, auctions, disputes, logger)

	logger.Info("gaveld started", "network", cfg.NetworkName, "rpc", cfg.RPCAddress)
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func applyPauses(manager *state.Manager, pauses config.Pauses, logger *slog.Logger) {
	set := func(module string, paused bool) {
		if err := manager.SetPaused(module, paused); err != nil {
			logger.Warn("Failed to apply pause flag", "module", module, slog.Any("error", err))
		}
	}
	set("workorder", pauses.WorkOrder)
	set("escrow", pauses.Escrow)
	set("auction", pauses.Auction)
	set("dispute", pauses.Dispute)
}

func parseArbitrator(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return addr, err
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("want 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// runMaintenance sweeps open records so expiries, grace settlements, auction
// closes and dispute timeouts fire without client prodding.
func runMaintenance(ctx context.Context, manager *state.Manager, escrows *escrow.Engine, auctions *auction.Engine, disputes *dispute.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			failed := false

			if ids, err := manager.EscrowIDs(); err == nil {
				for _, id := range ids {
					if err := escrows.Touch(id, now); err != nil {
						logger.Warn("escrow maintenance failed", "id", hex.EncodeToString(id[:]), slog.Any("error", err))
						failed = true
					}
				}
			} else {
				failed = true
			}

			if ids, err := manager.AuctionIDs(); err == nil {
				for _, id := range ids {
					if err := auctions.Touch(id, now); err != nil {
						logger.Warn("auction maintenance failed", "id", hex.EncodeToString(id[:]), slog.Any("error", err))
						failed = true
					}
				}
			} else {
				failed = true
			}

			if ids, err := manager.DisputeIDs(); err == nil {
				for _, id := range ids {
					if err := disputes.TryTimeout(id, now); err != nil && !errors.Is(err, dispute.ErrDeadlineNotReached) {
						logger.Warn("dispute maintenance failed", "id", hex.EncodeToString(id[:]), slog.Any("error", err))
						failed = true
					}
				}
			} else {
				failed = true
			}

			observability.Settlement().MaintenanceRun(failed)
		}
	}
}
