package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"sterling/config"
	"sterling/core"
	"sterling/native/fixedpoint"
	"sterling/native/lending"
	"sterling/native/oracle"
	"sterling/observability/logging"
	"sterling/rpc"
	"sterling/storage"
)

const feedSourceName = "feed"

func main() {
	configFile := flag.String("config", "./sterling.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	env := strings.TrimSpace(os.Getenv("STERLING_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.SetupWithOptions("sterlingd", env, logging.Options{FilePath: cfg.LogFile})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	registry := oracle.NewRegistry(cfg.Oracle.MaxQuoteAgeSeconds, nil)
	if cfg.Oracle.SequencerEndpoint != "" {
		registry.SetSequencerProbe(oracle.NewEndpointProbe(nil, cfg.Oracle.SequencerEndpoint))
	}
	feed := oracle.NewFeedSource(feedSourceName)

	protocol := core.NewProtocol(db, registry, logger)
	protocol.SetRiskParams(
		cfg.Risk.LtvTimelockSeconds,
		cfg.Risk.LiquidationDiscountBps,
		fixedpoint.BpsToWad(cfg.Risk.MinLtvBps),
		fixedpoint.BpsToWad(cfg.Risk.MaxLtvBps),
	)

	if err := seedPools(protocol, registry, feed, cfg); err != nil {
		logger.Error("Failed to seed pools", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(protocol, logger, rpc.Options{Quotes: feed})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.ListenAddress)
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", slog.Any("error", err))
	}
}

// seedPools registers rate models, creates the configured pools, and wires
// the push feed as the active source for every configured asset. Pools and
// LTVs that already exist in the database are left untouched so restarts are
// idempotent.
func seedPools(protocol *core.Protocol, registry *oracle.Registry, feed *oracle.FeedSource, cfg *config.Config) error {
	assets := make(map[common.Address]bool)
	for _, pc := range cfg.Pools {
		model, err := buildRateModel(pc)
		if err != nil {
			return err
		}
		protocol.RegisterRateModel(pc.ID, model)

		poolCap, err := parseAmount(pc.PoolCap)
		if err != nil {
			return fmt.Errorf("pool %q: PoolCap: %w", pc.ID, err)
		}
		borrowCap, err := parseAmount(pc.BorrowCap)
		if err != nil {
			return fmt.Errorf("pool %q: BorrowCap: %w", pc.ID, err)
		}

		asset := common.HexToAddress(pc.Asset)
		owner := common.HexToAddress(pc.Owner)
		feeRecipient := common.HexToAddress(pc.FeeRecipient)
		if feeRecipient == (common.Address{}) {
			feeRecipient = owner
		}
		assets[asset] = true

		pool := &lending.Pool{
			ID:                pc.ID,
			Asset:             asset,
			Owner:             owner,
			FeeRecipient:      feeRecipient,
			RateModel:         pc.ID,
			PoolCap:           poolCap,
			BorrowCap:         borrowCap,
			InterestFeeBps:    pc.InterestFeeBps,
			OriginationFeeBps: pc.OriginationFeeBps,
		}
		if err := protocol.CreatePool(pool); err != nil && !errors.Is(err, lending.ErrPoolExists) {
			return fmt.Errorf("pool %q: %w", pc.ID, err)
		}

		for raw, bps := range pc.Ltvs {
			collateral := common.HexToAddress(raw)
			assets[collateral] = true
			protocol.AllowAsset(collateral)
			current, err := protocol.LtvFor(pc.ID, collateral)
			if err != nil {
				return fmt.Errorf("pool %q: ltv for %s: %w", pc.ID, collateral.Hex(), err)
			}
			if current.Sign() != 0 {
				continue
			}
			if err := protocol.RequestLtvUpdate(owner, pc.ID, collateral, fixedpoint.BpsToWad(bps)); err != nil {
				return fmt.Errorf("pool %q: seed ltv for %s: %w", pc.ID, collateral.Hex(), err)
			}
		}
	}

	for asset := range assets {
		registry.Allow(asset, feedSourceName)
		if err := registry.SetSource(asset, feed); err != nil {
			return fmt.Errorf("activate feed for %s: %w", asset.Hex(), err)
		}
	}
	return nil
}

func buildRateModel(pc config.PoolConfig) (lending.RateModel, error) {
	switch pc.RateModel {
	case "kinked":
		return lending.NewKinkedRateModel(pc.BaseRate, pc.Slope1, pc.Slope2, pc.Kink), nil
	case "fixed":
		return lending.NewFixedRateModel(pc.BaseRate), nil
	default:
		return nil, fmt.Errorf("pool %q: unknown rate model %q", pc.ID, pc.RateModel)
	}
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return amount, nil
}
