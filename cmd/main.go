package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/sendramp/ramp-service/internal/api/routes"
	"github.com/sendramp/ramp-service/internal/domain/services/conversion"
	"github.com/sendramp/ramp-service/internal/domain/services/gas"
	"github.com/sendramp/ramp-service/internal/domain/services/offramp"
	"github.com/sendramp/ramp-service/internal/domain/services/onramp"
	"github.com/sendramp/ramp-service/internal/domain/services/swap"
	"github.com/sendramp/ramp-service/internal/domain/services/wallet"
	"github.com/sendramp/ramp-service/internal/infrastructure/aggregator"
	"github.com/sendramp/ramp-service/internal/infrastructure/cache"
	"github.com/sendramp/ramp-service/internal/infrastructure/chain"
	"github.com/sendramp/ramp-service/internal/infrastructure/config"
	"github.com/sendramp/ramp-service/internal/infrastructure/database"
	"github.com/sendramp/ramp-service/internal/infrastructure/paystack"
	"github.com/sendramp/ramp-service/internal/infrastructure/repositories"
	"github.com/sendramp/ramp-service/internal/workers"
	"github.com/sendramp/ramp-service/internal/workers/deposit_watcher"
	"github.com/sendramp/ramp-service/internal/workers/settlement_retry"
	"github.com/sendramp/ramp-service/pkg/graceful"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/tracing"
)

const version = "1.0.0"

// gatewayAdapter narrows the Paystack client to the on-ramp's view of a
// verified payment.
type gatewayAdapter struct {
	client *paystack.Client
}

func (a *gatewayAdapter) VerifyTransaction(ctx context.Context, reference string) (*onramp.VerifiedPayment, error) {
	verified, err := a.client.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &onramp.VerifiedPayment{
		Reference:   verified.Reference,
		Status:      verified.Status,
		AmountMinor: verified.AmountMinor,
		PaidAt:      verified.PaidAt,
	}, nil
}

// configRateProvider prices payouts from a configured stable → fiat rate.
type configRateProvider struct {
	rate decimal.Decimal
}

func (p *configRateProvider) StableFiatRate(context.Context) (decimal.Decimal, error) {
	return p.rate, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	shutdownTracer, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("failed to initialize tracing", "error", err)
	}
	defer shutdownTracer(context.Background())

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	redis, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	locker := cache.NewLocker(redis)

	chainClient, err := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.ChainID, cfg.Chain.ConfirmTimeout, log.Zap())
	if err != nil {
		log.Fatal("failed to connect to chain RPC", "error", err)
	}

	masterKey, err := chain.ParseKey(cfg.Chain.MasterWalletKey)
	if err != nil {
		log.Fatal("invalid master wallet key", "error", err)
	}
	distributionKey, err := chain.ParseKey(cfg.Chain.DistributionWalletKey)
	if err != nil {
		log.Fatal("invalid distribution wallet key", "error", err)
	}

	deriver, err := wallet.NewDeriver(cfg.Chain.MasterSecret)
	if err != nil {
		log.Fatal("invalid derivation master secret", "error", err)
	}

	feePercent, err := decimal.NewFromString(cfg.Ramp.FeePercent)
	if err != nil {
		log.Fatal("invalid fee percent", "error", err)
	}
	calculator, err := conversion.NewCalculator(feePercent)
	if err != nil {
		log.Fatal("invalid fee policy", "error", err)
	}

	stableFiatRate, err := decimal.NewFromString(cfg.Ramp.StableFiatRate)
	if err != nil {
		log.Fatal("invalid stable fiat rate", "error", err)
	}

	paystackClient := paystack.NewClient(cfg.Paystack, log.Zap())
	aggregatorClient := aggregator.NewClient(cfg.Aggregator, cfg.Chain.ChainID, log.Zap())

	onrampRepo := repositories.NewOnrampRepository(db, log.Zap())
	offrampRepo := repositories.NewOfframpRepository(db, log.Zap())
	attemptRepo := repositories.NewSwapAttemptRepository(db)

	tokenAddr := common.HexToAddress(cfg.Chain.TokenAddress)
	sender := chain.NewTokenSender(chainClient, distributionKey, tokenAddr, cfg.Chain.TokenDecimals)
	onrampService := onramp.NewService(
		onrampRepo,
		&gatewayAdapter{client: paystackClient},
		sender,
		calculator,
		locker,
		onramp.Config{ClaimWindow: cfg.Ramp.ClaimWindow},
		log,
	)

	gasManager := gas.NewManager(chainClient, masterKey, locker, gas.Config{
		TopUpAmount:   mustBig(cfg.Chain.GasTopUpWei, log),
		Threshold:     mustBig(cfg.Chain.GasThresholdWei, log),
		MasterReserve: mustBig(cfg.Chain.MasterReserveWei, log),
	}, log)

	swapExecutor := swap.NewExecutor(aggregatorClient, chainClient, gasManager, attemptRepo, swap.Config{
		StableAddress:    common.HexToAddress(cfg.Chain.StableAddress),
		SettlementWallet: common.HexToAddress(cfg.Chain.SettlementWalletAddress),
		MasterWallet:     chain.KeyAddress(masterKey),
		SweepHoldback:    mustBig(cfg.Chain.SweepHoldbackWei, log),
		SlippageBps:      cfg.Aggregator.SlippageBps,
	}, log)

	offrampService := offramp.NewService(
		offrampRepo,
		deriver,
		swapExecutor,
		chainClient,
		paystackClient,
		&configRateProvider{rate: stableFiatRate},
		locker,
		offramp.Config{
			MaxSwapAttempts: cfg.Ramp.MaxSwapAttempts,
			StableDecimals:  cfg.Chain.StableDecimals,
			StaleSwapAge:    cfg.Ramp.StaleSwapAge,
		},
		log,
	)

	scheduler := workers.NewScheduler(log)
	depositWatcher := deposit_watcher.NewWorker(offrampService, nil, log)
	settlementRetry := settlement_retry.NewWorker(onrampService, offrampService, nil, log)
	if err := scheduler.Add(cfg.Workers.DepositPollSpec, "deposit_watcher", depositWatcher); err != nil {
		log.Fatal("failed to schedule deposit watcher", "error", err)
	}
	if err := scheduler.Add(cfg.Workers.SettlementPollSpec, "settlement_retry", settlementRetry); err != nil {
		log.Fatal("failed to schedule settlement retry", "error", err)
	}
	scheduler.Start()

	router := routes.SetupRoutes(routes.Dependencies{
		Config:    cfg,
		DB:        db,
		Redis:     redis,
		Onramp:    onrampService,
		Offramp:   offrampService,
		Transfers: offrampService,
		Logger:    log,
		Version:   version,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, db.DB, log)
	shutdown.Register(scheduler)
	shutdown.WaitForShutdown()
}

func mustBig(s string, log *logger.Logger) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		log.Fatal("invalid wei amount in config", "value", s)
	}
	return v
}
