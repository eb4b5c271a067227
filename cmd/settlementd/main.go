// Command settlementd runs the withdrawal settlement daemon: the job queue
// workers, the blockchain clients and the operational HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lendblock/lendblock/internal/settlement/chains"
	"github.com/lendblock/lendblock/internal/settlement/config"
	"github.com/lendblock/lendblock/internal/settlement/escalate"
	"github.com/lendblock/lendblock/internal/settlement/fees"
	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/monitor"
	"github.com/lendblock/lendblock/internal/settlement/notify"
	"github.com/lendblock/lendblock/internal/settlement/processor"
	"github.com/lendblock/lendblock/internal/settlement/queue"
	"github.com/lendblock/lendblock/internal/settlement/repository"
	"github.com/lendblock/lendblock/internal/settlement/server"
	"github.com/lendblock/lendblock/internal/settlement/wallet"
	"github.com/lendblock/lendblock/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	repo, err := repository.New(db)
	if err != nil {
		return fmt.Errorf("failed to initialize withdrawal repository: %w", err)
	}

	registry := chains.NewRegistry()
	oracle := fees.NewOracle(log)
	profiles := model.DefaultProfiles()

	var evmClients []*chains.EVMClient
	for key, chain := range cfg.Chains {
		switch chain.Family {
		case "evm":
			client, err := chains.DialEVM(chain.RPCURL, log)
			if err != nil {
				return fmt.Errorf("failed to dial %s node: %w", key, err)
			}
			evmClients = append(evmClients, client)
			registry.Register(key, client)
			oracle.RegisterEVM(key, chain.NativeUnit, client)
		case "bitcoin":
			client := chains.NewBitcoinClient(chain.FeeAPIURL, chain.FallbackFeeAPIURL, chain.ExplorerURL, log)
			registry.Register(key, client)
			oracle.RegisterBitcoin(key, client)
		case "solana":
			client := chains.NewSolanaClient(chain.RPCURL, log)
			registry.Register(key, client)
			oracle.RegisterSolana(key, client)
		}
		profiles[key] = profileFor(profiles, key, chain)
	}

	notifier := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, log)
	defer notifier.Close()
	refunds := notify.NewKafkaRefundSignaler(cfg.Kafka.Brokers, cfg.Kafka.RefundTopic, log)
	defer refunds.Close()

	custody := wallet.NewCustodyClient(
		cfg.Custody.BaseURL,
		cfg.Custody.APIKey,
		cfg.Custody.VaultAccountID,
		cfg.Custody.Timeout,
		log,
	)
	gateway := wallet.NewSerializedGateway(custody)

	q := queue.New(rdb, cfg.Queue.Workers, log)
	escalator := escalate.New(notifier, cfg.Ops.ReviewBaseURL, log)
	proc := processor.New(repo, oracle, registry, gateway, q, escalator, notifier, profiles, log)
	mon := monitor.New(repo, registry, q, escalator, notifier, refunds, profiles, log)
	q.Register(model.JobProcessWithdrawal, proc.Handle)
	q.Register(model.JobMonitorConfirmation, mon.Handle)

	requeue := func(ctx context.Context, id uuid.UUID) error {
		w, err := repo.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.State != model.StateRequested {
			return fmt.Errorf("withdrawal %s is in state %s, not %s", id, w.State, model.StateRequested)
		}
		payload := model.ProcessJob{WithdrawalID: w.ID, UserID: w.UserID}
		return q.Enqueue(ctx, model.JobProcessWithdrawal, "process:"+w.ID.String(), payload, queue.Options{
			MaxAttempts: queue.MaxProcessAttempts,
			Priority:    10,
		})
	}

	ops := server.New(cfg.Ops.Addr, rdb, db, requeue, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ops.Start()
	}()

	q.Start(ctx)
	log.Info("settlement daemon started",
		zap.Int("workers", cfg.Queue.Workers),
		zap.Int("chains", len(cfg.Chains)))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Warn("ops server shutdown failed", zap.Error(err))
	}
	q.Stop()
	for _, client := range evmClients {
		client.Close()
	}
	log.Info("settlement daemon stopped")
	return nil
}

// profileFor merges per-chain config overrides onto the built-in defaults.
func profileFor(profiles map[string]model.NetworkProfile, key string, chain config.ChainConfig) model.NetworkProfile {
	profile := model.ProfileFor(profiles, key)
	profile.Family = model.ChainFamily(chain.Family)
	if chain.Confirmations > 0 {
		profile.RequiredConfirmations = chain.Confirmations
	}
	if chain.InitialMonitorDelay > 0 {
		profile.InitialMonitorDelay = chain.InitialMonitorDelay
	}
	return profile
}
