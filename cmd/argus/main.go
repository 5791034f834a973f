package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/argus-wallet/argus/internal/config"
	"github.com/argus-wallet/argus/pkg/api"
	"github.com/argus-wallet/argus/pkg/app"
	"github.com/argus-wallet/argus/pkg/approval"
	"github.com/argus-wallet/argus/pkg/executor"
	"github.com/argus-wallet/argus/pkg/ledger"
	"github.com/argus-wallet/argus/pkg/provisioner"
	"github.com/argus-wallet/argus/pkg/pusher/sse"
	"github.com/argus-wallet/argus/pkg/rates"
	"github.com/argus-wallet/argus/pkg/sentry"
	"github.com/argus-wallet/argus/pkg/swap"
	"github.com/argus-wallet/argus/pkg/vault"
)

func main() {
	cfg := config.Load()
	log := app.Logger(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.App.SentryDSN != "" {
		if err := sentry.Init(cfg.App.SentryDSN, cfg.App.Environment); err != nil {
			log.Warn("sentry init", zap.Error(err))
		}
		defer sentry.Flush()
	}

	programID := cfg.Solana.ProgramID
	client := ledger.NewClient(cfg.Solana.RPCEndpoint, ledger.Options{
		Commitment:        cfg.Solana.Commitment,
		RequestsPerSecond: cfg.Solana.RequestsPerSecond,
	}, log)

	gateway, err := approval.New(cfg.Services.BackendURL, client, approval.Options{ProgramID: programID}, log)
	if err != nil {
		log.Fatal("approval gateway init", zap.Error(err))
	}

	provisionerOpts := provisioner.DefaultOptions()
	provisionerOpts.ProgramID = programID
	provisionerOpts.Scheme = cfg.Wallet.CreateKeyScheme

	builderOpts := vault.DefaultOptions()
	builderOpts.ProgramID = programID

	engineOpts := executor.DefaultOptions()
	engineOpts.ProgramID = programID
	engineOpts.Relays = cfg.Executor.Relays

	solRates := rates.New(gateway, log)
	go solRates.Run(ctx)

	var events *sse.Handler
	wsEndpoint := cfg.Solana.WSEndpoint
	if wsEndpoint == "" {
		wsEndpoint = cfg.Solana.RPCEndpoint
	}
	subscriber, err := ledger.Dial(ctx, wsEndpoint, cfg.Solana.Commitment, log)
	if err != nil {
		log.Warn("account subscriptions are disabled", zap.String("endpoint", wsEndpoint), zap.Error(err))
	} else {
		defer subscriber.Close()
		events = sse.NewHandler(subscriber)
	}

	h := api.NewHandler(log, cfg.Wallet.OwnerKey, api.HandlerOptions{
		ProgramID:   programID,
		Ledger:      client,
		Provisioner: provisioner.New(client, provisionerOpts, log),
		Builder:     vault.NewBuilder(client, builderOpts, log),
		Router:      swap.NewClient(cfg.Services.RouterURL, log),
		Gateway:     gateway,
		Factors:     gateway,
		Engine:      executor.New(client, engineOpts, log),
		Rates:       solRates,
		Events:      events,
		Multisig:    cfg.Wallet.Multisig,
	})

	go app.ServeMetrics(ctx, cfg.App.MetricsPort, log)

	server := api.NewServer(log, h, fmt.Sprintf(":%v", cfg.API.Port))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.Info("argus started",
		zap.Stringer("owner", cfg.Wallet.OwnerKey.PublicKey()),
		zap.Int("port", cfg.API.Port),
		zap.Int("relays", len(cfg.Executor.Relays)))
	server.Run()
}
