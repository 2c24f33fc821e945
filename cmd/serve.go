package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	auctionmemory "github.com/cristianortiz/liveAuction/internal/auction/infra/repository/memory"
	auctionpostgres "github.com/cristianortiz/liveAuction/internal/auction/infra/repository/postgres"
	auctionrest "github.com/cristianortiz/liveAuction/internal/auction/infra/rest"
	auctionws "github.com/cristianortiz/liveAuction/internal/auction/infra/websocket"
	paymentapp "github.com/cristianortiz/liveAuction/internal/payment/application"
	paymentdomain "github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/payment/gateway"
	"github.com/cristianortiz/liveAuction/internal/payment/infra/notifier"
	paymentmemory "github.com/cristianortiz/liveAuction/internal/payment/infra/repository/memory"
	paymentpostgres "github.com/cristianortiz/liveAuction/internal/payment/infra/repository/postgres"
	paymentrest "github.com/cristianortiz/liveAuction/internal/payment/infra/rest"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/config"
	"github.com/cristianortiz/liveAuction/internal/shared/db"
	"github.com/cristianortiz/liveAuction/internal/shared/db/migrations"
	"github.com/cristianortiz/liveAuction/internal/shared/httpserver"
	"github.com/cristianortiz/liveAuction/internal/shared/keylock"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/cristianortiz/liveAuction/internal/shared/websocket"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// stores groups the repositories of both bounded contexts for one storage driver.
type stores struct {
	auctions     domain.AuctionRepository
	ledger       domain.BidLedger
	rules        domain.AutoBidRepository
	transactions paymentdomain.TransactionRepository
	close        func()
}

func serveCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup (postgres driver)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	log := logger.GetLogger()
	log.Info("Starting liveauction server...",
		zap.String("storage", cfg.StorageDriver),
		zap.String("broadcast", cfg.BroadcastDriver),
		zap.String("orderNotifier", cfg.OrderNotifier),
	)

	policy, err := bidPolicy(cfg)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer st.close()

	// the local bus always carries delivery and countdown ticks, redis only relays bid events across nodes
	local := broadcast.NewBus(cfg.SubscriberBuffer)
	events, err := openBroadcaster(ctx, cfg, local)
	if err != nil {
		return err
	}

	orders, closeOrders, err := openOrderNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOrders()

	// auction context
	settings := application.Settings{
		Policy:           policy,
		LockTimeout:      cfg.BidLockTimeout,
		CASRetries:       cfg.BidCASRetries,
		SnapshotBidLimit: cfg.SnapshotBidLimit,
	}
	admission := application.NewAdmission(st.auctions, events, keylock.New(), settings)
	useCases := application.NewUseCases(admission, st.rules, st.ledger)
	auctionService := application.NewAuctionService(useCases, policy)

	scheduler := application.NewScheduler(st.auctions, useCases.Transitions, local, application.SchedulerConfig{
		Interval:            cfg.SchedulerInterval,
		CountdownInterval:   cfg.CountdownInterval,
		EndingSoonThreshold: cfg.EndingSoonThreshold,
	})
	go scheduler.Run(ctx)

	hub := websocket.NewHub()
	go hub.Run(ctx)
	wsHandler := auctionws.NewAuctionWSHandler(auctionService, hub, events)
	go wsHandler.ListenForMessages(ctx)

	// payment context
	verifiers := gateway.NewRegistry(
		gateway.NewPayUVerifier(cfg.PayUSalt),
		gateway.NewPhonePeVerifier(cfg.PhonePeSaltKey, cfg.PhonePeSaltIndex, cfg.PhonePeCallbackPath),
	)
	paymentService := paymentapp.NewPaymentService(
		paymentapp.NewCreateTransactionUseCase(st.transactions),
		paymentapp.NewGetTransactionUseCase(st.transactions),
		paymentapp.NewReconcileWebhookUseCase(verifiers, st.transactions, orders),
	)

	server := httpserver.NewServer(
		auctionrest.NewAuctionHandler(auctionService),
		wsHandler,
		paymentrest.NewPaymentHandler(paymentService),
	)
	return server.Start(ctx, cfg.HTTPAddr)
}

func bidPolicy(cfg *config.Config) (domain.BidPolicy, error) {
	tiers, err := config.ParseIncrementTiers(cfg.BidIncrementTiers)
	if err != nil {
		return domain.BidPolicy{}, err
	}
	bands := make([]domain.IncrementTier, 0, len(tiers))
	for _, t := range tiers {
		bands = append(bands, domain.IncrementTier{Floor: t.Floor, Step: t.Step})
	}
	return domain.BidPolicy{
		Increment:       domain.NewIncrementPolicy(bands),
		AllowSelfOutbid: cfg.AllowSelfOutbid,
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config, migrate bool) (*stores, error) {
	switch cfg.StorageDriver {
	case "memory":
		auctions := auctionmemory.NewAuctionRepository()
		return &stores{
			auctions:     auctions,
			ledger:       auctions,
			rules:        auctionmemory.NewAutoBidRepository(),
			transactions: paymentmemory.NewTransactionRepository(),
			close:        func() {},
		}, nil
	case "postgres":
		dsn := cfg.PostgresDSN()
		if migrate {
			if err := migrations.RunMigrations(cfg.MigrationsDir, dsn); err != nil {
				return nil, fmt.Errorf("database migration failed: %w", err)
			}
		}
		pool, err := db.NewPostgresPool(ctx, dsn, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			auctions:     auctionpostgres.NewAuctionRepository(pool),
			ledger:       auctionpostgres.NewBidRepository(pool),
			rules:        auctionpostgres.NewAutoBidRepository(pool),
			transactions: paymentpostgres.NewTransactionRepository(pool),
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

func openBroadcaster(ctx context.Context, cfg *config.Config, local *broadcast.Bus) (broadcast.Broadcaster, error) {
	switch cfg.BroadcastDriver {
	case "local":
		return local, nil
	case "redis":
		client, err := broadcast.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		relay := broadcast.NewRedisRelay(client, local)
		go func() {
			defer client.Close()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.GetLogger().Error("Redis relay stopped", zap.Error(err))
			}
		}()
		return relay, nil
	default:
		return nil, fmt.Errorf("unknown BROADCAST_DRIVER %q", cfg.BroadcastDriver)
	}
}

func openOrderNotifier(ctx context.Context, cfg *config.Config) (paymentdomain.OrderUpdater, func(), error) {
	switch cfg.OrderNotifier {
	case "log":
		return notifier.NewLogNotifier(), func() {}, nil
	case "nats":
		conn, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		n, err := notifier.NewNATSNotifier(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return n, conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ORDER_NOTIFIER %q", cfg.OrderNotifier)
	}
}
