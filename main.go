package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	priceProtoc "github.com/Kamieshi/price_service/protoc"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mrdjehknhc/axtest/internal/config"
	"github.com/mrdjehknhc/axtest/internal/events"
	"github.com/mrdjehknhc/axtest/internal/handlers"
	"github.com/mrdjehknhc/axtest/internal/locker"
	"github.com/mrdjehknhc/axtest/internal/metrics"
	"github.com/mrdjehknhc/axtest/internal/notify"
	"github.com/mrdjehknhc/axtest/internal/priceStorage"
	"github.com/mrdjehknhc/axtest/internal/reports"
	"github.com/mrdjehknhc/axtest/internal/repository"
	"github.com/mrdjehknhc/axtest/internal/service"
	"github.com/mrdjehknhc/axtest/internal/tradeClient"
	"github.com/mrdjehknhc/axtest/internal/userStorage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	conf, err := config.GetConfig()
	if err != nil {
		log.WithError(err).Fatal()
	}
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	registry, closeRegistry := buildRegistry(ctx, g, conf)
	defer closeRegistry()
	lock, closeLock := buildLocker(ctx, conf)
	defer closeLock()
	prices := buildPriceSource(ctx, g, conf)
	trader := buildTrader(conf, prices)

	bus := events.NewBus()
	settings, err := userStorage.NewSettingsService(conf.SettingsFile)
	if err != nil {
		log.WithError(err).Fatal()
	}
	whitelist := userStorage.NewWhitelist(conf.AllowedUserIDs)
	if len(whitelist.Users()) == 0 {
		log.Warn("ALLOWED_USER_IDS is empty, every control request will be rejected")
	}

	notifier := notify.NewNotifier(settings, buildSenders(conf)...)
	journal, err := reports.NewJournal(ctx, conf.TradeHistoryDB)
	if err != nil {
		log.WithError(err).Fatal()
	}
	defer journal.Close()
	feed := notify.NewFeed()

	listen := func(name string, fn func(ctx context.Context, ch <-chan events.Event), types ...events.Type) {
		ch, unsubscribe := bus.Subscribe(256, types...)
		g.Go(func() error {
			defer unsubscribe()
			fn(ctx, ch)
			log.Infof("%s stopped", name)
			return nil
		})
	}
	listen("notifier", notifier.Listen)
	listen("recorder", reports.NewRecorder(journal).Listen, reports.RecordedTypes...)
	listen("event feed", feed.Listen)

	executor := service.NewExecutor(registry, trader, lock, bus, conf.MaxRetries, conf.DustThreshold)
	positions := service.NewPositionsService(registry, prices, trader, settings, executor)
	positions.SettleDelay = conf.SettleDelay
	monitor := service.NewMonitor(ctx, registry, prices, trader, executor, conf.PriceCheckInterval)

	hs := health.NewServer()
	monitor.OnStateChange = handlers.HealthHook(hs)
	hs.SetServingStatus(handlers.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if conf.AutoStart {
		if err = monitor.Start(ctx); err != nil {
			log.WithError(err).Error("monitor auto start failed, waiting for Start command")
		}
	}

	daily := reports.NewDailyReporter(journal, registry, settings, notifier, conf.DailyReportHour)
	daily.Start(ctx)

	listener, err := net.Listen("tcp", conf.GetAddressMonitorRPC())
	if err != nil {
		log.WithError(err).Fatal()
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handlers.WhitelistInterceptor(whitelist)))
	handlers.RegisterMonitorServer(grpcServer, &handlers.MonitorServer{
		Monitor:   monitor,
		Positions: positions,
		Settings:  settings,
		Journal:   journal,
	})
	healthpb.RegisterHealthServer(grpcServer, hs)
	g.Go(func() error {
		log.Info("gRPC monitor server start")
		log.Info("Count core : ", runtime.NumCPU())
		log.Info("Addr Listen: ", conf.GetAddressMonitorRPC())
		return grpcServer.Serve(listener)
	})

	httpServer := &http.Server{Addr: conf.HTTPAddr, Handler: handlers.NewOpsRouter(monitor, feed)}
	g.Go(func() error {
		log.Info("ops http server start ", conf.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		monitor.Stop()
		daily.Stop()
		hs.Shutdown()
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err = g.Wait(); err != nil {
		log.WithError(err).Error("stopped with error")
	}
	log.Info("exit bot stopped")
}

func buildRegistry(ctx context.Context, g *errgroup.Group, conf *config.Config) (service.Registry, func()) {
	if conf.RegistryBackend != "postgres" {
		reg, err := repository.NewFileRegistry(conf.PositionsFile)
		if err != nil {
			log.WithError(err).Fatal()
		}
		return reg, func() {}
	}
	pool, err := pgxpool.Connect(ctx, conf.GetConnStringPostgres())
	if err != nil {
		log.WithError(err).Fatal()
	}
	reg := &repository.PositionRepository{Pool: pool}
	if err = reg.Migrate(ctx); err != nil {
		log.WithError(err).Fatal()
	}
	g.Go(func() error {
		return reg.WatchUpdates(ctx, func(payload string) {
			log.WithField("position", payload).Debug("position changed by another instance")
			metrics.RemoteUpdate()
		})
	})
	return reg, pool.Close
}

func buildLocker(ctx context.Context, conf *config.Config) (locker.Locker, func()) {
	table := locker.NewTable()
	if conf.RedisAddr == "" {
		return table, func() {}
	}
	redisLock, err := locker.NewRedisLocker(ctx, locker.RedisConfig{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
		TTL:      conf.LockTTL,
	})
	if err != nil {
		log.WithError(err).Fatal()
	}
	return locker.Chain{redisLock, table}, func() {
		if err := redisLock.Close(); err != nil {
			log.WithError(err).Warn("close redis locker")
		}
	}
}

func buildPriceSource(ctx context.Context, g *errgroup.Group, conf *config.Config) service.PriceSource {
	if conf.PriceSource != "stream" {
		return priceStorage.NewJupiterSource(priceStorage.JupiterConfig{
			URL:       conf.PriceAPIURL,
			Timeout:   conf.PriceTimeout,
			RateLimit: conf.PriceRateLimit,
		})
	}
	connToPriceService, err := grpc.NewClient(conf.GetConnStringToPriceService(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.WithError(err).Fatal()
	}
	store := priceStorage.NewPriceStore(priceProtoc.NewOwnPriceStreamClient(connToPriceService), conf.PriceStreamScale, conf.PriceStreamMaxAge)
	g.Go(func() error {
		defer connToPriceService.Close()
		return store.ListenStream(ctx)
	})
	return store
}

func buildTrader(conf *config.Config, prices service.PriceSource) service.Trader {
	if conf.TradeDryRun {
		log.WithField("sol", conf.DryRunBalance).Warn("dry run, trades are simulated")
		return tradeClient.NewPaper(conf.DryRunBalance, prices.Price)
	}
	key, err := conf.WalletKey()
	if err != nil {
		log.WithError(err).Fatal()
	}
	return tradeClient.NewClient(tradeClient.Config{
		BaseURL:      conf.TradeAPIURL,
		AccessToken:  conf.TradeAccessToken,
		RefreshToken: conf.TradeRefreshToken,
		Wallet:       conf.WalletAddress,
		PrivateKey:   key,
		Timeout:      conf.TradeTimeout,
		RateLimit:    conf.TradeRateLimit,
	})
}

func buildSenders(conf *config.Config) []notify.Sender {
	if conf.TelegramBotToken == "" {
		return []notify.Sender{notify.LogSender{}}
	}
	tg, err := notify.NewTelegramSender(conf.TelegramBotToken)
	if err != nil {
		log.WithError(err).Error("telegram unavailable, notifications go to log")
		return []notify.Sender{notify.LogSender{}}
	}
	return []notify.Sender{tg}
}
