package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	rd "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/config"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/db"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/escrow"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/goroutine"
	httpHandlers "github.com/FanTMS/digital-symbiosis-sub000/internal/http/handlers"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/middleware"
	httpRouter "github.com/FanTMS/digital-symbiosis-sub000/internal/http/router"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/idempotency"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/metrics"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/notify"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/repository"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/service"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/tracing"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/ws"
)

type ledgerStore interface {
	escrow.Ledger
	service.BalanceRepository
}

// stores хранилища, выбранные STORAGE_DRIVER.
type stores struct {
	orders        escrow.OrderStore
	ledger        ledgerStore
	history       escrow.HistoryStore
	tx            escrow.Transactor
	notifications service.NotificationRepository
	checks        []httpHandlers.HealthCheck
	close         func()
}

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.Env)

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, "escrow-service")
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка инициализации трассировки")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: ошибка подключения к хранилищу")
	}
	defer st.close()

	// Redis необязателен: без него лимиты и ключи идемпотентности живут в памяти процесса.
	var rdb *rd.Client
	var idem idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := rd.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.WithError(err).Fatal("main: некорректный REDIS_URL")
		}
		rdb = rd.NewClient(opts)
		defer safeClose("redis", rdb.Close)

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Log.WithError(err).Fatal("main: redis недоступен")
		}
		idem = idempotency.NewRedisStore(rdb)
		st.checks = append(st.checks, httpHandlers.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	rateStore, err := middleware.NewRateLimitStore(rdb)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: не удалось создать хранилище лимитов")
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	notificationService := service.NewNotificationService(st.notifications)

	// Вебсокеты и каналы доставки уведомлений.
	hub := ws.NewHub()
	hub.SetNotificationSaver(notificationService)

	sinks := []notify.Sink{notify.NewHubSink(hub)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer safeClose("kafka", kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
	}
	if cfg.TelegramBotToken != "" {
		tgSink, err := notify.NewTelegramSink(cfg.TelegramBotToken)
		if err != nil {
			logger.Log.WithError(err).Warn("main: telegram недоступен, уведомления в мессенджер отключены")
		} else {
			sinks = append(sinks, tgSink)
		}
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyTimeout, sinks...)

	engine := escrow.NewEngine(st.orders, st.ledger, st.history, st.tx, dispatcher, cfg.RequestTimeout)
	resolver := escrow.NewResolver(engine, cfg.AdminUserIDs)

	orderService := service.NewOrderService(engine, resolver, idem, cfg.IdempotencyTTL)
	paymentService := service.NewPaymentService(st.ledger)
	adminAuthService := service.NewAdminAuthService(tokenManager, cfg.AdminPasswordHash, cfg.AdminUserIDs)

	router := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:        httpHandlers.NewHealthHandler(st.checks...),
		Auth:          httpHandlers.NewAuthHandler(adminAuthService),
		Orders:        httpHandlers.NewOrderHandler(orderService),
		Payments:      httpHandlers.NewPaymentHandler(paymentService),
		Admin:         httpHandlers.NewAdminHandler(orderService, paymentService),
		Notifications: httpHandlers.NewNotificationHandler(notificationService),
		WS:            httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, rateStore)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Log.WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		// Доставки, начатые до остановки, завершаются с собственным таймаутом.
		dispatcher.Wait()
		if tErr := shutdownTracing(shutdownCtx); tErr != nil {
			logger.Log.WithError(tErr).Warn("main: ошибка остановки трассировки")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
		return
	}
	logger.Log.Info("main: сервер остановлен")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Log.Warn("main: in-memory хранилище, данные не сохраняются между запусками")
		orders := repository.NewMemoryOrders()
		ledger := repository.NewMemoryLedger()
		history := repository.NewMemoryOrderHistory()
		return &stores{
			orders:        orders,
			ledger:        ledger,
			history:       history,
			tx:            repository.NewMemoryTxManager(orders, ledger, history),
			notifications: repository.NewMemoryNotifications(),
			close:         func() {},
		}, nil
	}

	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		safeClose("postgres", dbConn.Close)
		return nil, err
	}
	goroutine.SafeGoWithContext(ctx, "db-stats", func(ctx context.Context) {
		metrics.StartDBStatsCollector(ctx, dbConn.DB, 15*time.Second)
	})

	return &stores{
		orders:        repository.NewOrderRepository(dbConn),
		ledger:        repository.NewLedgerRepository(dbConn),
		history:       repository.NewOrderHistoryRepository(dbConn),
		tx:            repository.NewTxManager(dbConn),
		notifications: repository.NewNotificationRepository(dbConn),
		checks: []httpHandlers.HealthCheck{{
			Name:  "database",
			Check: dbConn.PingContext,
		}},
		close: func() { safeClose("postgres", dbConn.Close) },
	}, nil
}

// safeClose закрывает ресурс и логирует ошибку.
func safeClose(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Log.WithError(err).WithField("resource", name).Warn("main: ошибка закрытия")
	}
}
