package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logx"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/notify"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("telemetry setup", zap.Error(err))
	}
	if cfg.OtelEndpoint != "" {
		logger = logx.WithOTel(logger, cfg.ServiceName, global.GetLoggerProvider())
	}

	// Store
	var db orders.TxBeginner
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		db = memstore.New()
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		db = &postgres.Store{DB: pool}
	default:
		logger.Fatal("unknown store", zap.String("store", cfg.Store))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Notifier
	opts := []orders.Option{
		orders.WithLogger(logger),
		orders.WithRejectEmptyCart(cfg.RejectEmptyCart),
	}
	var prod *kafkax.Producer
	switch cfg.NotifyMode {
	case "kafka":
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, logger)
		prod.Start()
		opts = append(opts, orders.WithNotifier(&notify.EventNotifier{Producer: prod, Service: cfg.ServiceName}))
	case "smtp":
		m := notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.ShopName)
		opts = append(opts, orders.WithNotifier(m))
	case "none":
	default:
		logger.Fatal("unknown notify mode", zap.String("mode", cfg.NotifyMode))
	}
	mgr := orders.NewManager(db, opts...)

	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{
		Orders: mgr,
		Idem:   redisx.Idempotency{RDB: rdb},
		Status: redisx.StatusCache{RDB: rdb},
		Log:    logger,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	mgr.Close() // flushes notifications of committed orders, then stops dispatching
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	if err := shutdownTracer(ctx2); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
}
