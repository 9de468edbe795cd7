package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/cache"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/chain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/events"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/gormstore"
	memory_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/internal/config"
	"github.com/JoeShih716/go-credit-ledger/pkg/log"
	"github.com/JoeShih716/go-credit-ledger/pkg/sqldb"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $LEDGER_CONFIG or config/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.L(context.Background()).WithError(err).Error("ledger exited with error")
		os.Exit(1)
	}
}

// closer 關機時依相反順序執行
type closer struct {
	name string
	fn   func() error
}

func run(configPath string) error {
	// 1. 載入設定
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				log.L(ctx).WithError(err).WithField("component", closers[i].name).Warn("close failed")
			}
		}
	}()

	// 2. 初始化 Store (記憶體 + WAL 或 SQL)
	store, readiness, err := buildStore(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	// 3. 冪等結果快取 (可選)
	coreOpts := []usecase.Option{}
	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", rdb.Close})
		coreOpts = append(coreOpts, usecase.WithOutcomeCache(cache.NewRedisOutcomeCache(rdb, cfg.Redis.TTL)))
		log.L(ctx).Info("redis outcome cache enabled")
	}

	// 4. 事件輸送帶，關機時最後才停，確保已提交的事件送完
	sink, err := buildSink(cfg, &closers)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(sink, cfg.Events.BufferSize)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatcher.Start(dispatchCtx)
	coreOpts = append(coreOpts, usecase.WithEventPublisher(dispatcher))

	// 5. 初始化 UseCase
	coreUseCase := usecase.NewCoreUseCase(store, coreOpts...)

	httpOpts := []http_adapter.HandlerOption{
		http_adapter.WithWebhookSecret(cfg.Payments.WebhookSecret),
	}
	if readiness != nil {
		httpOpts = append(httpOpts, http_adapter.WithReadinessCheck(readiness))
	}
	if cfg.ChainEnabled() {
		chainClient, err := chain.NewClient(cfg.Chain)
		if err != nil {
			return err
		}
		httpOpts = append(httpOpts, http_adapter.WithIssuanceSync(usecase.NewIssuanceService(coreUseCase, chainClient)))
		log.L(ctx).WithField("rpc", cfg.Chain.RPCURL).Info("chain issuance sync enabled")
	}

	// 6. 啟動 HTTP 與 gRPC Server (Driving Adapters)
	serveErr := make(chan error, 2)

	var httpServer *http.Server
	if cfg.Server.HTTPPort > 0 {
		httpServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.HTTPPort),
			Handler:           http_adapter.NewRouter(http_adapter.NewHandler(coreUseCase, httpOpts...)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.L(ctx).WithField("addr", httpServer.Addr).Info("starting http server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var grpcServer *grpc.Server
	var healthStop func()
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(grpc_adapter.LoggingInterceptor()))
		hs, err := grpc_adapter.Register(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase))
		if err != nil {
			return err
		}
		healthStop = hs.Shutdown
		go func() {
			log.L(ctx).WithField("addr", lis.Addr().String()).Info("starting grpc server")
			if err := grpcServer.Serve(lis); err != nil {
				serveErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// Wait for interrupt
	var runErr error
	select {
	case <-ctx.Done():
		log.L(ctx).Info("shutting down server...")
	case runErr = <-serveErr:
		log.L(ctx).WithError(runErr).Error("server failed, shutting down")
	}

	// Graceful Shutdown: 先停止收請求，再把事件送完，最後關 store
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if healthStop != nil {
		healthStop()
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.L(ctx).WithError(err).Warn("http shutdown")
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	stopDispatch()
	select {
	case <-dispatcher.Stopped():
	case <-shutdownCtx.Done():
		log.L(ctx).Warn("event dispatcher did not drain before shutdown timeout")
	}
	delivered, failed := dispatcher.Stats()
	log.L(ctx).WithField("events_delivered", delivered).WithField("events_failed", failed).Info("server exited")
	return runErr
}

// buildStore 依設定建立帳本 store，回傳的 readiness 給 /readyz 使用
func buildStore(ctx context.Context, cfg config.Config, closers *[]closer) (usecase.Store, func(context.Context) error, error) {
	switch cfg.Store.Type {
	case config.StoreSQL:
		dbClient, err := sqldb.NewClient(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		*closers = append(*closers, closer{"database", dbClient.Close})
		store := gormstore.NewStore(dbClient)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		log.L(ctx).WithField("dialect", dbClient.Dialect()).Info("connected to database")
		return store, dbClient.Ping, nil
	default:
		var opts []wal.Option
		if !cfg.Store.WALSyncEnabled() {
			opts = append(opts, wal.WithoutSync())
		}
		walFile, err := wal.Open(cfg.Store.WALPath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init WAL: %w", err)
		}
		store, err := memory_adapter.NewStore(walFile)
		if err != nil {
			_ = walFile.Close()
			return nil, nil, err
		}
		*closers = append(*closers, closer{"wal", store.Close})
		log.L(ctx).WithField("wal", cfg.Store.WALPath).Info("memory store recovered from wal")
		return store, nil, nil
	}
}

// buildSink 有 broker 時送 Kafka，否則只寫 log
func buildSink(cfg config.Config, closers *[]closer) (events.Sink, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.LogSink{}, nil
	}
	topics := make(map[domain.EventType]string, len(cfg.Kafka.Topics))
	for eventType, topic := range cfg.Kafka.Topics {
		topics[domain.EventType(eventType)] = topic
	}
	sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, topics)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, closer{"kafka", sink.Close})
	return sink, nil
}
