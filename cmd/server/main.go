package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flippedyesyes/bookstore/internal/adapter/handler"
	"github.com/flippedyesyes/bookstore/internal/adapter/storage"
	"github.com/flippedyesyes/bookstore/internal/config"
	"github.com/flippedyesyes/bookstore/internal/core/service"
	"github.com/flippedyesyes/bookstore/internal/port"
)

type backend struct {
	accounts port.AccountRepository
	catalog  port.CatalogRepository
	orders   port.OrderRepository
	close    func()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.MustLoad()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open storage backend", zap.Error(err))
	}
	defer store.close()

	accountService := service.NewAccountService(store.accounts, cfg.TokenLifetime, logger)
	catalogService := service.NewCatalogService(store.accounts, store.catalog, logger)
	orderService := service.NewOrderService(store.accounts, store.catalog, store.orders, cfg.PendingTimeout, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	httpHandler := handler.NewHTTPHandler(accountService, catalogService, orderService)
	httpHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.StorageBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		adapter := storage.NewRedisAdapter(rdb)
		return &backend{
			accounts: adapter,
			catalog:  adapter,
			orders:   adapter,
			close:    func() { rdb.Close() },
		}, nil
	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.InitSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to mysql")
		return &backend{
			accounts: adapter,
			catalog:  adapter,
			orders:   adapter,
			close:    func() { db.Close() },
		}, nil
	}
}
