package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_pos/pkg/config"
	"github.com/fjod/go_pos/pkg/logger"
	c "github.com/fjod/go_pos/sales-service/internal/cache"
	h "github.com/fjod/go_pos/sales-service/internal/http"
	"github.com/fjod/go_pos/sales-service/internal/publisher"
	"github.com/fjod/go_pos/sales-service/internal/repository"
	s "github.com/fjod/go_pos/sales-service/internal/service"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Config struct {
	HTTPPort        string
	GRPCPort        string
	DB              repository.Credentials
	RedisAddr       string
	RedisPassword   string
	ProductCacheTTL time.Duration
	KafkaBrokers    []string
	SalesTopic      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

func loadConfig() *Config {
	driver := config.String("DB_DRIVER", repository.DriverPostgres)
	migrations := "./sales-service/internal/repository/migrations/" + driver
	return &Config{
		HTTPPort: config.String("HTTP_PORT", "8081"),
		GRPCPort: config.String("GRPC_PORT", "50061"),
		DB: repository.Credentials{
			Driver:            driver,
			Host:              config.String("DB_HOST", "localhost"),
			Port:              config.Int("DB_PORT", 5432),
			User:              config.String("DB_USER", "postgres"),
			Password:          config.String("DB_PASSWORD", "postgres"),
			DBName:            config.String("DB_NAME", "sales"),
			SQLitePath:        config.String("SQLITE_PATH", "sales.db"),
			MigrationsDirPath: config.String("MIGRATIONS_PATH", migrations),
		},
		RedisAddr:       config.String("REDIS_ADDR", ""),
		RedisPassword:   config.String("REDIS_PASSWORD", ""),
		ProductCacheTTL: config.Duration("PRODUCT_CACHE_TTL", 30*time.Second),
		KafkaBrokers:    config.List("KAFKA_BROKERS"),
		SalesTopic:      config.String("SALES_TOPIC", publisher.DefaultTopic),
		RequestTimeout:  config.Duration("REQUEST_TIMEOUT", 15*time.Second),
		ShutdownTimeout: config.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        config.String("LOG_LEVEL", "info"),
	}
}

func main() {
	config.LoadDotEnv()
	cfg := loadConfig()
	log := logger.New("sales-service", cfg.LogLevel)
	slog.SetDefault(log)

	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		fatal(log, "failed to run migrations", err)
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var productCache c.ProductCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			fatal(log, "redis connection failed", err)
		}
		productCache = c.NewRedisCache(redisClient, cfg.ProductCacheTTL)
		log.Info("redis product cache enabled", "addr", cfg.RedisAddr)
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.SalesTopic, cfg.KafkaBrokers...)
		defer writer.Close()
		go publisher.NewOutboxPoller(repo, writer, log).Run(ctx)
		log.Info("outbox publisher started", "topic", cfg.SalesTopic)
	}

	service := s.NewSalesService(repo, productCache, log)
	router := h.NewRouter(h.NewSalesHandler(service, cfg.RequestTimeout, log), cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "sales-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("sales service http listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "http server error", err)
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		fatal(log, "failed to listen", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	go func() {
		log.Info("sales service grpc health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			fatal(log, "grpc server error", err)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down sales service")
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	log.Info("sales service stopped")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
