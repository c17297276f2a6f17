package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_pos/pkg/circuitbreaker"
	"github.com/fjod/go_pos/pkg/config"
	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/pos-terminal/domain"
	"github.com/fjod/go_pos/pos-terminal/internal/cart"
	"github.com/fjod/go_pos/pos-terminal/internal/catalog"
	"github.com/fjod/go_pos/pos-terminal/internal/checkout"
	"github.com/fjod/go_pos/pos-terminal/internal/gateway"
	h "github.com/fjod/go_pos/pos-terminal/internal/http"
	"github.com/fjod/go_pos/pos-terminal/internal/poller"
	"github.com/fjod/go_pos/pos-terminal/internal/receipt"
)

type Config struct {
	HTTPPort        string
	SalesServiceURL string
	TerminalID      string
	Session         domain.SessionContext
	TaxRate         float64
	RefreshInterval time.Duration
	GatewayTimeout  time.Duration
	ReceiptHeader   string
	MongoURI        string
	MongoDBName     string
	KafkaBrokers    []string
	SalesTopic      string
	ShutdownTimeout time.Duration
	LogLevel        string
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        config.String("HTTP_PORT", "8080"),
		SalesServiceURL: config.String("SALES_SERVICE_URL", "http://localhost:8081"),
		TerminalID:      config.String("TERMINAL_ID", uuid.NewString()[:8]),
		Session: domain.SessionContext{
			UserID:  config.Int64("USER_ID", 1),
			StoreID: config.Int64("STORE_ID", 1),
		},
		TaxRate:         config.Float("TAX_RATE", 0.08),
		RefreshInterval: config.Duration("CATALOG_REFRESH_INTERVAL", catalog.DefaultInterval),
		GatewayTimeout:  config.Duration("GATEWAY_TIMEOUT", checkout.DefaultGatewayTimeout),
		ReceiptHeader:   config.String("RECEIPT_HEADER", ""),
		MongoURI:        config.String("MONGO_URI", ""),
		MongoDBName:     config.String("MONGO_DB_NAME", "pos"),
		KafkaBrokers:    config.List("KAFKA_BROKERS"),
		SalesTopic:      config.String("SALES_TOPIC", "sales-committed"),
		ShutdownTimeout: config.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        config.String("LOG_LEVEL", "info"),
	}
}

func main() {
	config.LoadDotEnv()
	cfg := loadConfig()
	log := logger.New("pos-terminal", cfg.LogLevel).With("terminal_id", cfg.TerminalID)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gateway.NewClient(cfg.SalesServiceURL, cfg.GatewayTimeout, circuitbreaker.DefaultConfig(), log)

	products := catalog.NewCache(client, cfg.RefreshInterval, log)
	c := cart.New(products)
	products.Subscribe(c.SyncStock)
	products.Start(ctx)
	defer products.Stop()

	sinks := []receipt.Sink{receipt.NewPrinter(os.Stdout, cfg.ReceiptHeader)}
	var archive h.ReceiptArchive
	if cfg.MongoURI != "" {
		db, err := receipt.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			fatal(log, "failed to connect to mongodb", err)
		}
		defer func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				log.Error("mongodb disconnect failed", "error", err)
			}
		}()
		a := receipt.NewArchive(db, cfg.ReceiptHeader)
		if err := a.CreateIndexes(ctx); err != nil {
			fatal(log, "failed to create receipt indexes", err)
		}
		sinks = append(sinks, a)
		archive = a
		log.Info("receipt archive enabled", "database", cfg.MongoDBName)
	}

	if len(cfg.KafkaBrokers) > 0 {
		reader := poller.NewKafkaReader(cfg.SalesTopic, cfg.TerminalID, cfg.KafkaBrokers...)
		p := poller.NewPoller(reader, products, cfg.TerminalID, log)
		defer p.Close()
		go p.Run(ctx)
	}

	orchestrator := checkout.New(client, products, c, receipt.Multi(sinks...), checkout.Config{
		TaxRate:        cfg.TaxRate,
		GatewayTimeout: cfg.GatewayTimeout,
		TerminalID:     cfg.TerminalID,
		Session:        cfg.Session,
	}, log)
	defer orchestrator.Close()
	orchestrator.Subscribe(func(st checkout.Status) {
		log.Debug("checkout state", "state", st.State, "total", st.Totals.Total)
	})

	handler := h.NewTerminalHandler(products, client, c, orchestrator, h.Options{
		Archive:       archive,
		ReceiptHeader: cfg.ReceiptHeader,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(h.NewRouter(handler), "pos-terminal"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("pos terminal listening", "port", cfg.HTTPPort, "sales_service", cfg.SalesServiceURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "http server error", err)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down pos terminal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("pos terminal stopped")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
