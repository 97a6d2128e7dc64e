package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderflow/internal/api"
	"orderflow/internal/config"
	"orderflow/internal/coordinator"
	"orderflow/internal/db"
	"orderflow/internal/dutch"
	"orderflow/internal/hub"
	"orderflow/internal/logging"
	"orderflow/internal/watcher"
)

// Main entry point: wires the store, cosigner protocol, chain watcher,
// notification hub and HTTP server, then runs until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence gateway.
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}
	logger.Info("connected to database")

	// Chain backend: log subscriptions require a websocket RPC endpoint.
	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		logger.Fatal("failed to connect to chain RPC", zap.Error(err))
	}
	defer client.Close()

	cosigner, err := dutch.NewSignerFromHex(cfg.Chain.CosignerPrivateKey)
	if err != nil {
		logger.Fatal("failed to load cosigner key", zap.Error(err))
	}

	protocol, err := dutch.NewProtocol(dutch.Params{
		ChainID:        cfg.Chain.ChainID,
		ReactorAddress: cfg.Chain.ReactorAddress,
		Permit2Address: cfg.Chain.Permit2Address,
		Cosigner:       cosigner,
		OrderTTL:       cfg.Protocol.OrderTTL,
		DecayWindow:    cfg.Protocol.DecayWindow,
		DecayFloorBps:  cfg.Protocol.DecayFloorBps,
	})
	if err != nil {
		logger.Fatal("failed to build protocol", zap.Error(err))
	}
	logger.Info("cosigner protocol ready",
		zap.String("cosigner", protocol.CosignerAddress().Hex()),
		zap.Int64("chain_id", protocol.ChainID()))

	// Notification hub, explicitly constructed and passed by reference.
	notificationHub := hub.NewHub(logger)
	go notificationHub.Run(ctx, cfg.SweepInterval)

	fillWatcher := watcher.New(client, database, notificationHub, protocol.ReactorAddress(), logger)

	coord := coordinator.New(ctx, database, protocol, client, fillWatcher, notificationHub, logger, cfg.Protocol.VerifySigs)

	if cfg.ReapInterval > 0 {
		reaper := coordinator.NewReaper(database, logger)
		go reaper.Run(ctx, cfg.ReapInterval)
	}

	handler := api.NewHandler(coord, notificationHub, logger)
	handler.Pinger = database

	// Set up HTTP router.
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/create", handler.CreateOrder)
		r.Post("/submit", handler.SubmitOrder)
		r.Get("/available", handler.GetAvailableOrders)
		r.Get("/swapper/{address}", handler.GetSwapperOrders)
		r.Get("/{id}/status", handler.GetOrderStatus)
	})

	r.Get("/ws/orders/{id}", handler.HandleOrderSocket)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel() // stops the watcher subscriptions, reaper and hub sweeper

	notificationHub.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shut down", zap.Error(err))
	}

	logger.Info("server exited")
}
