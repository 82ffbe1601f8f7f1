// Package main is the replica entry point: it wires the consensus node,
// the replicated booking state machine, the client-facing router, and
// every ambient concern (auth, rate limiting, metrics, admin status,
// live seat updates) into one running process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/admin"
	"github.com/ruvnet/raftbooking/internal/api/rest"
	"github.com/ruvnet/raftbooking/internal/api/ws"
	"github.com/ruvnet/raftbooking/internal/assist"
	"github.com/ruvnet/raftbooking/internal/auth"
	"github.com/ruvnet/raftbooking/internal/config"
	"github.com/ruvnet/raftbooking/internal/consensus"
	"github.com/ruvnet/raftbooking/internal/consensus/raft"
	"github.com/ruvnet/raftbooking/internal/consensus/storage"
	"github.com/ruvnet/raftbooking/internal/consensus/transport"
	"github.com/ruvnet/raftbooking/internal/middleware"
	"github.com/ruvnet/raftbooking/internal/router"
	"github.com/ruvnet/raftbooking/internal/statemachine"
	"github.com/ruvnet/raftbooking/internal/validation"
	"github.com/ruvnet/raftbooking/pkg/metrics"
)

// @title Raft Booking API
// @version 1.0
// @description Strongly-consistent, Raft-replicated movie-seat booking service.
// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging.Level)
	defer logger.Sync()

	metricsReg := metrics.NewMetrics()

	nodeStorage, err := buildStorage(cfg.Storage, cfg.Cluster.NodeID)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer nodeStorage.Close()

	peerTransport := buildTransport(cfg.Cluster, logger)

	wsHub := ws.NewHub(logger)
	machine := statemachine.NewMachine(logger).WithSeatsObserver(wsHub)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		machine = machine.WithRedisDedup(redisClient)
	}

	raftConfig := &consensus.Config{
		NodeID:             cfg.Cluster.NodeID,
		ClientPort:         cfg.Cluster.ClientPort,
		PeerPort:           cfg.Cluster.PeerPort,
		Peers:              cfg.Cluster.Peers,
		ElectionTimeoutMin: cfg.Cluster.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Cluster.ElectionTimeoutMax,
		HeartbeatInterval:  cfg.Cluster.HeartbeatInterval,
		SubmitTimeout:      cfg.Cluster.SubmitTimeout,
		PeerRPCTimeout:     cfg.Cluster.PeerRPCTimeout,
	}

	node := raft.NewRaft(raftConfig, peerTransport, machine, nodeStorage, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		logger.Fatal("failed to start consensus node", zap.Error(err))
	}
	defer node.Stop()

	go reportConsensusMetrics(ctx, node, metricsReg)

	authSvc := auth.NewService(cfg.Auth.JWTSecret, logger, auth.WithTTL(cfg.Auth.TokenTTL))

	peers := make([]router.PeerRouter, 0, len(cfg.Cluster.ClientPeers))
	for id, url := range cfg.Cluster.ClientPeers {
		peers = append(peers, router.PeerRouter{NodeID: id, URL: url})
	}
	reqRouter := router.New(node, machine, authSvc, peers, logger)

	assistSvc, err := assist.NewService(cfg.NATS.URL, logger, assist.WithSubject(cfg.NATS.Subject))
	if err != nil {
		logger.Warn("assist service unavailable, /assist will fail until NATS is reachable", zap.Error(err))
	} else {
		defer assistSvc.Close()
	}

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "node_id": cfg.Cluster.NodeID})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsReg.GetRegistry(), promhttp.HandlerOpts{})))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	wsHandler := ws.NewHandler(wsHub, machine, logger)
	engine.GET("/ws/seats/:movie_id", wsHandler.HandleSeats)

	engine.Use(middleware.RateLimit(cfg.RateLimit))
	restHandler := rest.NewHandler(reqRouter, assistSvc, validation.NewValidator(), logger)
	authMiddleware := middleware.Auth(authSvc)
	restHandler.SetupRoutes(engine, authMiddleware)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cluster.ClientPort),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Cluster.AdminPort),
		Handler: admin.NewMux(cfg.Cluster.NodeID, node),
	}

	go func() {
		logger.Info("starting client-facing server",
			zap.String("node_id", string(cfg.Cluster.NodeID)),
			zap.Int("port", cfg.Cluster.ClientPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("client server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("starting admin server", zap.Int("port", cfg.Cluster.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	adminSrv.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func buildLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func buildStorage(cfg config.StorageConfig, nodeID consensus.NodeID) (consensus.Storage, error) {
	switch cfg.Backend {
	case "postgres":
		return storage.NewPostgresStorage(cfg.PostgresDSN, nodeID)
	default:
		return storage.NewFileStorage(cfg.DataDir)
	}
}

func buildTransport(cfg config.ClusterConfig, logger *zap.Logger) consensus.Transport {
	addr := fmt.Sprintf(":%d", cfg.PeerPort)
	if cfg.Transport == "websocket" {
		return transport.NewWebSocketTransport(cfg.NodeID, addr, cfg.Peers, logger)
	}
	return transport.NewRPCTransport(cfg.NodeID, addr, cfg.Peers, logger)
}

func reportConsensusMetrics(ctx context.Context, node consensus.Consensus, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastTerm consensus.Term
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			term := node.GetTerm()
			if term != lastTerm {
				m.RecordTermChange(uint64(term))
				lastTerm = term
			}
			m.SetState(node.GetState().String())
		}
	}
}
