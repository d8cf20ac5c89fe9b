// Package main is the entry point for the pileup bridge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jawaracloud/pileup-bridge/internal/bridge"
	"github.com/jawaracloud/pileup-bridge/internal/broker"
	"github.com/jawaracloud/pileup-bridge/internal/config"
	"github.com/jawaracloud/pileup-bridge/internal/dispatch"
	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/internal/logbook"
	custommw "github.com/jawaracloud/pileup-bridge/internal/middleware"
	"github.com/jawaracloud/pileup-bridge/internal/queue"
	"github.com/jawaracloud/pileup-bridge/internal/server"
	"github.com/jawaracloud/pileup-bridge/internal/storage"
)

const serviceName = "pileup-bridge"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.Int("port", cfg.Server.Port),
		slog.Int("udp_port", cfg.Bridge.UDPPort),
		slog.String("store", cfg.Store.Backend),
	)

	// State store
	var store storage.Store
	switch cfg.Store.Backend {
	case "redis":
		redisStore, err := storage.NewRedis(storage.RedisConfig{
			Addr:          cfg.Store.RedisAddr,
			Prefix:        cfg.Store.KeyPrefix,
			PoolSize:      cfg.Store.PoolSize,
			MaxQueue:      int64(cfg.Queue.MaxLength),
			WorkedHistory: int64(cfg.Queue.WorkedHistory),
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Connected to Redis", slog.String("addr", cfg.Store.RedisAddr))
		store = redisStore
	default:
		store = storage.NewMemory(int64(cfg.Queue.MaxLength), int64(cfg.Queue.WorkedHistory))
	}
	defer store.Close()

	// Logbook
	var book *logbook.Logbook
	if cfg.Logbook.Path != "" {
		book, err = logbook.Open(cfg.Logbook.Path)
		if err != nil {
			logger.Error("Failed to open logbook", slog.String("path", cfg.Logbook.Path),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer book.Close()
		logger.Info("Logbook open", slog.String("path", cfg.Logbook.Path))
	}

	// Broadcast hub
	h := hub.New(hub.Config{
		MaxClients: cfg.Hub.MaxClients,
		Keepalive:  cfg.Hub.Keepalive(),
		SendBuffer: cfg.Hub.SendBuffer,
	}, logger)

	// Optional NATS relay
	if cfg.NATS.Enabled {
		natsBroker, err := broker.NewNATSBroker(broker.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          serviceName,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer natsBroker.Close()
		h.SetRelay(natsBroker)
		logger.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	}

	// Queue tokens need a signing secret; generate one when unconfigured so a
	// bare start still works.
	tokenSecret := cfg.Queue.TokenSecret
	if tokenSecret == "" {
		tokenSecret = uuid.New().String()
		logger.Warn("No queue token secret configured, using a random one; tokens will not survive a restart")
	}

	// Services
	svc := queue.New(store, h, book, queue.Config{
		TokenSecret: tokenSecret,
		TokenTTL:    cfg.Queue.TokenTTL(),
	}, logger)

	creds := dispatch.Credentials{
		Username: cfg.Admin.Username,
		Password: cfg.Admin.Password,
	}
	if creds.Username == "" || creds.Password == "" {
		logger.Warn("Admin credentials not configured, admin operations disabled")
	}
	d := dispatch.New(h, creds, logger)
	svc.MountOperations(d)

	// UDP bridge
	receiver := bridge.New(bridge.Config{
		BindAddress: cfg.Bridge.BindAddress,
		Port:        cfg.Bridge.UDPPort,
		BufferSize:  cfg.Bridge.BufferSize,
		Workers:     cfg.Bridge.Workers,
		QueueSize:   cfg.Bridge.QueueSize,
	}, svc.HandleLoggedQSO, logger)
	if err := receiver.Start(); err != nil {
		logger.Error("Failed to start UDP receiver", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// HTTP surface
	handler := server.NewHandler(svc, d, h, receiver, creds, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(custommw.Logger(logger))
	r.Use(custommw.Recovery(logger))
	r.Use(custommw.CORS([]string{"*"}))

	r.Get("/ws", handler.HandleWebSocket)
	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	// WriteTimeout stays zero: SSE and WebSocket connections outlive any
	// sensible request deadline.
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		logger.Info("Shutting down", slog.String("signal", sig.String()))

		receiver.Stop()
		h.CloseAll()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Server listening", slog.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

// initLogger builds the structured logger from the log section.
func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
