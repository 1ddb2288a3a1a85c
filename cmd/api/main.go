package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/gestorpro/internal/auth"
	"github.com/harentsoaR/gestorpro/internal/config"
	"github.com/harentsoaR/gestorpro/internal/handlers"
	"github.com/harentsoaR/gestorpro/internal/livestore"
	"github.com/harentsoaR/gestorpro/internal/metrics"
	"github.com/harentsoaR/gestorpro/internal/services"
	"github.com/harentsoaR/gestorpro/internal/store"
	"github.com/harentsoaR/gestorpro/internal/store/memstore"
	"github.com/harentsoaR/gestorpro/internal/store/mongostore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.JWTSecret != "" {
		log.Println("JWT_SECRET is SET.")
	} else {
		log.Println("JWT_SECRET is NOT SET.")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Document store ---
	var docs store.DocumentStore
	switch cfg.StoreDriver {
	case "memory":
		log.Println("Using the in-memory document store.")
		docs = memstore.New()
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())
		docs = mongostore.New(client.Database(cfg.MongoDatabase))
		log.Printf("Successfully connected to MongoDB (%s)!", cfg.MongoDatabase)
	}

	// --- Reset tokens ---
	var resets auth.ResetStore
	if cfg.RedisURL != "" {
		redisStore, err := auth.NewRedisResetStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		resets = redisStore
	} else {
		log.Println("Using in-memory reset token storage.")
		resets = auth.NewMemoryResetStore()
	}

	// --- Initialize Services ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	mailer := services.NewMailer(services.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)
	push := services.NewPushService(cfg.PushEndpoint, cfg.PushServerKey, logger)
	push.OnResult(func(success bool) {
		if success {
			m.PushDeliveries.WithLabelValues("true").Inc()
		} else {
			m.PushDeliveries.WithLabelValues("false").Inc()
		}
	})

	authSvc := auth.NewService(docs, resets, mailer, auth.Config{
		JWTSecret:     []byte(cfg.JWTSecret),
		TokenTTL:      cfg.TokenTTL,
		ResetTokenTTL: cfg.ResetTokenTTL,
		ResetURL:      cfg.PublicURL + "/reset",
	}, logger)

	live := livestore.New(livestore.Deps{
		Docs:    docs,
		Auth:    authSvc,
		Push:    push,
		Metrics: m,
		Logger:  logger,
	}, livestore.Options{
		NotificationDismiss:   cfg.NotificationDismiss,
		DefaultMasterPassword: cfg.DefaultMasterPassword,
		DefaultUserPassword:   cfg.DefaultUserPassword,
		PublicURL:             cfg.PublicURL,
	})
	liveDone := make(chan struct{})
	go func() {
		defer close(liveDone)
		if err := live.Run(ctx); err != nil {
			logger.Error("live session stopped", "error", err)
		}
	}()

	if err := live.BootstrapMaster(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword, "Master"); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	// --- Gin Router ---
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.Register(r, handlers.NewHandler(live), authSvc.ValidateToken)

	// No WriteTimeout: /api/events is a long-lived stream.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stop()
	<-liveDone
}
