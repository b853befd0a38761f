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

	"fleettrack-backend/internal/config"
	"fleettrack-backend/internal/database"
	"fleettrack-backend/internal/handlers"
	"fleettrack-backend/internal/livemap"
	"fleettrack-backend/internal/mq"
	"fleettrack-backend/internal/services"
	"fleettrack-backend/internal/websocket"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 FLEETTRACK BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	log.Println("📂 Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Invalid configuration")
		log.Printf("   Error: %v", err)
		log.Println("   Please set DATABASE_URL in your environment or .env file")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Configuration loaded")
	if cfg.JWTSecret == "" {
		log.Println("⚠️  APP_JWT_SECRET not set: dispatcher endpoints will reject every token")
	}
	if !cfg.Tracking.TakeoverEnabled {
		log.Println("🔒 Fleet code takeover disabled: codes bound to another driver are rejected")
	}

	log.Println("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("   This is usually caused by:")
		log.Println("   1. Wrong DATABASE_URL format")
		log.Println("   2. PostgreSQL service is down")
		log.Println("   3. Network connectivity issue")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("✅ Database connection established")

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database migrations failed")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Database migrations completed")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := database.NewStore(db)
	clk := clock.New()

	if cfg.SeedAdminID != "" {
		if err := database.SeedFleetDevices(ctx, store, cfg.SeedAdminID); err != nil {
			log.Fatalf("❌ FATAL ERROR: Fleet device seeding failed: %v", err)
		}
	}

	// Firebase Cloud Messaging: base64 credentials (cloud deployments) or a file (local)
	var fcmService *services.FCMService
	if cfg.FirebaseCredentialsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		fcmService, err = services.NewFCMService(cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}
	var notifier services.Notifier = services.NopNotifier{}
	if fcmService != nil {
		notifier = services.NewPushNotifier(store, fcmService)
	}

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	throttle := websocket.NewFeedThrottle(clk)
	log.Println("✅ WebSocket hub started")

	publishers := services.Publishers{websocket.NewFeedPublisher(wsHub, throttle)}
	var fanout *mq.FanoutPublisher
	if cfg.RabbitMQURL != "" {
		fanout, err = mq.ConnectToRMQ(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("⚠️  RabbitMQ unavailable: %v (fanout disabled)", err)
		} else {
			publishers = append(publishers, fanout)
		}
	}

	registry := services.NewIdentityRegistry(store, notifier, publishers, clk, cfg.Tracking.TakeoverEnabled)
	gateway := services.NewLocationGateway(registry, store, publishers, cfg.Tracking, clk)
	fleetDevices := services.NewFleetDeviceService(store, clk)

	sweeper, err := services.NewSweeper(store, publishers, cfg.Sweeper, clk)
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: Sweeper setup failed: %v", err)
	}
	sweeper.Start()
	log.Printf("✅ Sweeper started (every %v, offline after %v, history kept %v)",
		cfg.Sweeper.Interval, cfg.Sweeper.OfflineAfter, cfg.Sweeper.HistoryRetention)

	r := handlers.NewRouter(handlers.RouterDeps{
		Registry:     registry,
		Gateway:      gateway,
		FleetDevices: fleetDevices,
		Live:         store,
		Tokens:       store,
		Hub:          wsHub,
		Throttle:     throttle,
		JWTSecret:    cfg.JWTSecret,
		Thresholds:   livemap.DefaultThresholds(),
		Clock:        clk,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("🔌 Ready to accept requests!")
	log.Println("═══════════════════════════════════════════════════════════════════")

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Println("❌ FATAL ERROR: Server failed to start")
			log.Printf("   Error: %v", err)
			log.Printf("   Port: %s", cfg.Port)
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		}
	case <-ctx.Done():
		log.Println("🛑 Shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, srv.Shutdown(shutdownCtx))
	shutdownErr = multierr.Append(shutdownErr, sweeper.Stop())
	if fanout != nil {
		shutdownErr = multierr.Append(shutdownErr, fanout.Close())
	}
	for _, err := range multierr.Errors(shutdownErr) {
		log.Printf("⚠️  Shutdown: %v", err)
	}
	log.Println("👋 Server stopped")
}
