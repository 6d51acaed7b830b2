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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"medbin-backend/internal/broker"
	"medbin-backend/internal/config"
	"medbin-backend/internal/database"
	"medbin-backend/internal/handlers"
	"medbin-backend/internal/middleware"
	"medbin-backend/internal/models"
	"medbin-backend/internal/services"
	"medbin-backend/internal/tracking"
	"medbin-backend/internal/websocket"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 MEDBIN TRACKING SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("❌ FATAL ERROR: DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("❌ FATAL ERROR: APP_JWT_SECRET environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: Database migrations failed: %v", err)
	}
	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("❌ FATAL ERROR: User seeding failed: %v", err)
	}

	tokens := database.NewTokenStore(db)
	users := database.NewUserStore(db)

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	log.Println("✅ WebSocket hub started")

	notifiers := tracking.Notifiers{websocket.NewNotifier(wsHub, websocket.NewThrottle())}

	if fcm := initFCM(cfg, tokens); fcm != nil {
		notifiers = append(notifiers, fcm)
	}

	var mq *broker.Client
	if cfg.RabbitMQURL != "" {
		mq, err = broker.Connect(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("⚠️  RabbitMQ unavailable: %v (event publishing and queued ingest disabled)", err)
			mq = nil
		} else {
			defer mq.Close()
			events := broker.NewEventPublisher(mq)
			go events.Run(ctx)
			notifiers = append(notifiers, events)
		}
	} else {
		log.Println("⚠️  RABBITMQ_URL not set, event publishing disabled")
	}

	svc := tracking.NewService(database.NewStore(db), cfg.Tracking, tracking.WithNotifier(notifiers))

	if mq != nil {
		go mq.ConsumeForever(ctx, broker.QueueLocationIngest, "medbin-ingest", 32, broker.LocationHandler(svc))
		log.Printf("✅ Consuming queued locations from %s", broker.QueueLocationIngest)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, svc, wsHub, users, tokens),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("🛑 Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Graceful shutdown failed: %v", err)
		}
	}()

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("═══════════════════════════════════════════════════════════════════")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ FATAL ERROR: Server failed: %v", err)
	}
	log.Println("✅ Server stopped")
}

// initFCM supports base64 credentials (cloud deployments) and a credentials file (local).
func initFCM(cfg *config.Config, tokens services.TokenSource) *services.FCMService {
	if cfg.FirebaseCredentialsBase64 != "" {
		fcm, err := services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64, tokens)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push commands disabled)", err)
			return nil
		}
		log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		return fcm
	}

	if _, err := os.Stat(cfg.FirebaseCredentialsFile); err != nil {
		log.Printf("⚠️  No Firebase credentials at %s (push commands disabled)", cfg.FirebaseCredentialsFile)
		return nil
	}
	fcm, err := services.NewFCMService(cfg.FirebaseCredentialsFile, tokens)
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM from file: %v (push commands disabled)", err)
		return nil
	}
	log.Println("✅ Firebase Cloud Messaging initialized from file")
	return fcm
}

func newRouter(cfg *config.Config, svc *tracking.Service, wsHub *websocket.Hub, users handlers.UserStore, tokens handlers.TokenRegistrar) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", websocket.HandleWebSocket(wsHub, svc, cfg.JWTSecret))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", handlers.Login(users, cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))

			// Devices and drivers
			r.Get("/devices", handlers.ListDevices(svc))
			r.Post("/devices/{id}/locations", handlers.IngestLocation(svc))
			r.Get("/devices/{id}/location", handlers.GetDeviceLocation(svc))
			r.Get("/devices/{id}/history", handlers.GetDeviceHistory(svc))
			r.Post("/devices/{id}/fcm-token", handlers.RegisterDeviceToken(tokens))
			r.Post("/devices/{id}/diagnostics", handlers.ReceiveDiagnosticLog())

			r.Get("/drivers/{id}/collection-points", handlers.GetDriverCollectionPoints(svc))
			r.Get("/drivers/{id}/stats", handlers.GetDriverStats(svc))

			// Collection points
			r.Post("/collection-points", handlers.CreateCollectionPoint(svc))
			r.Get("/collection-points/{id}", handlers.GetCollectionPoint(svc))

			r.Get("/markers", handlers.GetMarkers(svc))

			// Dashboard operations
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleOperator, models.RoleAdmin))

				r.Post("/devices/{id}/command", handlers.SendDeviceCommand(svc))
				r.Post("/devices/{id}/detect", handlers.DetectStops(svc))
				r.Patch("/collection-points/{id}", handlers.AnnotateCollectionPoint(svc))
			})

			// User management
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Post("/users", handlers.CreateUser(users))
			})
		})
	})

	return r
}
