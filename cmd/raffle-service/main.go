package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/delivery"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/media"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/raffle_api"
)

func connectDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func buildVerifier(ctx context.Context, cfg *config.Config, log *logger.Logger) auth.Verifier {
	if cfg.Auth.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC verifier: %v", err))
		}
		log.Info("AUTH", fmt.Sprintf("Using OIDC verifier with issuer %s", cfg.Auth.OIDCIssuer))
		return verifier
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("AUTH", "JWT_SECRET not set and no OIDC issuer configured")
	}
	log.Info("AUTH", "Using HS256 JWT verifier")
	return auth.NewJWTVerifier(cfg.Auth.JWTSecret)
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Raffle Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()
	httpClient := &http.Client{Timeout: 10 * time.Second}

	bunDB := connectDatabase(cfg, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "Schema migrations applied")

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.Topics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events will not be published")
	}

	var uploader raffle.ProofUploader
	if cfg.Media.Enabled {
		redisClient, err := auth.InitializeTokenCache(cfg.Redis.Addr, log)
		if err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Failed to initialize token cache: %v", err))
		}
		defer redisClient.Close()

		tokens := &auth.M2MTokenSource{
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Client:       httpClient,
			Cache:        &auth.RedisTokenCache{Client: redisClient},
		}
		uploader = media.NewUploader(cfg.Media.BaseURL, tokens, httpClient, log)
		log.Info("MEDIA", fmt.Sprintf("Proof uploads routed to %s", cfg.Media.BaseURL))
	}

	store := &db.DB{Bun: bunDB}
	var publisher raffle.KafkaPublisher
	if producer != nil {
		publisher = producer
	}
	raffleService := raffle.NewRaffleService(store, publisher, uploader, log)
	deliveryService := delivery.NewService(store, log)
	handler := raffle_api.NewHandler(raffleService, deliveryService, log)

	verifier := buildVerifier(ctx, cfg, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Route("/api", func(r chi.Router) {
			r.Get("/raffles", handler.ListRaffles)
			r.Get("/raffles/{raffleID}", handler.GetRaffle)
			r.Post("/raffles/{raffleID}/reservations", handler.Reserve)
			r.Get("/raffles/{raffleID}/draw", handler.DrawStatus)
			r.Get("/raffles/{raffleID}/draw/numbers", handler.DrawNumbers)
			r.With(auth.RequireAdmin).Get("/raffles/{raffleID}/winner-receipt", handler.WinnerReceipt)
			r.Get("/reservations/mine", handler.MyReservations)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Post("/raffles", handler.CreateRaffle)
				r.Route("/admin", func(r chi.Router) {
					r.Get("/reservations/pending", handler.PendingReservations)
					r.Post("/reservations/{reservationID}/approve", handler.ApproveReservation)
					r.Post("/reservations/{reservationID}/reject", handler.RejectReservation)

					r.Post("/raffles/{raffleID}/activate", handler.ActivateRaffle)
					r.Post("/raffles/{raffleID}/schedule-draw", handler.ScheduleDraw)
					r.Post("/raffles/{raffleID}/run-draw", handler.RunDraw)
					r.Get("/raffles/{raffleID}/draw/participants", handler.DrawParticipants)

					r.Get("/deliveries", handler.ListDeliveries)
					r.Post("/raffles/{raffleID}/deliveries/{userID}", handler.MarkDelivered)
				})
			})
		})
	})
	log.Info("ROUTER", "Raffle routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Raffle Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Raffle Service shutdown complete")
	}
}
