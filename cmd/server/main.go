package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/rider-api/internal/auth"
	"github.com/example/rider-api/internal/booking"
	"github.com/example/rider-api/internal/chat"
	"github.com/example/rider-api/internal/config"
	"github.com/example/rider-api/internal/geocode"
	httpapi "github.com/example/rider-api/internal/http"
	"github.com/example/rider-api/internal/ingest"
	"github.com/example/rider-api/internal/logging"
	"github.com/example/rider-api/internal/media"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/payments"
	"github.com/example/rider-api/internal/ratings"
	"github.com/example/rider-api/internal/rides"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.AuthSecret == "" {
		logger.Error("AUTH_TOKEN_SECRET must be set")
		os.Exit(1)
	}

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN, logger); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	var st store.Store
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		st = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub()
	if cfg.RedisAddr != "" {
		bridge := stream.NewRedisBridge(hub, cfg.RedisAddr, cfg.RedisPassword, logging.Component(logger, "bridge"))
		go bridge.Run(ctx)
		defer bridge.Close()
	}

	geo := geocode.NewClient(cfg.GeocodeEndpoint, cfg.RouteEndpoint)
	if cfg.RedisAddr != "" {
		geo.Cache = geocode.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.GeocodeCacheTTL)
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		defer producer.Close()
	}

	notifier := &notify.Service{Store: st, Hub: hub}

	var charger payments.Charger
	if cfg.StripeAPIKey != "" {
		charger = payments.NewStripeCharger(cfg.StripeAPIKey)
	}

	srv := httpapi.NewServer(logging.Component(logger, "http"))
	srv.Booking = &booking.Service{Geo: geo, Store: st, Hub: hub, Events: bookingEvents(producer), Logger: logging.Component(logger, "booking")}
	srv.Tracker = &rides.Tracker{Store: st, Hub: hub, Logger: logging.Component(logger, "tracker")}
	srv.Ratings = &ratings.Service{Store: st, Hub: hub, Events: ratingEvents(producer), Logger: logging.Component(logger, "ratings")}
	srv.Notify = notifier
	srv.Payments = &payments.Service{Store: st, Notify: notifier, Charger: charger, Currency: cfg.Currency, Events: paymentEvents(producer), Logger: logging.Component(logger, "payments")}
	srv.Chat = &chat.Service{Store: st, Hub: hub}
	srv.Geo = geo
	srv.Media = media.NewUploader(cfg.UploadEndpoint, cfg.UploadPreset)
	srv.Store = st
	srv.Hub = hub
	srv.Verifier = auth.NewVerifier(cfg.AuthSecret)
	srv.Mount()

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("rider-api listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// The event helpers keep the services' interface fields truly nil when
// kafka is not configured; a typed nil would pass the nil checks.

func bookingEvents(p *ingest.KafkaProducer) booking.Events {
	if p == nil {
		return nil
	}
	return p
}

func ratingEvents(p *ingest.KafkaProducer) ratings.Events {
	if p == nil {
		return nil
	}
	return p
}

func paymentEvents(p *ingest.KafkaProducer) payments.Events {
	if p == nil {
		return nil
	}
	return p
}

func runMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	if _, err := db.Exec(string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_init.sql")
	return nil
}
