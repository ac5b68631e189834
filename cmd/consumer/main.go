package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/rider-api/internal/config"
	"github.com/example/rider-api/internal/logging"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/rides"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// driversGeoKey is the Redis GEO set shared with the matching platform.
const driversGeoKey = "drivers_geo"

var (
	locationsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_locations_consumed_total",
		Help: "Total driver location messages consumed",
	})
	statusConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_status_consumed_total",
		Help: "Total ride status messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	statusRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_status_rejected_total",
		Help: "Total status events rejected as stale or out of order",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(locationsConsumed, statusConsumed, msgsInvalid, statusRejected, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
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

	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// hub bridged over redis so updates applied here reach the API
	// instances holding the live subscriptions
	hub := stream.NewHub()
	bridge := stream.NewRedisBridge(hub, redisAddr, cfg.RedisPassword, logging.Component(logger, "bridge"))
	go bridge.Run(ctx)
	defer bridge.Close()

	notifier := &notify.Service{Store: st, Hub: hub}
	lifecycle := &rides.Lifecycle{Store: st, Hub: hub, Notify: notifier, Logger: logging.Component(logger, "lifecycle")}

	go serveMetrics(metricsAddr, rc, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runReader(ctx, readerConfig(brokers, cfg.LocationsTopic, cfg.KafkaGroup), logger, func(value []byte) {
			locationsConsumed.Inc()
			handleLocation(ctx, st, radapter, hub, logger, value)
		})
	}()
	go func() {
		defer wg.Done()
		runReader(ctx, readerConfig(brokers, cfg.StatusTopic, cfg.KafkaGroup), logger, func(value []byte) {
			statusConsumed.Inc()
			handleStatus(ctx, lifecycle, logger, value)
		})
	}()

	logger.Info("consumer running",
		"brokers", brokers, "locations_topic", cfg.LocationsTopic,
		"status_topic", cfg.StatusTopic, "group", cfg.KafkaGroup)

	wg.Wait()
	_ = rc.Close()
}

func readerConfig(brokers []string, topic, group string) kafka.ReaderConfig {
	return kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6}
}

// runReader is the shared consume loop: read, hand off, and back off
// exponentially on broker errors until the context ends.
func runReader(ctx context.Context, rcfg kafka.ReaderConfig, logger *slog.Logger, handle func([]byte)) {
	r := kafka.NewReader(rcfg)
	defer r.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("reader shutting down", "topic", rcfg.Topic)
				return
			}
			logger.Warn("kafka read error", "topic", rcfg.Topic, "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		handle(m.Value)
	}
}

// handleLocation persists a driver position update, mirrors it into the
// shared GEO set, and fans it out to riders watching that driver.
func handleLocation(ctx context.Context, st store.Store, rc RedisUpdater, hub *stream.Hub, logger *slog.Logger, value []byte) {
	var d models.Driver
	if err := json.Unmarshal(value, &d); err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid location message", "error", err)
		return
	}
	if d.ID == "" {
		msgsInvalid.Inc()
		return
	}
	d.Online = true
	d.Updated = time.Now().UTC()
	if err := st.SaveDriver(ctx, d); err != nil {
		logger.Warn("driver save failed", "driver_id", d.ID, "error", err)
	}
	if err := updateRedisWithRetry(ctx, rc, &d, 3, 200*time.Millisecond); err != nil {
		redisErrors.Inc()
		logger.Warn("redis update failed", "driver_id", d.ID, "error", err)
	}
	hub.Publish(stream.DriverTopic(d.ID), "driver.location", d)
}

// handleStatus applies a driver-side lifecycle transition to the rider's
// active request. Stale and out-of-order events are dropped, not retried.
func handleStatus(ctx context.Context, lc *rides.Lifecycle, logger *slog.Logger, value []byte) {
	var ev rides.StatusEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		msgsInvalid.Inc()
		logger.Warn("invalid status message", "error", err)
		return
	}
	if err := lc.Apply(ctx, ev); err != nil {
		if errors.Is(err, rides.ErrStaleEvent) || errors.Is(err, rides.ErrBadTransition) {
			statusRejected.Inc()
			logger.Info("status event dropped", "ride_id", ev.RideID, "status", ev.Status, "reason", err)
			return
		}
		logger.Error("status apply failed", "ride_id", ev.RideID, "error", err)
	}
}

func serveMetrics(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// RedisUpdater is the subset of redis operations the consumer needs,
// small enough to fake in tests.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the driver's GEO position and metadata with
// retry and doubling backoff.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, d *models.Driver, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, driversGeoKey, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, "driver:meta:"+d.ID, map[string]interface{}{"rating": d.Rating(), "online": d.Online}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
