// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"enquiry-workers/internal/common/aws"
	"enquiry-workers/internal/common/camunda"
	"enquiry-workers/internal/common/config"
	"enquiry-workers/internal/common/database"
	"enquiry-workers/internal/common/filestore"
	"enquiry-workers/internal/common/lock"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/observability"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/enquiry"

	no "enquiry-workers/internal/workers/communication/notify-outcome"
	ci "enquiry-workers/internal/workers/enquiry/complete-indent"
	gi "enquiry-workers/internal/workers/enquiry/generate-identifiers"
	ic "enquiry-workers/internal/workers/enquiry/index-candidate"
	sb "enquiry-workers/internal/workers/enquiry/submit"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// dependencies are the shared clients every handler is built from.
type dependencies struct {
	sheets     *sheets.Client
	files      filestore.Store
	redis      *database.RedisClient
	postgres   *database.PostgresClient
	es         *database.ElasticsearchClient
	journal    enquiry.Journal
	reconciler *enquiry.Reconciler
	saga       *enquiry.Saga
	ses        no.SESService
	sns        no.SNSService
}

func main() {
	bootLog := logger.New("info", "console")
	defer bootLog.Sync()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	if err := config.ValidateForWorkers(cfg); err != nil {
		bootLog.Fatal("invalid worker configuration", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	log.Info("Starting worker manager...", map[string]interface{}{"environment": cfg.App.Environment})

	obs := observability.New("worker-manager", cfg.Observability.JaegerEndpoint, log)
	defer obs.Shutdown()

	ctx := context.Background()

	deps, err := buildDependencies(ctx, cfg, log)
	if err != nil {
		log.Error("dependency initialization failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	defer deps.close(log)

	zeebe, err := camunda.NewClient(ctx, cfg.Camunda.BrokerAddress)
	if err != nil {
		log.Error("zeebe client failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	log.Info("Zeebe client connected successfully", map[string]interface{}{"address": cfg.Camunda.BrokerAddress})

	workers := camunda.NewWorkers(zeebe.GetClient(), log).WithObserver(obs)
	if err := registerWorkers(workers, cfg, deps, log); err != nil {
		log.Error("worker registration failed", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	log.Info("workers registered", map[string]interface{}{"count": workers.Count()})

	srv := newMetricsServer(cfg.Observability.MetricsAddress)
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err})
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received, stopping workers...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping metrics server", map[string]interface{}{"error": err})
	}
	if err := zeebe.Close(); err != nil {
		log.Error("Error closing Zeebe client", map[string]interface{}{"error": err})
	}

	log.Info("Worker manager stopped gracefully", nil)
}

func buildDependencies(ctx context.Context, cfg *config.Config, log logger.Logger) (*dependencies, error) {
	deps := &dependencies{}

	deps.sheets = sheets.NewClient(sheets.Config{
		BaseURL:   cfg.Sheets.BaseURL,
		Timeout:   cfg.SheetsTimeout(),
		HeaderRow: cfg.Sheets.HeaderRow,
	}, log)

	files, err := filestore.New(ctx, cfg.FileStore, deps.sheets)
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	deps.files = files

	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			deps.redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return deps.redis.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return nil, err
		}
		log.Info("Redis connected successfully", nil)
	}

	if cfg.Database.Postgres.Enabled() {
		err = retryWithBackoff(func() error {
			var err error
			deps.postgres, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return deps.postgres.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		journal := enquiry.NewPostgresJournal(deps.postgres.DB)
		if err := journal.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("journal schema: %w", err)
		}
		deps.journal = journal
		log.Info("PostgreSQL journal ready", nil)
	} else {
		deps.journal = enquiry.NewMemoryJournal()
		log.Warn("no journal database configured, step outcomes are kept in memory", nil)
	}

	loc, err := time.LoadLocation(cfg.Sheets.Location)
	if err != nil {
		return nil, fmt.Errorf("sheets.location: %w", err)
	}
	deps.reconciler = enquiry.NewReconciler(deps.sheets, loc, log)

	var sagaOpts []enquiry.SagaOption
	if cfg.Enquiry.SerializeWrites {
		ttl := config.GetDuration(cfg.Enquiry.LockTTL)
		sagaOpts = append(sagaOpts, enquiry.WithSerializedWrites(
			lock.NewRedisLocker(deps.redis.Client, ttl, ttl, log),
		))
	}
	deps.saga = enquiry.NewSaga(deps.reconciler, deps.files, deps.journal, log, sagaOpts...)

	if cfg.Database.Elasticsearch.GetURL() != "" {
		err = retryWithBackoff(func() error {
			var err error
			deps.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return deps.es.Ping()
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		log.Info("Elasticsearch connected successfully", nil)
	}

	n := cfg.Notifications
	if n.Email.Enabled {
		client, err := aws.NewSESClient(ctx, n.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		deps.ses = client
	}
	if n.SMS.Enabled {
		client, err := aws.NewSNSClient(ctx, n.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("sns: %w", err)
		}
		deps.sns = client
	}

	return deps, nil
}

// sharedSnapshots returns the Redis client snapshot caches share, or nil.
func (d *dependencies) sharedSnapshots() redis.Cmdable {
	if d.redis == nil {
		return nil
	}
	return d.redis.Client
}

func (d *dependencies) close(log logger.Logger) {
	if closer, ok := d.files.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error("Error closing file store", map[string]interface{}{"error": err})
		}
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.postgres != nil {
		_ = d.postgres.Close()
	}
}

func registerWorkers(workers *camunda.Workers, cfg *config.Config, deps *dependencies, log logger.Logger) error {
	genIDs, err := gi.NewHandler(gi.HandlerOptions{
		AppConfig: cfg,
		Fetcher:   deps.sheets,
		Redis:     deps.sharedSnapshots(),
		Logger:    log,
	})
	if err != nil {
		return err
	}
	workers.Start(gi.TaskType, config.GetWorkerConfig(cfg, gi.ConfigKey), genIDs.Handle)

	submit, err := sb.NewHandler(sb.HandlerOptions{
		AppConfig: cfg,
		Saga:      deps.saga,
		Fetcher:   deps.sheets,
		Redis:     deps.sharedSnapshots(),
		Logger:    log,
	})
	if err != nil {
		return err
	}
	workers.Start(sb.TaskType, config.GetWorkerConfig(cfg, sb.ConfigKey), submit.Handle)

	completeIndent, err := ci.NewHandler(ci.HandlerOptions{
		AppConfig:  cfg,
		Reconciler: deps.reconciler,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	workers.Start(ci.TaskType, config.GetWorkerConfig(cfg, ci.ConfigKey), completeIndent.Handle)

	if deps.es != nil {
		index, err := ic.NewHandler(ic.HandlerOptions{
			AppConfig: cfg,
			Client:    deps.es.Client,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		workers.Start(ic.TaskType, config.GetWorkerConfig(cfg, ic.ConfigKey), index.Handle)
	} else {
		log.Info("worker disabled", map[string]interface{}{"taskType": ic.TaskType, "reason": "no elasticsearch configured"})
	}

	notify, err := no.NewHandler(no.HandlerOptions{
		AppConfig: cfg,
		SES:       deps.ses,
		SNS:       deps.sns,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	workers.Start(no.TaskType, config.GetWorkerConfig(cfg, no.ConfigKey), notify.Handle)

	return nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
