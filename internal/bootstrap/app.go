package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"questionnaire/internal/cache"
	"questionnaire/internal/config"
	"questionnaire/internal/platform/database"
	rabbitmqClient "questionnaire/internal/platform/rabbitmq"
	redisClient "questionnaire/internal/platform/redis"
	"questionnaire/internal/worker"
)

// App holds the process-wide resources. Redis and the broker are optional
// and stay nil when disabled.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	EventWorker *worker.SubmissionEventWorker

	StartedAt time.Time
}

// New opens the store and bootstraps its schema before anything else. Any
// failure here is fatal to startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, StartedAt: time.Now()}

	params := cfg.ConnParams()
	slog.Info("connecting to database", slog.String("target", params.Redacted()))

	db, err := database.Open(ctx, params, database.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	app.DB = db

	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = app.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Redis = redisCli
	}

	if cfg.RabbitMQ.Enabled {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.MQConn = mqConn

		var recorder worker.SubmissionRecorder
		if app.Redis != nil {
			recorder = cache.NewSubmissionStats(app.Redis)
		}
		eventWorker := worker.NewSubmissionEventWorker(mqConn, recorder, cfg.RabbitMQ.SubmissionQueue)
		if err := eventWorker.Start(ctx); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("start submission worker failed: %w", err)
		}
		app.EventWorker = eventWorker
	}

	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq failed: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis failed: %w", err))
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			errs = append(errs, fmt.Errorf("close database failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
