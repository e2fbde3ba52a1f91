package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/tj-tracking/config"
	"github.com/nandanugg/tj-tracking/module/core/internal/conn"
	handler "github.com/nandanugg/tj-tracking/module/core/internal/handler/http"
	"github.com/nandanugg/tj-tracking/module/core/internal/handler/subscriber"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/database"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/database/postgres"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/database/static"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/publisher"
	mqttpub "github.com/nandanugg/tj-tracking/module/core/internal/repository/publisher/mqtt"
	"github.com/nandanugg/tj-tracking/module/core/internal/repository/publisher/rabbitmq"
	redisstatus "github.com/nandanugg/tj-tracking/module/core/internal/repository/status/redis"
	"github.com/nandanugg/tj-tracking/module/core/service"
)

const statusPublishTimeout = 2 * time.Second

// Infra holds the connections the module is built on. DB and ZoneSeed are
// optional but at least one must be set.
type Infra struct {
	DB       *sql.DB
	AMQP     *amqp.Connection
	MQTT     mqtt.Client
	Redis    *redis.Client
	ZoneSeed *config.ZoneSeed
	Logger   *slog.Logger
}

type Module struct {
	Registry   *service.Registry
	Dispatcher *service.Dispatcher
	Feed       *conn.Manager

	handler    *handler.TrackingHandler
	subscriber starter
	logger     *slog.Logger
	runErr     chan error
	connecting sync.WaitGroup
}

type starter interface {
	Start() error
}

func Build(cfg *config.Config, infra Infra) (*Module, error) {
	logger := infra.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := service.ParseZoneMode(cfg.ZoneMode)
	if err != nil {
		return nil, err
	}

	zones, err := zoneSource(infra)
	if err != nil {
		return nil, err
	}

	alertPub, err := rabbitmq.NewAlertPublisher(infra.AMQP)
	if err != nil {
		return nil, fmt.Errorf("alert publisher: %w", err)
	}
	uiPub := mqttpub.NewUIPublisher(infra.MQTT)
	status := redisstatus.NewStatusStore(infra.Redis)

	registry := service.NewRegistry(service.NewMarkerTable())
	dispatcher := service.NewDispatcher(
		registry,
		service.NewZoneEvaluator(mode),
		zones,
		alertPub,
		uiPub,
		status,
		cfg.ZoneRefresh,
		logger,
	)

	feed := conn.NewManager(conn.Config{
		URL:            cfg.TrackingURL,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.MaxReconnectAttempts,
		DialTimeout:    cfg.DialTimeout,
		WriteTimeout:   5 * time.Second,
	}, conn.NewWebsocketDialer(cfg.DialTimeout), logger)

	feed.RegisterHandler(dispatcher.Handle)
	feed.OnStateChange(stateHook(feed.ClientID(), dispatcher, uiPub, logger))
	feed.OnFailure(failureHook(feed.ClientID(), uiPub, logger))

	return &Module{
		Registry:   registry,
		Dispatcher: dispatcher,
		Feed:       feed,
		handler:    handler.NewTrackingHandler(registry, dispatcher, status, feed, logger),
		subscriber: subscriber.NewRegisterSubscriber(infra.MQTT, feed, logger),
		logger:     logger,
		runErr:     make(chan error, 1),
	}, nil
}

func zoneSource(infra Infra) (database.ZoneRepository, error) {
	var zones database.ZoneRepository
	if infra.DB != nil {
		zones = postgres.NewZoneRepo(infra.DB)
	}
	if infra.ZoneSeed != nil {
		zones = static.NewZoneRepo(infra.ZoneSeed, zones)
	}
	if zones == nil {
		return nil, errors.New("no zone source: set POSTGRES_DSN or ZONE_SEED_PATH")
	}
	return zones, nil
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.handler.Register(r)
}

// FeedCheck reports the tracking feed as down unless it is connected.
func (m *Module) FeedCheck() config.Check {
	return func(context.Context) error {
		if s := m.Feed.CurrentState(); s != conn.Connected {
			return fmt.Errorf("feed %s", s)
		}
		return nil
	}
}

// Start subscribes to console commands, starts the dispatch loop and
// begins opening the feed connection in the background. The loop runs
// until ctx is cancelled.
func (m *Module) Start(ctx context.Context) error {
	if err := m.subscriber.Start(); err != nil {
		return fmt.Errorf("start subscriber: %w", err)
	}

	go func() { m.runErr <- m.Dispatcher.Run(ctx) }()

	m.connecting.Add(1)
	go func() {
		defer m.connecting.Done()
		m.Feed.Connect(ctx)
	}()
	return nil
}

// Stop closes the feed connection and waits for the dispatch loop to
// exit. The context given to Start must already be cancelled.
func (m *Module) Stop() {
	m.connecting.Wait()
	m.Feed.Disconnect()
	if err := <-m.runErr; err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("dispatch loop stopped", "error", err)
	}
}

type feedLoser interface {
	FeedLost() error
}

type statusPublisher interface {
	PublishFeedStatus(ctx context.Context, status publisher.FeedStatus) error
}

func stateHook(clientID string, d feedLoser, ui statusPublisher, logger *slog.Logger) conn.StateFunc {
	return func(from, to conn.State) {
		logger.Info("feed state changed", "from", from.String(), "to", to.String())

		if from == conn.Connected {
			if err := d.FeedLost(); err != nil {
				logger.Warn("queue offline sweep", "error", err)
			}
		}
		if to == conn.Failed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), statusPublishTimeout)
		defer cancel()
		if err := ui.PublishFeedStatus(ctx, publisher.FeedStatus{
			ClientID: clientID,
			State:    to.String(),
			Time:     time.Now().Unix(),
		}); err != nil {
			logger.Warn("publish feed status", "error", err)
		}
	}
}

func failureHook(clientID string, ui statusPublisher, logger *slog.Logger) conn.FailureFunc {
	return func(attempts int, lastErr error) {
		st := publisher.FeedStatus{
			ClientID: clientID,
			State:    conn.Failed.String(),
			Attempts: attempts,
			Time:     time.Now().Unix(),
		}
		if lastErr != nil {
			st.Error = lastErr.Error()
		}

		ctx, cancel := context.WithTimeout(context.Background(), statusPublishTimeout)
		defer cancel()
		if err := ui.PublishFeedStatus(ctx, st); err != nil {
			logger.Error("publish feed failure", "error", err)
		}
	}
}
