package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nandanugg/tj-tracking/config"
	"github.com/nandanugg/tj-tracking/module/core"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := config.NewHealthChecker()
	infra := core.Infra{Logger: logger}

	if cfg.ZoneSeedPath != "" {
		seed, err := config.LoadZoneSeed(cfg.ZoneSeedPath)
		if err != nil {
			return err
		}
		infra.ZoneSeed = seed
	}

	// the record store is optional when a seed file is given
	db, err := config.NewPostgres(ctx, cfg)
	switch {
	case err == nil:
		defer func() { _ = db.Close() }()
		infra.DB = db
		health.Add("postgres", config.PostgresCheck(db))
	case infra.ZoneSeed != nil:
		logger.Warn("postgres unavailable, serving zones from seed file", "error", err)
	default:
		return err
	}

	amqpConn, err := config.NewRabbitMQ(cfg, "tracking-server")
	if err != nil {
		return err
	}
	defer func() { _ = amqpConn.Close() }()
	infra.AMQP = amqpConn
	health.Add("rabbitmq", config.RabbitMQCheck(amqpConn))

	mqttClient, err := config.NewMQTT(cfg)
	if err != nil {
		return err
	}
	defer mqttClient.Disconnect(250)
	infra.MQTT = mqttClient
	health.Add("mqtt", config.MQTTCheck(mqttClient))

	rdb, err := config.NewRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	infra.Redis = rdb
	health.Add("redis", config.RedisCheck(rdb))

	coreModule, err := core.Build(cfg, infra)
	if err != nil {
		return err
	}
	health.Add("tracking_feed", coreModule.FeedCheck())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	health.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	coreModule.RegisterRoutes(&r.RouterGroup)

	if err := coreModule.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	coreModule.Stop()

	logger.Info("shutdown complete")
	return err
}
