package config

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Check reports a dependency as down by returning an error.
type Check func(ctx context.Context) error

type HealthChecker struct {
	names   []string
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]Check), timeout: 2 * time.Second}
}

// Add registers check under name. Checks are reported in the order added.
func (h *HealthChecker) Add(name string, check Check) {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}

	for _, name := range h.names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = gin.H{"status": "up"}
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}

func PostgresCheck(db *sql.DB) Check {
	return db.PingContext
}

func RabbitMQCheck(conn *amqp.Connection) Check {
	return func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
}

func MQTTCheck(client mqtt.Client) Check {
	return func(context.Context) error {
		if !client.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}
}

func RedisCheck(rdb *redis.Client) Check {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
