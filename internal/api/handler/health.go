package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultReadinessTimeout = 3 * time.Second

// HealthHandler handles GET /health, the liveness probe.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Dependency is one readiness check.
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

type mongoPinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type brokerConn interface {
	IsClosed() bool
}

var errBrokerClosed = errors.New("connection closed")

// MongoDependency pings the primary.
func MongoDependency(client mongoPinger) Dependency {
	return Dependency{Name: "mongodb", Check: func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}}
}

func RedisDependency(client redisPinger) Dependency {
	return Dependency{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// BrokerDependency is healthy while every connection is open.
func BrokerDependency(conns ...brokerConn) Dependency {
	return Dependency{Name: "rabbitmq", Check: func(context.Context) error {
		for _, conn := range conns {
			if conn.IsClosed() {
				return errBrokerClosed
			}
		}
		return nil
	}}
}

// HealthDependenciesHandler handles GET /health/ready, the readiness probe.
type HealthDependenciesHandler struct {
	timeout time.Duration
	deps    []Dependency
}

func NewHealthDependenciesHandler(timeout time.Duration, deps ...Dependency) *HealthDependenciesHandler {
	if timeout <= 0 {
		timeout = defaultReadinessTimeout
	}
	return &HealthDependenciesHandler{timeout: timeout, deps: deps}
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

func (h *HealthDependenciesHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	statuses := make(map[string]dependencyStatus, len(h.deps))
	healthy := true
	for _, dep := range h.deps {
		if err := dep.Check(ctx); err != nil {
			statuses[dep.Name] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
			continue
		}
		statuses[dep.Name] = dependencyStatus{Status: "ok"}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, readinessResponse{
		Status:       status,
		Dependencies: statuses,
	})
}
