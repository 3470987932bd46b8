package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/internal/database"
)

type HealthService struct {
	config *config.Config
	logger *logrus.Logger
	db     *database.Database

	healthCheckStatus *prometheus.GaugeVec
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database) *HealthService {
	hs := &HealthService{
		config: cfg,
		logger: logger,
		db:     db,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	if err := prometheus.Register(hs.healthCheckStatus); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			logger.WithError(err).Warn("Failed to register health_check_status metric")
		}
	}

	return hs
}

// CheckHealth pings PostgreSQL and Redis. PostgreSQL is critical (the quota
// ledger lives there); Redis only degrades service since the reputation
// checker falls back to live lookups.
func (hs *HealthService) CheckHealth() *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := hs.db.PG.Ping(ctx); err != nil {
		hs.logger.WithError(err).Error("PostgreSQL health check failed")
		status.Services["postgresql"] = "unhealthy"
		status.Status = "unhealthy"
		hs.healthCheckStatus.WithLabelValues("postgresql").Set(0)
	} else {
		status.Services["postgresql"] = "healthy"
		hs.healthCheckStatus.WithLabelValues("postgresql").Set(1)
	}

	if err := hs.db.Redis.Ping(ctx).Err(); err != nil {
		hs.logger.WithError(err).Warn("Redis health check failed")
		status.Services["redis"] = "unhealthy"
		if status.Status == "healthy" {
			status.Status = "degraded"
		}
		hs.healthCheckStatus.WithLabelValues("redis").Set(0)
	} else {
		status.Services["redis"] = "healthy"
		hs.healthCheckStatus.WithLabelValues("redis").Set(1)
	}

	return status
}
