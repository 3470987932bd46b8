package services

import (
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/internal/database"
)

type Services struct {
	Health      *HealthService
	Reputation  *ReputationService
	QuotaLedger *QuotaLedgerService
	Generation  *GenerationService
	Metrics     *Metrics
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, uploader imageUploader) (*Services, error) {
	generationService, err := NewGenerationService(cfg, logger, uploader)
	if err != nil {
		return nil, err
	}

	return &Services{
		Health:      NewHealthService(cfg, logger, db),
		Reputation:  NewReputationService(cfg, logger, db.Redis),
		QuotaLedger: NewQuotaLedgerService(db.PG, cfg, logger),
		Generation:  generationService,
		Metrics:     NewMetrics(logger),
	}, nil
}
