package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/internal/messaging"
	"github.com/veldt/imagegate/internal/services"
)

type Handlers struct {
	Health  *HealthHandler
	Prompt  *PromptHandler
	Account *AccountHandler
}

func New(cfg *config.Config, logger *logrus.Logger, svc *services.Services, events *messaging.EventPublisher) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(logger, svc.Health),
		Prompt:  NewPromptHandler(cfg, logger, svc.Reputation, svc.QuotaLedger, svc.Generation, events, svc.Metrics),
		Account: NewAccountHandler(logger, svc.QuotaLedger, events),
	}
}
