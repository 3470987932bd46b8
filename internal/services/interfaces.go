package services

import (
	"context"

	"github.com/veldt/imagegate/pkg/models"
)

// ReputationServiceInterface defines the IP reputation check contract.
type ReputationServiceInterface interface {
	Check(ctx context.Context, ip string) (*models.ReputationResult, error)
}

// QuotaLedgerInterface defines the quota/tier record operations.
type QuotaLedgerInterface interface {
	Admit(ctx context.Context, identity string) (models.Decision, *models.UserRecord, error)
	RecordUsage(ctx context.Context, identity string) error
	UpgradeToPaid(ctx context.Context, identity string) (*models.UserRecord, error)
	Ban(ctx context.Context, identity string) error
	GetRecord(ctx context.Context, identity string) (*models.UserRecord, error)
}

// GenerationServiceInterface defines the generation proxy contract.
type GenerationServiceInterface interface {
	Generate(ctx context.Context, promptText string) (string, error)
}
