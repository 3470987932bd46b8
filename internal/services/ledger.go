package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/pkg/models"
)

const (
	ResetPolicyCalendarDay = "calendar_day"
	ResetPolicyRolling24h  = "rolling_24h"
)

// ledgerDB is the subset of pgxpool.Pool the ledger needs; it keeps the
// SQL paths mockable in tests.
type ledgerDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuotaLedgerService owns per-identity usage-tier records and decides
// admit/deny per generation request. Concurrent same-identity requests can
// race on the read-modify-write; the quota is advisory, so lost updates are
// tolerated rather than locked out.
type QuotaLedgerService struct {
	db     ledgerDB
	config *config.Config
	logger *logrus.Logger
	now    func() time.Time
}

func NewQuotaLedgerService(db ledgerDB, cfg *config.Config, logger *logrus.Logger) *QuotaLedgerService {
	return &QuotaLedgerService{
		db:     db,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

const selectRecordSQL = `
	SELECT identity, last_request_at, requests_made, tier, premium_expires_at
	FROM user_records
	WHERE identity = $1`

// GetRecord fetches the record for identity, or models.ErrRecordNotFound.
func (s *QuotaLedgerService) GetRecord(ctx context.Context, identity string) (*models.UserRecord, error) {
	record := &models.UserRecord{}
	err := s.db.QueryRow(ctx, selectRecordSQL, identity).Scan(
		&record.Identity,
		&record.LastRequestAt,
		&record.RequestsMade,
		&record.Tier,
		&record.PremiumExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to fetch user record: %w", err)
	}
	return record, nil
}

// Admit decides whether identity may issue a generation request. Unknown
// identities get a FREE record persisted immediately, before the decision,
// so even a denied first request leaves a row behind.
func (s *QuotaLedgerService) Admit(ctx context.Context, identity string) (models.Decision, *models.UserRecord, error) {
	now := s.now()

	record, err := s.GetRecord(ctx, identity)
	if errors.Is(err, models.ErrRecordNotFound) {
		record, err = s.createRecord(ctx, identity, now)
	}
	if err != nil {
		return 0, nil, err
	}

	if record.Tier == models.TierBanned {
		return models.DecisionDenyBanned, record, nil
	}

	if s.resetApplies(record.LastRequestAt, now) && record.RequestsMade != 0 {
		if _, err := s.db.Exec(ctx, `UPDATE user_records SET requests_made = 0 WHERE identity = $1`, identity); err != nil {
			return 0, nil, fmt.Errorf("failed to reset usage counter: %w", err)
		}
		record.RequestsMade = 0
		s.logger.WithField("identity", identity).Debug("Usage counter reset")
	}

	if record.Tier == models.TierFree && record.RequestsMade >= s.config.Quota.FreeDailyLimit {
		return models.DecisionDenyQuotaExceeded, record, nil
	}

	return models.DecisionAdmit, record, nil
}

// RecordUsage increments the usage counter after an Admit decision.
func (s *QuotaLedgerService) RecordUsage(ctx context.Context, identity string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_records SET requests_made = requests_made + 1, last_request_at = $2 WHERE identity = $1`,
		identity, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRecordNotFound
	}
	return nil
}

// UpgradeToPaid upserts identity to the PAID tier with a fresh premium
// expiration stamp. The stamp is informational; nothing downgrades on expiry.
func (s *QuotaLedgerService) UpgradeToPaid(ctx context.Context, identity string) (*models.UserRecord, error) {
	expiresAt := s.now().Add(s.config.Quota.PremiumDuration)

	_, err := s.db.Exec(ctx, `
		INSERT INTO user_records (identity, last_request_at, requests_made, tier, premium_expires_at)
		VALUES ($1, NULL, 0, 'PAID', $2)
		ON CONFLICT (identity)
		DO UPDATE SET tier = 'PAID', premium_expires_at = EXCLUDED.premium_expires_at`,
		identity, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"identity":   identity,
		"expires_at": expiresAt,
	}).Info("Identity upgraded to PAID")

	return s.GetRecord(ctx, identity)
}

// Ban marks an existing identity as BANNED; unknown identities are an error.
func (s *QuotaLedgerService) Ban(ctx context.Context, identity string) error {
	tag, err := s.db.Exec(ctx, `UPDATE user_records SET tier = 'BANNED' WHERE identity = $1`, identity)
	if err != nil {
		return fmt.Errorf("failed to ban identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRecordNotFound
	}

	s.logger.WithField("identity", identity).Info("Identity banned")
	return nil
}

func (s *QuotaLedgerService) createRecord(ctx context.Context, identity string, now time.Time) (*models.UserRecord, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_records (identity, last_request_at, requests_made, tier, premium_expires_at)
		VALUES ($1, $2, 0, 'FREE', NULL)`,
		identity, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user record: %w", err)
	}

	s.logger.WithField("identity", identity).Info("User record created")

	return &models.UserRecord{
		Identity:      identity,
		LastRequestAt: &now,
		RequestsMade:  0,
		Tier:          models.TierFree,
	}, nil
}

func (s *QuotaLedgerService) resetApplies(lastRequestAt *time.Time, now time.Time) bool {
	if lastRequestAt == nil {
		return true
	}

	switch s.config.Quota.ResetPolicy {
	case ResetPolicyRolling24h:
		return now.Sub(*lastRequestAt) > 24*time.Hour
	default: // calendar_day
		last := lastRequestAt.UTC()
		cur := now.UTC()
		ly, lm, ld := last.Date()
		cy, cm, cd := cur.Date()
		return ly != cy || lm != cm || ld != cd
	}
}
