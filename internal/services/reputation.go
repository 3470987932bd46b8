package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/pkg/models"
)

const reputationCachePrefix = "reputation:ip:"

// ReputationService classifies client IPs through an external privacy lookup.
// A lookup failure is an error, not an allow: callers must fail closed.
type ReputationService struct {
	config     *config.Config
	logger     *logrus.Logger
	httpClient *http.Client
	redis      *redis.Client
}

type reputationLookup struct {
	Bogon   bool `json:"bogon"`
	Privacy struct {
		VPN     bool `json:"vpn"`
		Proxy   bool `json:"proxy"`
		Tor     bool `json:"tor"`
		Hosting bool `json:"hosting"`
	} `json:"privacy"`
}

func NewReputationService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *ReputationService {
	return &ReputationService{
		config: cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Reputation.Timeout,
		},
		redis: redisClient,
	}
}

// Check returns the allow/deny verdict for ip. Verdicts are cached in Redis;
// cache errors degrade to a live lookup, never to a denial.
func (s *ReputationService) Check(ctx context.Context, ip string) (*models.ReputationResult, error) {
	if result := s.cachedResult(ctx, ip); result != nil {
		return result, nil
	}

	result, err := s.lookup(ctx, ip)
	if err != nil {
		return nil, err
	}

	s.cacheResult(ctx, ip, result)
	return result, nil
}

func (s *ReputationService) lookup(ctx context.Context, ip string) (*models.ReputationResult, error) {
	endpoint := fmt.Sprintf("%s/%s?token=%s", s.config.Reputation.BaseURL, url.PathEscape(ip), url.QueryEscape(s.config.Reputation.Token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation lookup returned status %d", resp.StatusCode)
	}

	var lookup reputationLookup
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, fmt.Errorf("failed to decode reputation response: %w", err)
	}

	result := &models.ReputationResult{Allowed: true}
	switch {
	case lookup.Bogon:
		result.Allowed = false
		result.Reason = "bogon"
	case lookup.Privacy.VPN:
		result.Allowed = false
		result.Reason = "vpn"
	case lookup.Privacy.Proxy:
		result.Allowed = false
		result.Reason = "proxy"
	case lookup.Privacy.Tor:
		result.Allowed = false
		result.Reason = "tor"
	case lookup.Privacy.Hosting:
		result.Allowed = false
		result.Reason = "hosting"
	}

	if !result.Allowed {
		s.logger.WithFields(logrus.Fields{
			"ip":     ip,
			"reason": result.Reason,
		}).Info("IP rejected by reputation lookup")
	}

	return result, nil
}

func (s *ReputationService) cachedResult(ctx context.Context, ip string) *models.ReputationResult {
	if s.redis == nil {
		return nil
	}

	value, err := s.redis.Get(ctx, reputationCachePrefix+ip).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).Warn("Reputation cache read failed")
		}
		return nil
	}

	if value == "allow" {
		return &models.ReputationResult{Allowed: true}
	}
	return &models.ReputationResult{Allowed: false, Reason: value}
}

func (s *ReputationService) cacheResult(ctx context.Context, ip string, result *models.ReputationResult) {
	if s.redis == nil {
		return
	}

	value := "allow"
	if !result.Allowed {
		value = result.Reason
	}

	if err := s.redis.Set(ctx, reputationCachePrefix+ip, value, s.config.Reputation.CacheTTL).Err(); err != nil {
		s.logger.WithError(err).Warn("Reputation cache write failed")
	}
}
