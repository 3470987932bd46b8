package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/config"
	"github.com/veldt/imagegate/internal/messaging"
	"github.com/veldt/imagegate/internal/services"
	"github.com/veldt/imagegate/pkg/models"
)

// usageEvents is the fire-and-forget event sink; publishing never fails a
// request.
type usageEvents interface {
	Publish(eventType, identity, detail string)
}

type PromptHandler struct {
	config     *config.Config
	logger     *logrus.Logger
	reputation services.ReputationServiceInterface
	ledger     services.QuotaLedgerInterface
	generation services.GenerationServiceInterface
	events     usageEvents
	metrics    *services.Metrics
}

func NewPromptHandler(
	cfg *config.Config,
	logger *logrus.Logger,
	reputation services.ReputationServiceInterface,
	ledger services.QuotaLedgerInterface,
	generation services.GenerationServiceInterface,
	events usageEvents,
	metrics *services.Metrics,
) *PromptHandler {
	return &PromptHandler{
		config:     cfg,
		logger:     logger,
		reputation: reputation,
		ledger:     ledger,
		generation: generation,
		events:     events,
		metrics:    metrics,
	}
}

// Generate handles GET /prompt. The pipeline is single-pass: identity check,
// IP reputation, quota admission, usage recording, then the upstream call.
func (h *PromptHandler) Generate(c *gin.Context) {
	var req models.PromptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_PARAM",
				"message": "prompt, ip and id query parameters are required",
			},
		})
		return
	}

	if !services.IsValidIdentity(req.ID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "IDENTITY_REJECTED",
				"message": "Invalid identity token",
			},
		})
		return
	}

	ctx := c.Request.Context()

	reputation, err := h.reputation.Check(ctx, req.IP)
	if err != nil {
		// Reputation outages fail closed: the request errors, it is never admitted
		h.logger.WithError(err).Error("Reputation check failed")
		h.countDecision("failed")
		h.internalError(c)
		return
	}
	if !reputation.Allowed {
		h.countDecision("denied_reputation")
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "IP_BLOCKED",
				"message": "Requests from this address are not allowed",
			},
		})
		return
	}

	decision, record, err := h.ledger.Admit(ctx, req.ID)
	if err != nil {
		h.logger.WithError(err).Error("Quota admission failed")
		h.countDecision("failed")
		h.internalError(c)
		return
	}

	switch decision {
	case models.DecisionDenyBanned:
		h.countDecision("denied_banned")
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "BANNED",
				"message": "This identity is banned",
			},
		})
		return
	case models.DecisionDenyQuotaExceeded:
		h.countDecision("denied_quota")
		c.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "QUOTA_EXCEEDED",
				"message": "Daily request limit reached",
			},
		})
		return
	}

	if record.Tier == models.TierFree {
		h.logger.WithFields(logrus.Fields{
			"identity":  req.ID,
			"remaining": h.config.Quota.FreeDailyLimit - record.RequestsMade - 1,
		}).Debug("Free-tier request admitted")
	}

	if err := h.ledger.RecordUsage(ctx, req.ID); err != nil {
		h.logger.WithError(err).Error("Failed to record usage")
		h.countDecision("failed")
		h.internalError(c)
		return
	}

	start := time.Now()
	imageURL, err := h.generation.Generate(ctx, req.Prompt)
	if h.metrics != nil {
		h.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if !errors.Is(err, services.ErrGenerationFailed) {
			h.logger.WithError(err).Error("Unexpected generation error")
		}
		h.countDecision("failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "GENERATION_FAILED",
				"message": "failed to generate / parse response",
			},
		})
		return
	}

	h.countDecision("admitted")
	if h.metrics != nil && h.config.Generation.URLStrategy == "rehost" {
		h.metrics.RehostUploads.Inc()
	}
	if h.events != nil {
		h.events.Publish(messaging.EventGeneration, req.ID, models.DecisionAdmit.String())
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 200,
		"url":  imageURL,
	})
}

func (h *PromptHandler) countDecision(decision string) {
	if h.metrics != nil {
		h.metrics.Decisions.WithLabelValues(decision).Inc()
	}
}

func (h *PromptHandler) internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Internal server error",
		},
	})
}
