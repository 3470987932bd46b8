package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veldt/imagegate/internal/messaging"
	"github.com/veldt/imagegate/internal/services"
	"github.com/veldt/imagegate/pkg/models"
)

// AccountHandler serves the tier management endpoints: /add, /check/:id,
// /info/:id and /ban/:id.
type AccountHandler struct {
	logger *logrus.Logger
	ledger services.QuotaLedgerInterface
	events usageEvents
}

func NewAccountHandler(logger *logrus.Logger, ledger services.QuotaLedgerInterface, events usageEvents) *AccountHandler {
	return &AccountHandler{
		logger: logger,
		ledger: ledger,
		events: events,
	}
}

// Add handles GET /add: upserts the identity to the PAID tier with a 30-day
// expiration stamp.
func (h *AccountHandler) Add(c *gin.Context) {
	var req models.AddRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "MISSING_PARAM",
				"message": "id query parameter is required",
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

	record, err := h.ledger.UpgradeToPaid(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade identity")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
			},
		})
		return
	}

	if h.events != nil {
		h.events.Publish(messaging.EventTierChange, req.ID, string(models.TierPaid))
	}

	message := "identity upgraded to PAID"
	if record.PremiumExpiresAt != nil {
		message += " until " + record.PremiumExpiresAt.Format("2006-01-02")
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": message,
	})
}

// Check handles GET /check/:id and reports PAID or FREE.
func (h *AccountHandler) Check(c *gin.Context) {
	record, ok := h.lookupRecord(c)
	if !ok {
		return
	}

	msg := string(models.TierFree)
	if record.Tier == models.TierPaid {
		msg = string(models.TierPaid)
	}

	c.JSON(http.StatusOK, gin.H{"msg": msg})
}

// Info handles GET /info/:id with the full record projection.
func (h *AccountHandler) Info(c *gin.Context) {
	record, ok := h.lookupRecord(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, record)
}

// Ban handles GET /ban/:id.
func (h *AccountHandler) Ban(c *gin.Context) {
	var uri models.IdentityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.invalidIdentity(c)
		return
	}

	if err := h.ledger.Ban(c.Request.Context(), uri.ID); err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			h.notFound(c)
			return
		}
		h.logger.WithError(err).Error("Failed to ban identity")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
			},
		})
		return
	}

	if h.events != nil {
		h.events.Publish(messaging.EventTierChange, uri.ID, string(models.TierBanned))
	}

	c.JSON(http.StatusOK, gin.H{"message": "identity banned"})
}

func (h *AccountHandler) lookupRecord(c *gin.Context) (*models.UserRecord, bool) {
	var uri models.IdentityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.invalidIdentity(c)
		return nil, false
	}

	record, err := h.ledger.GetRecord(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			h.notFound(c)
			return nil, false
		}
		h.logger.WithError(err).Error("Failed to fetch user record")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
			},
		})
		return nil, false
	}

	return record, true
}

func (h *AccountHandler) invalidIdentity(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "INVALID_IDENTITY",
			"message": "Invalid identity token",
		},
	})
}

func (h *AccountHandler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": gin.H{
			"code":    "NOT_FOUND",
			"message": "Unknown identity",
		},
	})
}
