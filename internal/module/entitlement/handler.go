package entitlement

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/framecraft/server/internal/shared/errors"
	"github.com/framecraft/server/internal/utils/middleware"
)

func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}

// Handler handles HTTP requests for entitlement.
type Handler struct {
	checker *Checker
	cache   *Cache
	tracker *Tracker
	catalog *TierCatalog
	logger  *zap.Logger
}

// NewHandler creates a new entitlement handler.
func NewHandler(checker *Checker, cache *Cache, tracker *Tracker, catalog *TierCatalog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		checker: checker,
		cache:   cache,
		tracker: tracker,
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers the entitlement routes. public carries no
// auth middleware; authed requires a valid token.
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.GET("/entitlement/plans", h.ListPlans)

	ent := authed.Group("/entitlement")
	{
		ent.POST("/check", h.Check)
		ent.GET("/usage", h.GetUsage)
		ent.GET("/warnings", h.GetWarnings)
		ent.POST("/usage/track", h.TrackUsage)
	}
}

// CheckRequest is the body of POST /entitlement/check.
type CheckRequest struct {
	Action ActionType `json:"action" binding:"required"`
	Amount float64    `json:"amount"`
}

// TrackRequest is the body of POST /entitlement/usage/track.
type TrackRequest struct {
	ResourceType ResourceType      `json:"resource_type" binding:"required"`
	Amount       float64           `json:"amount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PlanView is one tier in the plans listing.
type PlanView struct {
	Tier               SubscriptionTier `json:"tier"`
	Limits             TierLimits       `json:"limits"`
	YearlySavingsCents int64            `json:"yearly_savings_cents,omitempty"`
}

// Check runs an admission check for the authenticated user.
func (h *Handler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	userID := middleware.UserID(c)
	result := h.checker.CanPerformAction(c.Request.Context(), userID, req.Action, req.Amount)
	if result.Allowed {
		c.JSON(http.StatusOK, result)
		return
	}

	switch result.Reason {
	case ReasonAuthRequired:
		c.JSON(http.StatusUnauthorized, result)
	case ReasonInvalidAmount, ReasonUnknownAction:
		c.JSON(http.StatusBadRequest, result)
	case ReasonCheckFailed:
		c.JSON(http.StatusServiceUnavailable, result)
	default:
		c.JSON(http.StatusPaymentRequired, result)
	}
}

// GetUsage returns the usage snapshot for the current billing period.
// ?refresh=true bypasses both cache levels.
func (h *Handler) GetUsage(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == uuid.Nil {
		abortWithError(c, apperrors.Unauthorized(""))
		return
	}

	forceRefresh := c.Query("refresh") == "true"
	usage, err := h.cache.GetUsage(c.Request.Context(), userID, forceRefresh)
	if err != nil {
		h.logger.Error("failed to get usage",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		abortWithError(c, apperrors.Unavailable("usage temporarily unavailable"))
		return
	}

	c.JSON(http.StatusOK, usage)
}

// GetWarnings returns the active usage warnings for the user.
func (h *Handler) GetWarnings(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == uuid.Nil {
		abortWithError(c, apperrors.Unauthorized(""))
		return
	}

	usage, err := h.cache.GetUsage(c.Request.Context(), userID, false)
	if err != nil {
		h.logger.Error("failed to get usage for warnings",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		abortWithError(c, apperrors.Unavailable("warnings temporarily unavailable"))
		return
	}

	warnings := ClassifyUsage(usage, usage.Tier)
	if warnings == nil {
		warnings = []UsageWarning{}
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings})
}

// TrackUsage queues a usage event. Always accepted; the event is
// forwarded asynchronously.
func (h *Handler) TrackUsage(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == uuid.Nil {
		abortWithError(c, apperrors.Unauthorized(""))
		return
	}

	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if !validResource(req.ResourceType) {
		abortWithError(c, apperrors.BadRequest("unknown resource type"))
		return
	}

	h.tracker.Track(userID, req.ResourceType, req.Amount, req.Metadata)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// ListPlans returns the tier catalog.
func (h *Handler) ListPlans(c *gin.Context) {
	tiers := h.catalog.Tiers()
	plans := make([]PlanView, 0, len(tiers))
	for _, tier := range tiers {
		view := PlanView{
			Tier:   tier,
			Limits: h.catalog.GetLimits(tier),
		}
		if view.Limits.BillingPeriod == BillingPeriodYear {
			view.YearlySavingsCents = h.catalog.YearlySavings(h.catalog.BaseTier(tier))
		}
		plans = append(plans, view)
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func validResource(resource ResourceType) bool {
	switch resource {
	case ResourceImage, ResourceVideo, ResourceChatTokens,
		ResourceStorage, ResourceProject, ResourceTeamMember, ResourceExport:
		return true
	default:
		return false
	}
}
