package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"elevate-engine/pkg/db/pagination"
	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/health"
	"elevate-engine/pkg/middleware"
	"elevate-engine/services/badge"
	"elevate-engine/services/ledger"
	"elevate-engine/services/submission"
	"elevate-engine/services/webhook"
)

type Handler struct {
	submissions *submission.Service
	ledger      *ledger.Service
	badges      *badge.Service
	webhooks    *webhook.Service
	dispatcher  *webhook.Dispatcher
}

type Params struct {
	fx.In
	Health      health.HealthService
	Submissions *submission.Service
	Ledger      *ledger.Service
	Badges      *badge.Service
	Webhooks    *webhook.Service
	Dispatcher  *webhook.Dispatcher
}

// NewRouter wires the engine behind a thin gin surface. Handlers only
// translate between HTTP and the services; every decision lives below.
func NewRouter(p Params) http.Handler {
	h := &Handler{
		submissions: p.Submissions,
		ledger:      p.Ledger,
		badges:      p.Badges,
		webhooks:    p.Webhooks,
		dispatcher:  p.Dispatcher,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	r.POST("/webhooks/kajabi", h.handleKajabi)

	v1 := r.Group("/v1")
	v1.POST("/submissions/:id/review", h.reviewSubmission)
	v1.POST("/submissions/bulk-review", h.bulkReview)
	v1.GET("/educators/:id/points", h.educatorPoints)
	v1.GET("/educators/:id/ledger", h.educatorLedger)
	v1.GET("/educators/:id/ledger/verify", h.verifyLedger)
	v1.GET("/educators/:id/badges", h.educatorBadges)

	return r
}

// handleKajabi stores the event and acknowledges receipt. The provider
// retries non-2xx deliveries, so once the event row is persisted the
// answer is 200 even if the enqueue fails; the pending scan picks up
// stragglers.
func (h *Handler) handleKajabi(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.BadRequest("unreadable body", err))
		return
	}

	incoming, err := webhook.ParseIncoming(raw)
	if err != nil {
		c.Error(errutil.BadRequest("malformed event payload", err))
		return
	}

	event, err := h.webhooks.Ingest(c.Request.Context(), *incoming, raw)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.dispatcher.EnqueueReconcile(event.ID); err != nil {
		zap.L().Warn("failed to enqueue reconciliation; event stored for the pending scan",
			zap.String("event_id", event.EventID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received", "id": event.ID})
}

type reviewRequest struct {
	Action          string `json:"action" binding:"required"`
	ReviewerID      string `json:"reviewer_id" binding:"required"`
	ReviewNote      string `json:"review_note"`
	PointAdjustment *int64 `json:"point_adjustment"`
}

func (h *Handler) reviewSubmission(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid review request", err))
		return
	}

	result, err := h.submissions.Review(c.Request.Context(), submission.ReviewParams{
		SubmissionID:    c.Param("id"),
		Action:          submission.Action(req.Action),
		ReviewerID:      req.ReviewerID,
		ReviewNote:      req.ReviewNote,
		PointAdjustment: req.PointAdjustment,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission_id":  result.Submission.ID,
		"status":         result.Submission.Status,
		"delta_points":   result.DeltaPoints,
		"warnings":       result.Warnings,
		"awarded_badges": result.AwardedBadges,
	})
}

type bulkReviewRequest struct {
	SubmissionIDs []string `json:"submission_ids" binding:"required"`
	Action        string   `json:"action" binding:"required"`
	ReviewerID    string   `json:"reviewer_id" binding:"required"`
	ReviewNote    string   `json:"review_note"`
}

func (h *Handler) bulkReview(c *gin.Context) {
	var req bulkReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid bulk review request", err))
		return
	}

	result := h.submissions.BulkReview(c.Request.Context(),
		req.SubmissionIDs, submission.Action(req.Action), req.ReviewerID, req.ReviewNote)

	c.JSON(http.StatusOK, result)
}

func (h *Handler) educatorPoints(c *gin.Context) {
	userID := c.Param("id")

	total, err := h.ledger.TotalForUser(c.Request.Context(), nil, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "total_points": total})
}

func (h *Handler) educatorLedger(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	result, err := h.ledger.ListForUser(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":   result.Entries,
		"page_info": result.PageInfo,
	})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	userID := c.Param("id")

	valid, err := h.ledger.VerifyChain(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "valid": valid})
}

func (h *Handler) educatorBadges(c *gin.Context) {
	earned, err := h.badges.ListForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"badges": earned})
}

var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
)
