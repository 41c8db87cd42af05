// Package api exposes the trust engine over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/actions"
	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// #region handler
// Handler serves the trust endpoints.
type Handler struct {
	Ledger  *ledger.Ledger
	Actions *actions.Handlers
	Now     func() time.Time
}

// NewRouter builds the gin engine with every route registered. A nil
// gatherer leaves /metrics unregistered; a nil logger discards request logs.
func NewRouter(h *Handler, logger *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	logger = logging.OrNop(logger)
	r := gin.New()
	r.Use(RequestLogger(logger), Recovery(logger))

	r.GET("/healthz", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", h.CreateUser)
		v1.GET("/users/:id/history", h.History)
		v1.GET("/users/:id/restrictions", h.UserRestrictions)
		v1.POST("/users/:id/reset", h.Reset)
		v1.GET("/restrictions", h.Restrictions)
		v1.POST("/trust/apply", h.Apply)
		v1.POST("/chores/:id/complete", h.CompleteChore)
		v1.POST("/disputes/resolve", h.ResolveDispute)
		v1.POST("/rooms/:id/sweep", h.Sweep)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// #endregion handler

// #region users
type createUserRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// CreateUser initializes a user's trust record.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	u, err := h.Ledger.CreateUser(c.Request.Context(), req.UserID, req.RoomID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"userId": u.UserID, "score": u.Score(), "updatedAt": u.UpdatedAt})
}

// History returns the user's audit trail, most recent first.
func (h *Handler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit", "must be a non-negative integer")
			return
		}
		limit = n
	}
	userID := c.Param("id")
	recs, err := h.Ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "history": recs})
}

// UserRestrictions evaluates the gate at the user's current score.
func (h *Handler) UserRestrictions(c *gin.Context) {
	r, err := h.Ledger.Restrictions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Restrictions evaluates the gate for an explicit score.
func (h *Handler) Restrictions(c *gin.Context) {
	score, err := strconv.Atoi(c.Query("score"))
	if err != nil {
		badRequest(c, "score", "must be an integer")
		return
	}
	c.JSON(http.StatusOK, h.Ledger.Gate().Evaluate(score))
}

type resetRequest struct {
	RoomID   string `json:"roomId"`
	NewScore *int   `json:"newScore"`
	Reason   string `json:"reason"`
	ResetBy  string `json:"resetBy"`
}

// Reset sets a user's score directly.
func (h *Handler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.NewScore == nil {
		badRequest(c, "newScore", "required")
		return
	}
	userID := c.Param("id")
	err := h.Actions.ManualReset(c.Request.Context(), ledger.Reset{
		UserID:   userID,
		RoomID:   req.RoomID,
		NewScore: *req.NewScore,
		Reason:   req.Reason,
		ResetBy:  req.ResetBy,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "score": trust.Clamp(*req.NewScore)})
}

// #endregion users

// #region trust
type applyRequest struct {
	UserID    string         `json:"userId"`
	RoomID    string         `json:"roomId"`
	Action    string         `json:"action"`
	Reason    string         `json:"reason"`
	RelatedID string         `json:"relatedId"`
	CreatedBy string         `json:"createdBy"`
	Context   policy.Context `json:"context"`
}

// Apply runs one trust change through the ledger.
func (h *Handler) Apply(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	action, ok := trust.ParseActionType(req.Action)
	if !ok {
		badRequest(c, "action", "unknown action "+strconv.Quote(req.Action))
		return
	}
	score, err := h.Ledger.Apply(c.Request.Context(), ledger.Change{
		UserID:    req.UserID,
		RoomID:    req.RoomID,
		Action:    action,
		Reason:    req.Reason,
		RelatedID: req.RelatedID,
		CreatedBy: req.CreatedBy,
		Context:   req.Context,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"score": score})
}

// #endregion trust

// #region handlers
type completeRequest struct {
	UserID string `json:"userId"`
}

// CompleteChore marks a chore done and credits the completer.
func (h *Handler) CompleteChore(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	res, err := h.Actions.CompleteChore(c.Request.Context(), actions.CompleteChore{
		ChoreID: c.Param("id"),
		UserID:  req.UserID,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

type disputeRequest struct {
	ChoreID     string `json:"choreId"`
	RoomID      string `json:"roomId"`
	CompleterID string `json:"completerId"`
	DisputerID  string `json:"disputerId"`
	Valid       *bool  `json:"isValidDispute"`
	ResolvedBy  string `json:"resolvedBy"`
}

// ResolveDispute applies a dispute verdict. The verdict must be explicit.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.Valid == nil {
		badRequest(c, "isValidDispute", "required")
		return
	}
	res, err := h.Actions.ResolveDispute(c.Request.Context(), actions.Dispute{
		ChoreID:     req.ChoreID,
		RoomID:      req.RoomID,
		CompleterID: req.CompleterID,
		DisputerID:  req.DisputerID,
		Valid:       *req.Valid,
		ResolvedBy:  req.ResolvedBy,
	})
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type sweepRequest struct {
	At *time.Time `json:"at"`
}

// Sweep runs the weekly consistency sweep for a room. The optional "at"
// selects the week; it defaults to now.
func (h *Handler) Sweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "body", err.Error())
			return
		}
	}
	at := h.now()
	if req.At != nil {
		at = *req.At
	}
	res, err := h.Actions.WeeklySweep(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		writeError(c, err, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// #endregion handlers
