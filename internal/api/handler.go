// Package api exposes the engine's administrative REST surface: limit and
// risk checks for the orchestrator, directory management, case management,
// and aggregate metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/cases"
	"github.com/meridianpay/riskengine/internal/compliance"
	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/models"
)

// Handler provides the REST endpoints over the compliance service.
type Handler struct {
	svc    *compliance.Service
	logger *zap.SugaredLogger
}

// NewHandler creates an API handler.
func NewHandler(svc *compliance.Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers all engine routes on the router. The admin group
// carries the supplied middleware (auth), the check endpoints do not.
func (h *Handler) RegisterRoutes(r *gin.Engine, adminMiddleware ...gin.HandlerFunc) {
	api := r.Group("/api/v1/risk")

	api.GET("/health", h.Health)

	checks := api.Group("/check")
	{
		checks.POST("/limit", h.CheckLimit)
		checks.POST("/analyze", h.Analyze)
		checks.POST("/transaction", h.ProcessTransaction)
		checks.POST("/record", h.RecordTransaction)
	}

	admin := api.Group("/admin", adminMiddleware...)
	{
		admin.POST("/directory/entries", h.AddDirectoryEntry)
		admin.DELETE("/directory/entries", h.RemoveDirectoryEntry)
		admin.GET("/directory/entries", h.ListDirectoryEntries)
		admin.GET("/directory/audit", h.DirectoryAudit)
		admin.POST("/directory/screen", h.ScreenEntity)

		admin.GET("/cases", h.ListCases)
		admin.GET("/cases/:case_id", h.GetCase)
		admin.PUT("/cases/:case_id", h.UpdateCase)

		admin.GET("/metrics", h.EngineMetrics)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type limitCheckRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Type   string `json:"type" binding:"required"`
}

// CheckLimit runs an advisory rolling-limit check.
func (h *Handler) CheckLimit(c *gin.Context) {
	var req limitCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.CheckTransactionLimit(c.Request.Context(), req.UserID, amount, models.TransactionType(req.Type))
	if err != nil {
		if le, ok := models.IsLimitExceeded(err); ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "limit exceeded",
				"period":    le.Period,
				"limit":     le.Limit.StringFixed(2),
				"current":   le.CurrentVolume.StringFixed(2),
				"remaining": le.Remaining.StringFixed(2),
				"result":    res,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transactionRequest struct {
	TransactionID     string `json:"transaction_id"`
	UserID            string `json:"user_id" binding:"required"`
	Type              string `json:"type" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	Currency          string `json:"currency"`
	Email             string `json:"email" binding:"omitempty,email"`
	SourceWallet      string `json:"source_wallet"`
	DestinationWallet string `json:"destination_wallet"`
	BankAccount       string `json:"bank_account"`
	IP                string `json:"ip" binding:"omitempty,ip"`
}

func (r *transactionRequest) toModel() (*models.TransactionRequest, error) {
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	return &models.TransactionRequest{
		TransactionID:     r.TransactionID,
		UserID:            r.UserID,
		Type:              models.TransactionType(r.Type),
		Amount:            amount,
		Currency:          r.Currency,
		Email:             r.Email,
		SourceWallet:      r.SourceWallet,
		DestinationWallet: r.DestinationWallet,
		BankAccount:       r.BankAccount,
		IP:                r.IP,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// Analyze runs the risk analysis without touching limit state.
func (h *Handler) Analyze(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	analysis, err := h.svc.AnalyzeTransaction(c.Request.Context(), tx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// ProcessTransaction runs the combined limit-check + analysis + record path.
func (h *Handler) ProcessTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	analysis, limitRes, err := h.svc.ProcessTransaction(c.Request.Context(), tx)
	if err != nil {
		if le, ok := models.IsLimitExceeded(err); ok {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "limit exceeded",
				"period":    le.Period,
				"remaining": le.Remaining.StringFixed(2),
				"limit":     limitRes,
			})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis, "limit": limitRes})
}

type recordRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Type   string `json:"type" binding:"required"`
}

// RecordTransaction records an externally confirmed transaction.
func (h *Handler) RecordTransaction(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if err := h.svc.RecordTransaction(c.Request.Context(), req.UserID, amount, models.TransactionType(req.Type), time.Now().UTC()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

type addEntryRequest struct {
	EntityType string            `json:"entity_type" binding:"required"`
	Value      string            `json:"value" binding:"required"`
	List       string            `json:"list" binding:"required,oneof=blacklist whitelist"`
	Severity   string            `json:"severity"`
	Source     string            `json:"source" binding:"required"`
	Reason     string            `json:"reason" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
}

// AddDirectoryEntry inserts or upgrades a directory entry.
func (h *Handler) AddDirectoryEntry(c *gin.Context) {
	var req addEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.svc.Directory().Add(
		c.Request.Context(),
		directory.EntityType(req.EntityType),
		req.Value,
		directory.ListKind(req.List),
		directory.Severity(req.Severity),
		directory.Source(req.Source),
		req.Reason,
		actorFrom(c),
		req.Metadata,
	)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type removeEntryRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	Value      string `json:"value" binding:"required"`
	List       string `json:"list" binding:"required,oneof=blacklist whitelist"`
	Reason     string `json:"reason" binding:"required"`
}

// RemoveDirectoryEntry deletes a directory entry.
func (h *Handler) RemoveDirectoryEntry(c *gin.Context) {
	var req removeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.svc.Directory().Remove(
		c.Request.Context(),
		directory.EntityType(req.EntityType),
		req.Value,
		directory.ListKind(req.List),
		req.Reason,
		actorFrom(c),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListDirectoryEntries lists entries of a list kind, optionally by type.
func (h *Handler) ListDirectoryEntries(c *gin.Context) {
	kind := directory.ListKind(c.DefaultQuery("list", string(directory.ListKindBlacklist)))
	entityType := directory.EntityType(c.Query("entity_type"))
	entries, err := h.svc.Directory().List(c.Request.Context(), kind, entityType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type screenRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	Query      string `json:"query" binding:"required"`
}

// ScreenEntity fuzzy-matches an identifier against the blacklist.
func (h *Handler) ScreenEntity(c *gin.Context) {
	var req screenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	matches, err := h.svc.ScreenEntity(c.Request.Context(), directory.EntityType(req.EntityType), req.Query)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

// DirectoryAudit returns the masked audit trail.
func (h *Handler) DirectoryAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.svc.Directory().Audit(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// ListCases lists investigation cases with optional filters.
func (h *Handler) ListCases(c *gin.Context) {
	filter := cases.ListFilter{
		Status:     cases.Status(c.Query("status")),
		Priority:   models.RiskLevel(c.Query("priority")),
		UserID:     c.Query("user_id"),
		AssignedTo: c.Query("assigned_to"),
	}
	list, err := h.svc.Cases().List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": list, "count": len(list)})
}

// GetCase retrieves one case.
func (h *Handler) GetCase(c *gin.Context) {
	caseObj, err := h.svc.Cases().Get(c.Request.Context(), c.Param("case_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, caseObj)
}

type updateCaseRequest struct {
	Status     string `json:"status" binding:"omitempty,oneof=OPEN IN_PROGRESS CLOSED"`
	Priority   string `json:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

// UpdateCase patches a case; the status machine only moves forward.
func (h *Handler) UpdateCase(c *gin.Context) {
	var req updateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caseObj, err := h.svc.Cases().Update(c.Request.Context(), c.Param("case_id"), cases.UpdatePatch{
		Status:     cases.Status(req.Status),
		Priority:   models.RiskLevel(req.Priority),
		AssignedTo: req.AssignedTo,
		Notes:      req.Notes,
		UpdatedBy:  actorFrom(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, caseObj)
}

// EngineMetrics returns the aggregate administrative view.
func (h *Handler) EngineMetrics(c *gin.Context) {
	m, err := h.svc.Metrics(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// writeError maps engine error kinds onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrKycRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDependencyUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Errorw("unhandled API error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func actorFrom(c *gin.Context) string {
	if actor, ok := c.Get("actor"); ok {
		if s, ok := actor.(string); ok && s != "" {
			return s
		}
	}
	return "api"
}
