package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/approval"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	orchestrator  *approval.Orchestrator
	connectors    *erp.Manager
	notifications *repository.NotificationRepository
	logger        *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	orchestrator *approval.Orchestrator,
	connectors *erp.Manager,
	notifications *repository.NotificationRepository,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		orchestrator:  orchestrator,
		connectors:    connectors,
		notifications: notifications,
		logger:        logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecisionResponse represents an approval decision in API responses
type DecisionResponse struct {
	ID               string   `json:"id"`
	ERPRequisitionID string   `json:"erp_requisition_id"`
	RiskScore        float64  `json:"risk_score"`
	RiskExplanation  string   `json:"risk_explanation"`
	Outcome          string   `json:"outcome"`
	State            string   `json:"state"`
	CommitAt         string   `json:"commit_at"`
	Comment          string   `json:"comment"`
	ProductName      string   `json:"product_name,omitempty"`
	Material         string   `json:"material,omitempty"`
	Quantity         *float64 `json:"quantity,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	TotalAmount      *float64 `json:"total_amount,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Plant            string   `json:"plant,omitempty"`
	CommittedAt      *string  `json:"committed_at,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// NotificationResponse represents a notification log entry
type NotificationResponse struct {
	ID               int64  `json:"id"`
	ERPRequisitionID string `json:"erp_requisition_id"`
	Outcome          string `json:"outcome"`
	Channel          string `json:"channel"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	CreatedAt        string `json:"created_at"`
}

// ActionRequest carries the optional free-text note on manual actions
type ActionRequest struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

// BatchRequest lists the requisitions a bulk manual action applies to
type BatchRequest struct {
	IDs     []string `json:"ids"`
	Comment string   `json:"comment"`
}

// BatchItemResult reports one item of a bulk action
type BatchItemResult struct {
	ERPRequisitionID string `json:"erp_requisition_id"`
	Success          bool   `json:"success"`
	Message          string `json:"message"`
}

// BatchResult summarizes a bulk approve or reject
type BatchResult struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	erpHealth := h.connectors.Current().HealthCheck(c.Request.Context())

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"erp_mode":  h.connectors.Mode(),
			"erp":       erpHealth,
		},
	})
}

// Detect handles POST /api/v1/detect. Optional query parameters
// "filter" and "top" are passed through to the connector.
func (h *Handlers) Detect(c *gin.Context) {
	filters := map[string]string{}
	if v := c.Query("filter"); v != "" {
		filters["filter"] = v
	}
	if v := c.Query("top"); v != "" {
		filters["top"] = v
	}

	staged := h.orchestrator.DetectAndStage(c.Request.Context(), filters)

	out := make([]DecisionResponse, 0, len(staged))
	for _, d := range staged {
		out = append(out, toDecisionResponse(d))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"staged":    len(out),
			"decisions": out,
		},
	})
}

// ListDecisions handles GET /api/v1/decisions
func (h *Handlers) ListDecisions(c *gin.Context) {
	state := c.Query("state")
	switch state {
	case "", models.StateDetected, models.StatePendingCommit,
		models.StateCommitted, models.StateCancelled, models.StateFailed:
	default:
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "unknown lifecycle state: " + state,
		})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "limit must be an integer between 1 and 500",
			})
			return
		}
		limit = n
	}

	decisions, err := h.orchestrator.List(state, limit)
	if err != nil {
		h.logger.Error("Failed to list decisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve decisions",
		})
		return
	}

	out := make([]DecisionResponse, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, toDecisionResponse(d))
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetDecision handles GET /api/v1/decisions/:id
func (h *Handlers) GetDecision(c *gin.Context) {
	d, err := h.orchestrator.Get(c.Param("id"))
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toDecisionResponse(d)})
}

// Undo handles POST /api/v1/undo/:erp_requisition_id
func (h *Handlers) Undo(c *gin.Context) {
	d, err := h.orchestrator.Undo(c.Request.Context(), c.Param("erp_requisition_id"))
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toDecisionResponse(d)})
}

// Approve handles POST /api/v1/approve/:erp_requisition_id
func (h *Handlers) Approve(c *gin.Context) {
	var req ActionRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.orchestrator.Approve(c.Request.Context(), c.Param("erp_requisition_id"), req.Comment)
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toDecisionResponse(d)})
}

// Reject handles POST /api/v1/reject/:erp_requisition_id
func (h *Handlers) Reject(c *gin.Context) {
	var req ActionRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.orchestrator.Reject(c.Request.Context(), c.Param("erp_requisition_id"), req.Reason)
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toDecisionResponse(d)})
}

// BatchApprove handles POST /api/v1/batch/approve
func (h *Handlers) BatchApprove(c *gin.Context) {
	h.batchAction(c, "Approved", func(ctx context.Context, erpRef, comment string) error {
		_, err := h.orchestrator.Approve(ctx, erpRef, comment)
		return err
	})
}

// BatchReject handles POST /api/v1/batch/reject
func (h *Handlers) BatchReject(c *gin.Context) {
	h.batchAction(c, "Rejected", func(ctx context.Context, erpRef, comment string) error {
		_, err := h.orchestrator.Reject(ctx, erpRef, comment)
		return err
	})
}

// batchAction applies act to every listed requisition. One item's
// failure never aborts the rest; each gets its own result entry.
func (h *Handlers) batchAction(c *gin.Context, okMessage string, act func(context.Context, string, string) error) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "ids list cannot be empty",
		})
		return
	}

	out := BatchResult{Results: make([]BatchItemResult, 0, len(req.IDs))}
	for _, erpRef := range req.IDs {
		err := act(c.Request.Context(), erpRef, req.Comment)
		switch {
		case err == nil:
			out.Processed++
			out.Results = append(out.Results, BatchItemResult{
				ERPRequisitionID: erpRef,
				Success:          true,
				Message:          okMessage,
			})
		case errors.Is(err, approval.ErrDecisionNotFound):
			out.Failed++
			out.Results = append(out.Results, BatchItemResult{
				ERPRequisitionID: erpRef,
				Success:          false,
				Message:          "No pending decision found",
			})
		default:
			h.logger.Error("Batch action failed",
				zap.String("erp_requisition_id", erpRef),
				zap.Error(err))
			out.Failed++
			out.Results = append(out.Results, BatchItemResult{
				ERPRequisitionID: erpRef,
				Success:          false,
				Message:          "internal error",
			})
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := h.notifications.List(limit)
	if err != nil {
		h.logger.Error("Failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve notifications",
		})
		return
	}

	out := make([]NotificationResponse, 0, len(logs))
	for _, n := range logs {
		out = append(out, NotificationResponse{
			ID:               n.ID,
			ERPRequisitionID: n.ERPRequisitionID,
			Outcome:          n.Outcome,
			Channel:          n.Channel,
			Status:           n.Status,
			Message:          n.Message,
			CreatedAt:        n.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// SwitchAdapter handles POST /api/v1/switch-adapter?mode=
func (h *Handlers) SwitchAdapter(c *gin.Context) {
	mode := c.Query("mode")
	if mode == "" {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "mode query parameter is required",
		})
		return
	}

	if err := h.connectors.Switch(c.Request.Context(), mode); err != nil {
		h.logger.Error("Connector switch failed",
			zap.String("mode", mode),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"mode": h.connectors.Mode(),
			"erp":  h.connectors.Current().HealthCheck(c.Request.Context()),
		},
	})
}

func (h *Handlers) respondTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, approval.ErrDecisionNotFound):
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "no eligible decision found",
		})
	default:
		h.logger.Error("Decision operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "internal error",
		})
	}
}

func toDecisionResponse(d *models.ApprovalDecision) DecisionResponse {
	resp := DecisionResponse{
		ID:               d.ID,
		ERPRequisitionID: d.ERPRequisitionID,
		RiskScore:        d.RiskScore,
		RiskExplanation:  d.RiskExplanation,
		Outcome:          d.Outcome,
		State:            d.State,
		CommitAt:         d.CommitAt.Format(time.RFC3339),
		Comment:          d.Comment,
		ProductName:      d.ProductName,
		Material:         d.Material,
		Quantity:         d.Quantity,
		Unit:             d.Unit,
		Price:            d.Price,
		TotalAmount:      d.TotalAmount,
		Currency:         d.Currency,
		Plant:            d.Plant,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        d.UpdatedAt.Format(time.RFC3339),
	}
	if d.CommittedAt != nil {
		committedAt := d.CommittedAt.Format(time.RFC3339)
		resp.CommittedAt = &committedAt
	}
	return resp
}
