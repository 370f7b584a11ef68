package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/notification"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/risk"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

// Outcome thresholds on the 0-100 risk score.
const (
	autoApproveBelow = 30.0
	holdAtOrAbove    = 70.0
)

// ErrDecisionNotFound indicates no eligible decision exists for the
// operation. Terminal rows are not eligible, so acting on an already
// committed, cancelled or failed decision reports not found rather
// than resurrecting the row.
var ErrDecisionNotFound = errors.New("no eligible decision found")

// Config holds staging behavior settings.
type Config struct {
	// GracePeriod is the undo window between detection and the earliest
	// permitted commit.
	GracePeriod time.Duration

	// AutoCommitEnabled controls whether new decisions are staged as
	// pending_commit (picked up by the commit worker) or parked as
	// detected awaiting a manual action.
	AutoCommitEnabled bool
}

// Orchestrator runs the detect -> score -> stage pipeline and the manual
// decision operations. It owns the decision lifecycle; the commit worker
// only moves pending_commit rows forward.
type Orchestrator struct {
	cfg        Config
	db         *database.DB
	decisions  *repository.DecisionRepository
	engine     *risk.Engine
	connectors *erp.Manager
	notifier   *notification.Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(
	cfg Config,
	db *database.DB,
	decisions *repository.DecisionRepository,
	engine *risk.Engine,
	connectors *erp.Manager,
	notifier *notification.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		db:         db,
		decisions:  decisions,
		engine:     engine,
		connectors: connectors,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// OutcomeForScore maps a risk score to a decision outcome.
func OutcomeForScore(score float64) string {
	switch {
	case score < autoApproveBelow:
		return models.OutcomeAutoApprove
	case score < holdAtOrAbove:
		return models.OutcomeManualApprove
	default:
		return models.OutcomeHold
	}
}

// DetectAndStage fetches pending requisitions from the active connector,
// scores each one, and stages a decision per requisition that has no
// active decision yet. A single requisition's processing failure is
// logged and skipped without aborting the batch; the whole batch is then
// persisted in one transaction, so a storage failure yields an empty
// result rather than a partial list. Fetch failures are logged and yield
// an empty batch rather than an error; the next cycle retries naturally.
func (o *Orchestrator) DetectAndStage(ctx context.Context, filters map[string]string) []*models.ApprovalDecision {
	conn := o.connectors.Current()
	if err := conn.Connect(ctx); err != nil {
		o.logger.Error("ERP connect failed, skipping detection cycle",
			zap.String("connector", conn.Name()),
			zap.Error(err))
		return nil
	}

	reqs, err := conn.FetchPending(ctx, filters)
	if err != nil {
		o.logger.Error("Failed to fetch pending requisitions",
			zap.String("connector", conn.Name()),
			zap.Error(err))
		return nil
	}

	staged := make([]*models.ApprovalDecision, 0, len(reqs))
	for _, req := range reqs {
		if req.ERPRequisitionID == "" || req.Missing {
			continue
		}

		active, err := o.decisions.HasActive(req.ERPRequisitionID)
		if err != nil {
			o.logger.Error("Active decision lookup failed",
				zap.String("erp_requisition_id", req.ERPRequisitionID),
				zap.Error(err))
			continue
		}
		if active {
			o.logger.Debug("Requisition already has an active decision",
				zap.String("erp_requisition_id", req.ERPRequisitionID))
			continue
		}

		staged = append(staged, o.buildDecision(req))
	}

	if len(staged) > 0 {
		err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
			for _, decision := range staged {
				if err := o.decisions.Create(tx, decision); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			o.logger.Error("Failed to stage detection batch",
				zap.Int("count", len(staged)),
				zap.Error(err))
			return nil
		}

		for _, decision := range staged {
			o.logger.Info("Decision staged",
				zap.String("decision_id", decision.ID),
				zap.String("erp_requisition_id", decision.ERPRequisitionID),
				zap.Float64("risk_score", decision.RiskScore),
				zap.String("outcome", decision.Outcome),
				zap.String("state", decision.State),
				zap.Time("commit_at", decision.CommitAt))
		}
	}

	o.logger.Info("Detection cycle complete",
		zap.Int("fetched", len(reqs)),
		zap.Int("staged", len(staged)))
	return staged
}

func (o *Orchestrator) buildDecision(req models.Requisition) *models.ApprovalDecision {
	now := o.now().UTC()
	score := o.engine.Score(req)
	outcome := OutcomeForScore(score)

	state := models.StateDetected
	if o.cfg.AutoCommitEnabled {
		state = models.StatePendingCommit
	}

	d := &models.ApprovalDecision{
		ID:               uuid.NewString(),
		ERPRequisitionID: req.ERPRequisitionID,
		RiskScore:        score,
		RiskExplanation:  o.engine.Explain(req, score),
		Outcome:          outcome,
		State:            state,
		// Set regardless of auto-commit so enabling it later does not
		// shorten any decision's undo window.
		CommitAt:    now.Add(o.cfg.GracePeriod),
		Comment:     stagingComment(outcome, score),
		ProductName: req.Description,
		Material:    req.Material,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Price:       req.Price,
		Currency:    req.Currency,
		Plant:       req.Plant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if total, ok := req.TotalValue(); ok {
		d.TotalAmount = &total
	}
	return d
}

func stagingComment(outcome string, score float64) string {
	switch outcome {
	case models.OutcomeAutoApprove:
		return fmt.Sprintf("Low risk (score: %.2f) - auto-approved", score)
	case models.OutcomeManualApprove:
		return fmt.Sprintf("Medium risk (score: %.2f) - requires manager review", score)
	default:
		return fmt.Sprintf("High risk (score: %.2f) - held for audit", score)
	}
}

// Undo cancels the most recent active decision for the requisition,
// closing its undo window. Terminal decisions are never resurrected.
func (o *Orchestrator) Undo(ctx context.Context, erpRequisitionID string) (*models.ApprovalDecision, error) {
	return o.transition(ctx, erpRequisitionID, func(d *models.ApprovalDecision) {
		d.State = models.StateCancelled
		d.Comment += " [Cancelled by user]"
	})
}

// Approve records a manual approval on the most recent active decision
// and finalizes it without waiting for the grace period.
func (o *Orchestrator) Approve(ctx context.Context, erpRequisitionID, comment string) (*models.ApprovalDecision, error) {
	return o.transition(ctx, erpRequisitionID, func(d *models.ApprovalDecision) {
		now := o.now().UTC()
		d.Outcome = models.OutcomeManualApprove
		d.State = models.StateCommitted
		d.CommittedAt = &now
		if comment != "" {
			d.Comment += " | Approved: " + comment
		} else {
			d.Comment += " | Manually approved by manager"
		}
	})
}

// Reject records a manual rejection on the most recent active decision
// and finalizes it.
func (o *Orchestrator) Reject(ctx context.Context, erpRequisitionID, reason string) (*models.ApprovalDecision, error) {
	return o.transition(ctx, erpRequisitionID, func(d *models.ApprovalDecision) {
		now := o.now().UTC()
		d.Outcome = models.OutcomeReject
		d.State = models.StateCommitted
		d.CommittedAt = &now
		if reason != "" {
			d.Comment += " | Rejected: " + reason
		} else {
			d.Comment += " | Manually rejected by manager"
		}
	})
}

// transition applies mutate to the requisition's most recent active
// decision inside one transaction, resolving the row under the
// transaction so concurrent actors cannot both move it.
func (o *Orchestrator) transition(ctx context.Context, erpRequisitionID string, mutate func(*models.ApprovalDecision)) (*models.ApprovalDecision, error) {
	var result *models.ApprovalDecision
	err := o.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		d, err := o.decisions.LatestActive(tx, erpRequisitionID)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrDecisionNotFound
		}

		mutate(d)
		d.UpdatedAt = o.now().UTC()
		if err := o.decisions.Update(tx, d); err != nil {
			return err
		}
		// Notifications are a post-commit side effect; undo ends a
		// decision without one.
		if d.State == models.StateCommitted {
			o.notifier.Dispatch(ctx, tx, d)
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Decision transitioned",
		zap.String("decision_id", result.ID),
		zap.String("erp_requisition_id", result.ERPRequisitionID),
		zap.String("state", result.State),
		zap.String("outcome", result.Outcome))
	return result, nil
}

// List returns decisions, optionally filtered to one lifecycle state.
func (o *Orchestrator) List(state string, limit int) ([]*models.ApprovalDecision, error) {
	return o.decisions.List(state, limit)
}

// Get returns one decision by id.
func (o *Orchestrator) Get(id string) (*models.ApprovalDecision, error) {
	d, err := o.decisions.GetByID(nil, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDecisionNotFound
	}
	return d, nil
}
