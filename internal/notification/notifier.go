package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
)

// larkSendTimeout bounds each outbound Lark call independently of the
// caller's context so a slow chat API cannot stall the commit worker.
const larkSendTimeout = 10 * time.Second

// Notifier records decision notifications. Email and Slack delivery is
// simulated as audit rows; Lark is a real channel when configured.
// Notification failures never propagate to the caller: a decision
// that committed stays committed even if nobody could be told.
type Notifier struct {
	repo   *repository.NotificationRepository
	lark   *LarkChannel
	logger *zap.Logger
	now    func() time.Time
}

// NewNotifier creates a notifier. lark may be nil to disable the
// live channel.
func NewNotifier(repo *repository.NotificationRepository, lark *LarkChannel, logger *zap.Logger) *Notifier {
	return &Notifier{
		repo:   repo,
		lark:   lark,
		logger: logger,
		now:    time.Now,
	}
}

// Dispatch records post-commit notifications for a decision. Callers
// invoke it only once a decision reaches committed. When tx is non-nil
// the simulated channel rows join the caller's transaction so they
// appear atomically with the state change they describe.
func (n *Notifier) Dispatch(ctx context.Context, tx *sql.Tx, d *models.ApprovalDecision) {
	message := formatDecisionMessage(d)

	for _, channel := range []string{models.ChannelEmail, models.ChannelSlack} {
		n.record(tx, d, channel, models.NotificationSent, message)
	}

	if n.lark == nil {
		return
	}

	larkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), larkSendTimeout)
	defer cancel()

	status := models.NotificationSent
	if _, err := n.lark.Send(larkCtx, message); err != nil {
		status = models.NotificationFailed
		n.logger.Warn("Lark notification failed",
			zap.String("erp_requisition_id", d.ERPRequisitionID),
			zap.Error(err))
	}
	n.record(tx, d, models.ChannelLark, status, message)
}

func (n *Notifier) record(tx *sql.Tx, d *models.ApprovalDecision, channel, status, message string) {
	log := &models.NotificationLog{
		ERPRequisitionID: d.ERPRequisitionID,
		Outcome:          d.Outcome,
		Channel:          channel,
		Status:           status,
		Message:          message,
		CreatedAt:        n.now().UTC(),
	}
	if err := n.repo.Create(tx, log); err != nil {
		n.logger.Warn("Failed to record notification",
			zap.String("erp_requisition_id", d.ERPRequisitionID),
			zap.String("channel", channel),
			zap.Error(err))
	}
}

func formatDecisionMessage(d *models.ApprovalDecision) string {
	return fmt.Sprintf("Requisition %s: %s [%s] (risk score %.1f) %s",
		d.ERPRequisitionID, d.Outcome, d.State, d.RiskScore, d.Comment)
}
