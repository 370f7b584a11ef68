package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/notification"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

// Stored error text is truncated to keep rows bounded
const errorMessageMaxLen = 500

// Stats summarizes one commit pass.
type Stats struct {
	Total     int `json:"total"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CommitWorker periodically pushes due pending_commit decisions to the
// ERP. A pass persists all its changes in one transaction, and each row
// is re-read under that transaction, so a decision cancelled or
// committed between candidate listing and processing is skipped
// silently.
type CommitWorker struct {
	db         *database.DB
	decisions  *repository.DecisionRepository
	connectors *erp.Manager
	notifier   *notification.Notifier
	logger     *zap.Logger

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewCommitWorker creates a commit worker ticking at interval.
func NewCommitWorker(
	db *database.DB,
	decisions *repository.DecisionRepository,
	connectors *erp.Manager,
	notifier *notification.Notifier,
	interval time.Duration,
	logger *zap.Logger,
) *CommitWorker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &CommitWorker{
		db:         db,
		decisions:  decisions,
		connectors: connectors,
		notifier:   notifier,
		logger:     logger,
		interval:   interval,
		now:        time.Now,
	}
}

// Name returns the worker name for identification
func (w *CommitWorker) Name() string {
	return "CommitWorker"
}

// Start starts the commit loop
func (w *CommitWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("commit worker is already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.startTime = time.Now()

	w.logger.Info("CommitWorker started",
		zap.Duration("interval", w.interval))

	go w.loop()
	return nil
}

// Stop stops the commit loop
func (w *CommitWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return
	}

	w.isRunning = false
	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("CommitWorker stopped")
}

func (w *CommitWorker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.tick()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Commit loop context cancelled")
			return

		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *CommitWorker) tick() {
	stats, err := w.RunOnce(w.ctx)
	if err != nil {
		w.logger.Error("Commit pass failed", zap.Error(err))
		return
	}
	if stats.Total > 0 {
		w.logger.Info("Commit pass completed",
			zap.Int("total", stats.Total),
			zap.Int("committed", stats.Committed),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped))
	}
}

// RunOnce executes a single commit pass over all currently due
// decisions and reports what happened to each.
func (w *CommitWorker) RunOnce(ctx context.Context) (Stats, error) {
	candidates, err := w.decisions.ListPendingCommits(w.now().UTC())
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list due decisions: %w", err)
	}
	if len(candidates) == 0 {
		return Stats{}, nil
	}

	conn := w.connectors.Current()
	if err := conn.Connect(ctx); err != nil {
		return Stats{Total: len(candidates)}, fmt.Errorf("ERP connect failed: %w", err)
	}

	return w.commitBatch(ctx, candidates, conn)
}

// commitBatch processes the candidates in commit_at order inside a
// single transaction. A submit failure only fails that row; a store
// failure rolls the whole tick back so the next tick retries from the
// same state.
func (w *CommitWorker) commitBatch(ctx context.Context, candidates []*models.ApprovalDecision, conn erp.Connector) (Stats, error) {
	stats := Stats{Total: len(candidates)}

	err := w.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, candidate := range candidates {
			d, err := w.decisions.GetByID(tx, candidate.ID)
			if err != nil {
				return err
			}
			// Re-read under the transaction: the row may have been
			// cancelled or committed since it was listed.
			if d == nil || d.State != models.StatePendingCommit {
				stats.Skipped++
				continue
			}

			w.apply(ctx, d, conn)
			d.UpdatedAt = w.now().UTC()
			if err := w.decisions.Update(tx, d); err != nil {
				return err
			}

			if d.State == models.StateCommitted {
				w.notifier.Dispatch(ctx, tx, d)
				stats.Committed++
			} else {
				stats.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return Stats{Total: len(candidates)}, fmt.Errorf("commit pass rolled back: %w", err)
	}
	return stats, nil
}

// apply submits the decision and moves it to its terminal state.
func (w *CommitWorker) apply(ctx context.Context, d *models.ApprovalDecision, conn erp.Connector) {
	result, err := conn.SubmitDecision(ctx, d.ERPRequisitionID, d.Outcome, d.Comment)
	now := w.now().UTC()

	if err != nil {
		d.State = models.StateFailed
		d.ErrorMessage = truncateError(err.Error())
		w.logger.Error("ERP submit failed",
			zap.String("decision_id", d.ID),
			zap.String("erp_requisition_id", d.ERPRequisitionID),
			zap.Error(err))
		return
	}

	if !result.Accepted() {
		d.State = models.StateFailed
		d.ErrorMessage = truncateError(result.Message)
		w.logger.Error("ERP rejected decision",
			zap.String("decision_id", d.ID),
			zap.String("erp_requisition_id", d.ERPRequisitionID),
			zap.String("status", result.Status),
			zap.String("message", result.Message))
		return
	}

	d.State = models.StateCommitted
	d.CommittedAt = &now
	d.ErrorMessage = ""
	if result.Status == erp.StatusAlreadyProcessed {
		d.Comment += " [ERP reported already processed]"
	}

	w.logger.Info("Decision committed",
		zap.String("decision_id", d.ID),
		zap.String("erp_requisition_id", d.ERPRequisitionID),
		zap.String("outcome", d.Outcome),
		zap.String("submit_status", result.Status))
}

// truncateError bounds stored error text, cutting on a rune boundary.
func truncateError(s string) string {
	if len(s) <= errorMessageMaxLen {
		return s
	}
	cut := errorMessageMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
