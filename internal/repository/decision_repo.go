package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

const decisionColumns = `id, erp_requisition_id, risk_score, risk_explanation,
	outcome, lifecycle_state, commit_at, comment,
	product_name, material, quantity, unit, price, total_amount, currency, plant,
	committed_at, error_message, created_at, updated_at`

// DecisionRepository handles approval decision database operations
type DecisionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionRepository creates a decision repository
func NewDecisionRepository(db *sql.DB, logger *zap.Logger) *DecisionRepository {
	return &DecisionRepository{db: db, logger: logger}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (r *DecisionRepository) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *DecisionRepository) querier(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a new decision. When tx is non-nil the insert joins the
// caller's transaction.
func (r *DecisionRepository) Create(tx *sql.Tx, d *models.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (` + decisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.execer(tx).Exec(query,
		d.ID,
		d.ERPRequisitionID,
		d.RiskScore,
		d.RiskExplanation,
		d.Outcome,
		d.State,
		d.CommitAt,
		d.Comment,
		nullString(d.ProductName),
		nullString(d.Material),
		nullFloat(d.Quantity),
		nullString(d.Unit),
		nullFloat(d.Price),
		nullFloat(d.TotalAmount),
		nullString(d.Currency),
		nullString(d.Plant),
		nullTime(d.CommittedAt),
		nullString(d.ErrorMessage),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create decision",
			zap.String("erp_requisition_id", d.ERPRequisitionID),
			zap.Error(err))
		return fmt.Errorf("failed to create decision: %w", err)
	}
	return nil
}

// GetByID retrieves a decision by its identifier. Returns (nil, nil)
// when no row exists. When tx is non-nil the read happens inside the
// caller's transaction, which is how the commit worker implements its
// double-commit guard.
func (r *DecisionRepository) GetByID(tx *sql.Tx, id string) (*models.ApprovalDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM approval_decisions WHERE id = ?`
	return r.scanOne(r.querier(tx).QueryRow(query, id))
}

// HasActive reports whether the requisition already has a decision in a
// non-terminal state.
func (r *DecisionRepository) HasActive(erpRequisitionID string) (bool, error) {
	query := `
		SELECT COUNT(1) FROM approval_decisions
		WHERE erp_requisition_id = ? AND lifecycle_state IN (` + activeStatePlaceholders() + `)
	`
	var count int
	if err := r.db.QueryRow(query, activeStateArgs(erpRequisitionID)...).Scan(&count); err != nil {
		r.logger.Error("Failed to check active decision",
			zap.String("erp_requisition_id", erpRequisitionID),
			zap.Error(err))
		return false, fmt.Errorf("failed to check active decision: %w", err)
	}
	return count > 0, nil
}

// LatestActive returns the most recently created decision for the
// requisition that is still in an active state, or (nil, nil). When tx
// is non-nil the read happens inside the caller's transaction.
func (r *DecisionRepository) LatestActive(tx *sql.Tx, erpRequisitionID string) (*models.ApprovalDecision, error) {
	query := `
		SELECT ` + decisionColumns + ` FROM approval_decisions
		WHERE erp_requisition_id = ? AND lifecycle_state IN (` + activeStatePlaceholders() + `)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.querier(tx).QueryRow(query, activeStateArgs(erpRequisitionID)...))
}

// ListPendingCommits returns decisions whose grace period has elapsed,
// earliest-due first.
func (r *DecisionRepository) ListPendingCommits(now time.Time) ([]*models.ApprovalDecision, error) {
	query := `
		SELECT ` + decisionColumns + ` FROM approval_decisions
		WHERE lifecycle_state = ? AND commit_at <= ?
		ORDER BY commit_at ASC
	`
	return r.list(query, models.StatePendingCommit, now)
}

// List returns decisions, optionally filtered by lifecycle state,
// newest first.
func (r *DecisionRepository) List(state string, limit int) ([]*models.ApprovalDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	if state != "" {
		query := `
			SELECT ` + decisionColumns + ` FROM approval_decisions
			WHERE lifecycle_state = ?
			ORDER BY created_at DESC LIMIT ?
		`
		return r.list(query, state, limit)
	}
	query := `
		SELECT ` + decisionColumns + ` FROM approval_decisions
		ORDER BY created_at DESC LIMIT ?
	`
	return r.list(query, limit)
}

// Update persists the mutable fields of a decision (outcome, state,
// comment, terminal timestamps). commit_at is deliberately excluded: it
// is immutable after creation.
func (r *DecisionRepository) Update(tx *sql.Tx, d *models.ApprovalDecision) error {
	query := `
		UPDATE approval_decisions
		SET outcome = ?, lifecycle_state = ?, comment = ?,
			committed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.execer(tx).Exec(query,
		d.Outcome,
		d.State,
		d.Comment,
		nullTime(d.CommittedAt),
		nullString(d.ErrorMessage),
		d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update decision",
			zap.String("id", d.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("decision %s not found", d.ID)
	}
	return nil
}

func (r *DecisionRepository) list(query string, args ...any) ([]*models.ApprovalDecision, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to list decisions", zap.Error(err))
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.ApprovalDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DecisionRepository) scanOne(row *sql.Row) (*models.ApprovalDecision, error) {
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to scan decision", zap.Error(err))
		return nil, fmt.Errorf("failed to scan decision: %w", err)
	}
	return d, nil
}

func scanDecision(row rowScanner) (*models.ApprovalDecision, error) {
	var d models.ApprovalDecision
	var (
		riskExplanation, comment, errorMessage       sql.NullString
		productName, material, unit, currency, plant sql.NullString
		quantity, price, totalAmount                 sql.NullFloat64
		committedAt                                  sql.NullTime
	)

	err := row.Scan(
		&d.ID,
		&d.ERPRequisitionID,
		&d.RiskScore,
		&riskExplanation,
		&d.Outcome,
		&d.State,
		&d.CommitAt,
		&comment,
		&productName,
		&material,
		&quantity,
		&unit,
		&price,
		&totalAmount,
		&currency,
		&plant,
		&committedAt,
		&errorMessage,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.RiskExplanation = riskExplanation.String
	d.Comment = comment.String
	d.ErrorMessage = errorMessage.String
	d.ProductName = productName.String
	d.Material = material.String
	d.Unit = unit.String
	d.Currency = currency.String
	d.Plant = plant.String
	if quantity.Valid {
		d.Quantity = &quantity.Float64
	}
	if price.Valid {
		d.Price = &price.Float64
	}
	if totalAmount.Valid {
		d.TotalAmount = &totalAmount.Float64
	}
	if committedAt.Valid {
		t := committedAt.Time
		d.CommittedAt = &t
	}
	return &d, nil
}

func activeStatePlaceholders() string {
	return strings.TrimSuffix(strings.Repeat("?, ", len(models.ActiveStates)), ", ")
}

func activeStateArgs(erpRequisitionID string) []any {
	args := []any{erpRequisitionID}
	for _, s := range models.ActiveStates {
		args = append(args, s)
	}
	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
