package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

// NotificationRepository persists post-commit notification log rows
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

// Create inserts a notification log row, joining the caller's
// transaction when tx is non-nil.
func (r *NotificationRepository) Create(tx *sql.Tx, n *models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			erp_requisition_id, outcome, channel, status, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	var (
		result sql.Result
		err    error
	)
	if tx != nil {
		result, err = tx.Exec(query,
			n.ERPRequisitionID, n.Outcome, n.Channel, n.Status, n.Message, n.CreatedAt)
	} else {
		result, err = r.db.Exec(query,
			n.ERPRequisitionID, n.Outcome, n.Channel, n.Status, n.Message, n.CreatedAt)
	}
	if err != nil {
		r.logger.Error("Failed to create notification log",
			zap.String("erp_requisition_id", n.ERPRequisitionID),
			zap.String("channel", n.Channel),
			zap.Error(err))
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	return nil
}

// List returns notification logs, newest first.
func (r *NotificationRepository) List(limit int) ([]*models.NotificationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, erp_requisition_id, outcome, channel, status, message, created_at
		FROM notification_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		r.logger.Error("Failed to list notification logs", zap.Error(err))
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.NotificationLog
	for rows.Next() {
		var n models.NotificationLog
		var message sql.NullString
		if err := rows.Scan(
			&n.ID, &n.ERPRequisitionID, &n.Outcome,
			&n.Channel, &n.Status, &message, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		n.Message = message.String
		logs = append(logs, &n)
	}
	return logs, rows.Err()
}
