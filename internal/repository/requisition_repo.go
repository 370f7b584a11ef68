package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

const requisitionColumns = `id, erp_requisition_id, item_number, material, description,
	quantity, unit, price, currency, plant, status, created_at, last_updated_at`

// RequisitionRepository persists simulated ERP requisition rows. It backs
// the stateful simulated connector so ERP state survives restarts.
type RequisitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequisitionRepository creates a requisition repository
func NewRequisitionRepository(db *sql.DB, logger *zap.Logger) *RequisitionRepository {
	return &RequisitionRepository{db: db, logger: logger}
}

// Count returns the total number of simulated requisitions.
func (r *RequisitionRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(1) FROM erp_requisitions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count requisitions: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of rows in the given status.
func (r *RequisitionRepository) CountByStatus(status string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(1) FROM erp_requisitions WHERE status = ?", status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requisitions by status: %w", err)
	}
	return count, nil
}

// ListByStatus returns rows in the given status, oldest first.
func (r *RequisitionRepository) ListByStatus(status string) ([]*models.SimulatedRequisition, error) {
	query := `
		SELECT ` + requisitionColumns + ` FROM erp_requisitions
		WHERE status = ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(query, status)
	if err != nil {
		r.logger.Error("Failed to list requisitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list requisitions: %w", err)
	}
	defer rows.Close()

	var reqs []*models.SimulatedRequisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// GetByERPID returns the row for an ERP requisition id, or (nil, nil).
func (r *RequisitionRepository) GetByERPID(erpRequisitionID string) (*models.SimulatedRequisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM erp_requisitions WHERE erp_requisition_id = ?`
	req, err := scanRequisition(r.db.QueryRow(query, erpRequisitionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get requisition",
			zap.String("erp_requisition_id", erpRequisitionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get requisition: %w", err)
	}
	return req, nil
}

// Create inserts a new simulated requisition.
func (r *RequisitionRepository) Create(req *models.SimulatedRequisition) error {
	query := `
		INSERT INTO erp_requisitions (
			erp_requisition_id, item_number, material, description,
			quantity, unit, price, currency, plant, status,
			created_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		req.ERPRequisitionID,
		nullString(req.ItemNumber),
		nullString(req.Material),
		nullString(req.Description),
		nullFloat(req.Quantity),
		nullString(req.Unit),
		nullFloat(req.Price),
		nullString(req.Currency),
		nullString(req.Plant),
		req.Status,
		req.CreatedAt,
		req.LastUpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create requisition",
			zap.String("erp_requisition_id", req.ERPRequisitionID),
			zap.Error(err))
		return fmt.Errorf("failed to create requisition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	req.ID = id
	return nil
}

// UpdateStatus transitions a requisition to a new status.
func (r *RequisitionRepository) UpdateStatus(erpRequisitionID, status string, now time.Time) error {
	result, err := r.db.Exec(
		"UPDATE erp_requisitions SET status = ?, last_updated_at = ? WHERE erp_requisition_id = ?",
		status, now, erpRequisitionID,
	)
	if err != nil {
		r.logger.Error("Failed to update requisition status",
			zap.String("erp_requisition_id", erpRequisitionID),
			zap.Error(err))
		return fmt.Errorf("failed to update requisition status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("requisition %s not found", erpRequisitionID)
	}
	return nil
}

func scanRequisition(row rowScanner) (*models.SimulatedRequisition, error) {
	var req models.SimulatedRequisition
	var (
		itemNumber, material, description sql.NullString
		unit, currency, plant             sql.NullString
		quantity, price                   sql.NullFloat64
	)

	err := row.Scan(
		&req.ID,
		&req.ERPRequisitionID,
		&itemNumber,
		&material,
		&description,
		&quantity,
		&unit,
		&price,
		&currency,
		&plant,
		&req.Status,
		&req.CreatedAt,
		&req.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.ItemNumber = itemNumber.String
	req.Material = material.String
	req.Description = description.String
	req.Unit = unit.String
	req.Currency = currency.String
	req.Plant = plant.String
	if quantity.Valid {
		req.Quantity = &quantity.Float64
	}
	if price.Valid {
		req.Price = &price.Float64
	}
	return &req, nil
}
