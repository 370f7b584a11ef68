package erp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
)

// Middleware outcome vocabulary -> simulated ERP status
var outcomeStatusMap = map[string]string{
	"approve":                   models.ERPStatusApproved,
	models.OutcomeAutoApprove:   models.ERPStatusApproved,
	models.OutcomeManualApprove: models.ERPStatusApproved,
	models.OutcomeReject:        models.ERPStatusRejected,
	"cancel":                    models.ERPStatusCancelled,
	models.OutcomeHold:          models.ERPStatusCancelled,
}

// SimulatedConnector is a SQLite-backed stateful fake ERP. Requisition
// state lives in the erp_requisitions table so the full approve/reject
// lifecycle is observable and survives restarts.
type SimulatedConnector struct {
	requisitions *repository.RequisitionRepository
	logger       *zap.Logger

	mu        sync.Mutex
	connected bool
	now       func() time.Time
}

// NewSimulatedConnector creates a simulated connector backed by repo.
func NewSimulatedConnector(repo *repository.RequisitionRepository, logger *zap.Logger) *SimulatedConnector {
	return &SimulatedConnector{
		requisitions: repo,
		logger:       logger,
		now:          time.Now,
	}
}

// Name implements Connector.
func (c *SimulatedConnector) Name() string { return "mock" }

// Connect marks the connector connected and seeds sample requisitions
// when the backing table is empty (first run only).
func (c *SimulatedConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if err := c.seedIfEmpty(); err != nil {
		return fmt.Errorf("failed to seed simulated ERP: %w", err)
	}

	c.connected = true
	c.logger.Info("Simulated ERP connector connected")
	return nil
}

// Disconnect implements Connector.
func (c *SimulatedConnector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.logger.Info("Simulated ERP connector disconnected")
	return nil
}

// FetchPending returns requisitions with status "pending". Filters are
// accepted but ignored.
func (c *SimulatedConnector) FetchPending(ctx context.Context, filters map[string]string) ([]models.Requisition, error) {
	rows, err := c.requisitions.ListByStatus(models.ERPStatusPending)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	reqs := make([]models.Requisition, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.ToRequisition())
	}

	c.logger.Info("Fetched pending requisitions from simulated ERP",
		zap.Int("count", len(reqs)))
	return reqs, nil
}

// FetchOne looks up a single requisition. Unknown ids are auto-created
// as pending rows, mirroring an ERP that always has the record.
func (c *SimulatedConnector) FetchOne(ctx context.Context, id string) (models.Requisition, error) {
	row, err := c.getOrCreate(id)
	if err != nil {
		return models.Requisition{}, err
	}
	return row.ToRequisition(), nil
}

// SubmitDecision transitions the simulated requisition to its new ERP
// status. Submitting against a terminal row returns already_processed
// instead of erroring or re-applying.
func (c *SimulatedConnector) SubmitDecision(ctx context.Context, id, outcome, comment string) (*SubmitResult, error) {
	newStatus, ok := outcomeStatusMap[outcome]
	if !ok {
		c.logger.Warn("Unknown outcome, defaulting to cancelled",
			zap.String("outcome", outcome))
		newStatus = models.ERPStatusCancelled
	}

	row, err := c.getOrCreate(id)
	if err != nil {
		return nil, err
	}

	previousStatus := row.Status
	if models.IsTerminalERPStatus(previousStatus) {
		c.logger.Warn("Requisition already in terminal status",
			zap.String("erp_requisition_id", id),
			zap.String("status", previousStatus),
			zap.String("requested", newStatus))
		return &SubmitResult{
			Status:           StatusAlreadyProcessed,
			ERPRequisitionID: id,
			Outcome:          outcome,
			PreviousStatus:   previousStatus,
			Message:          fmt.Sprintf("requisition already in terminal status %q", previousStatus),
		}, nil
	}

	if err := c.requisitions.UpdateStatus(id, newStatus, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	c.logger.Info("Simulated requisition transitioned",
		zap.String("erp_requisition_id", id),
		zap.String("from", previousStatus),
		zap.String("to", newStatus),
		zap.String("outcome", outcome),
		zap.String("comment", comment))

	return &SubmitResult{
		Status:           StatusSimulated,
		ERPRequisitionID: id,
		Outcome:          outcome,
		PreviousStatus:   previousStatus,
		NewStatus:        newStatus,
	}, nil
}

// HealthCheck reports store connectivity and row counts.
func (c *SimulatedConnector) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	total, err := c.requisitions.Count()
	if err != nil {
		return HealthStatus{
			Status:    "unhealthy",
			Connector: c.Name(),
			Connected: connected,
			Detail:    map[string]any{"error": err.Error()},
		}
	}
	pending, err := c.requisitions.CountByStatus(models.ERPStatusPending)
	if err != nil {
		return HealthStatus{
			Status:    "unhealthy",
			Connector: c.Name(),
			Connected: connected,
			Detail:    map[string]any{"error": err.Error()},
		}
	}

	return HealthStatus{
		Status:    "healthy",
		Connector: c.Name(),
		Connected: connected,
		Detail: map[string]any{
			"requisitions_total":   total,
			"requisitions_pending": pending,
		},
	}
}

func (c *SimulatedConnector) getOrCreate(id string) (*models.SimulatedRequisition, error) {
	row, err := c.requisitions.GetByERPID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if row != nil {
		return row, nil
	}

	c.logger.Info("Auto-creating pending requisition",
		zap.String("erp_requisition_id", id))

	now := c.now().UTC()
	row = &models.SimulatedRequisition{
		ERPRequisitionID: id,
		Description:      fmt.Sprintf("[Auto-created] %s", id),
		Status:           models.ERPStatusPending,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	if err := c.requisitions.Create(row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return row, nil
}

func (c *SimulatedConnector) seedIfEmpty() error {
	count, err := c.requisitions.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		c.logger.Info("Simulated ERP already seeded, skipping",
			zap.Int("rows", count))
		return nil
	}

	now := c.now().UTC()
	for _, seed := range seedRequisitions {
		row := seed
		row.Status = models.ERPStatusPending
		row.CreatedAt = now
		row.LastUpdatedAt = now
		if err := c.requisitions.Create(&row); err != nil {
			return err
		}
	}

	c.logger.Info("Seeded simulated ERP with sample requisitions",
		zap.Int("count", len(seedRequisitions)))
	return nil
}

func fptr(v float64) *float64 { return &v }

// Sample rows inserted on first connect when the table is empty.
var seedRequisitions = []models.SimulatedRequisition{
	{
		ERPRequisitionID: "PR-2026-001",
		ItemNumber:       "00010",
		Material:         "MAT-1001",
		Description:      "Laptop Computer - Dell XPS 15",
		Quantity:         fptr(5),
		Unit:             "EA",
		Price:            fptr(1500.00),
		Currency:         "USD",
		Plant:            "PLANT-US-001",
	},
	{
		ERPRequisitionID: "PR-2026-002",
		ItemNumber:       "00010",
		Material:         "MAT-2050",
		Description:      "Office Furniture - Standing Desk",
		Quantity:         fptr(10),
		Unit:             "EA",
		Price:            fptr(800.00),
		Currency:         "USD",
		Plant:            "PLANT-US-001",
	},
	{
		ERPRequisitionID: "PR-2026-003",
		ItemNumber:       "00010",
		Material:         "MAT-3020",
		Description:      "Industrial Equipment - CNC Machine",
		Quantity:         fptr(2),
		Unit:             "EA",
		Price:            fptr(45000.00),
		Currency:         "USD",
		Plant:            "PLANT-DE-001",
	},
	{
		ERPRequisitionID: "PR-2026-004",
		ItemNumber:       "00010",
		Material:         "MAT-4010",
		Description:      "Server Rack - 42U Cabinet",
		Quantity:         fptr(3),
		Unit:             "EA",
		Price:            fptr(2200.00),
		Currency:         "USD",
		Plant:            "PLANT-US-002",
	},
	{
		ERPRequisitionID: "PR-2026-005",
		ItemNumber:       "00010",
		Material:         "MAT-5005",
		Description:      "Safety Equipment - Fire Suppression System",
		Quantity:         fptr(1),
		Unit:             "EA",
		Price:            fptr(18500.00),
		Currency:         "EUR",
		Plant:            "PLANT-DE-001",
	},
}
