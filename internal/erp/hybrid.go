package erp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

// HybridConnector reads live requisition data from SAP but simulates
// all writes. Useful against the public sandbox, which serves real
// OData reads while rejecting release actions.
type HybridConnector struct {
	live   *SAPConnector
	logger *zap.Logger
}

// NewHybridConnector creates a read-live, write-simulated connector.
func NewHybridConnector(cfg SAPConfig, logger *zap.Logger) *HybridConnector {
	return &HybridConnector{
		live:   NewSAPConnector(cfg, logger),
		logger: logger,
	}
}

// Name implements Connector.
func (c *HybridConnector) Name() string { return "hybrid" }

// Connect implements Connector.
func (c *HybridConnector) Connect(ctx context.Context) error {
	return c.live.Connect(ctx)
}

// Disconnect implements Connector.
func (c *HybridConnector) Disconnect() error {
	return c.live.Disconnect()
}

// FetchPending reads live from SAP. The sandbox never populates release
// codes, so the default filter only requires a non-empty document id and
// keeps the batch small.
func (c *HybridConnector) FetchPending(ctx context.Context, filters map[string]string) ([]models.Requisition, error) {
	merged := map[string]string{
		"filter": "PurchaseRequisition ne ''",
		"top":    "10",
	}
	for k, v := range filters {
		merged[k] = v
	}
	return c.live.FetchPending(ctx, merged)
}

// FetchOne implements Connector via the live SAP read path.
func (c *HybridConnector) FetchOne(ctx context.Context, id string) (models.Requisition, error) {
	return c.live.FetchOne(ctx, id)
}

// SubmitDecision logs what would have been sent and reports a simulated
// success without touching SAP.
func (c *HybridConnector) SubmitDecision(ctx context.Context, id, outcome, comment string) (*SubmitResult, error) {
	if err := c.live.ensureConnected(); err != nil {
		return nil, err
	}

	actionCode, ok := sapActionMap[outcome]
	if !ok {
		actionCode = "03"
	}

	c.logger.Info("Simulating SAP write in hybrid mode",
		zap.String("erp_requisition_id", id),
		zap.String("outcome", outcome),
		zap.String("action_code", actionCode))

	return &SubmitResult{
		Status:           StatusSimulated,
		ERPRequisitionID: id,
		Outcome:          outcome,
		Message:          fmt.Sprintf("write simulated, release action %s not sent to SAP", actionCode),
	}, nil
}

// HealthCheck reports the live read path's health plus the write mode.
func (c *HybridConnector) HealthCheck(ctx context.Context) HealthStatus {
	status := c.live.HealthCheck(ctx)
	status.Connector = c.Name()
	status.Detail["writes_simulated"] = true
	return status
}
