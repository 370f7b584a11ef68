package erp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
)

// Connector modes
const (
	ModeMock   = "mock"
	ModeSAP    = "sap"
	ModeHybrid = "hybrid"
)

// Factory builds connectors for a mode from a fixed set of dependencies
// so the manager can rebuild them on runtime switches.
type Factory struct {
	sapConfig    SAPConfig
	requisitions *repository.RequisitionRepository
	logger       *zap.Logger
}

// NewFactory creates a connector factory.
func NewFactory(sapConfig SAPConfig, requisitions *repository.RequisitionRepository, logger *zap.Logger) *Factory {
	return &Factory{
		sapConfig:    sapConfig,
		requisitions: requisitions,
		logger:       logger,
	}
}

// Build returns a fresh, unconnected connector for mode.
func (f *Factory) Build(mode string) (Connector, error) {
	switch mode {
	case ModeMock:
		return NewSimulatedConnector(f.requisitions, f.logger), nil
	case ModeSAP:
		return NewSAPConnector(f.sapConfig, f.logger), nil
	case ModeHybrid:
		return NewHybridConnector(f.sapConfig, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown ERP connector mode %q (want mock, sap, or hybrid)", mode)
	}
}
