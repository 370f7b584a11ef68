package erp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

func newTestConnector(t *testing.T) *SimulatedConnector {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.Run("../../migrations"))

	repo := repository.NewRequisitionRepository(db.DB, logger)
	return NewSimulatedConnector(repo, logger)
}

func TestSimulatedConnectorSeedsOnlyOnce(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))
	first, err := conn.FetchPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, first, 5)

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Connect(ctx))

	second, err := conn.FetchPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, second, 5, "reconnect must not reseed")
}

func TestSimulatedConnectorSubmitDecision(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	result, err := conn.SubmitDecision(ctx, "PR-2026-001", models.OutcomeAutoApprove, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, StatusSimulated, result.Status)
	assert.Equal(t, models.ERPStatusPending, result.PreviousStatus)
	assert.Equal(t, models.ERPStatusApproved, result.NewStatus)
	assert.True(t, result.Accepted())

	// Approved requisitions drop out of the pending feed
	pending, err := conn.FetchPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

func TestSimulatedConnectorSubmitTwiceReportsAlreadyProcessed(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	first, err := conn.SubmitDecision(ctx, "PR-2026-002", models.OutcomeReject, "")
	require.NoError(t, err)
	require.Equal(t, StatusSimulated, first.Status)

	second, err := conn.SubmitDecision(ctx, "PR-2026-002", models.OutcomeAutoApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, second.Status)
	assert.Equal(t, models.ERPStatusRejected, second.PreviousStatus)
	assert.True(t, second.Accepted(), "already_processed counts as success")

	// First decision stands
	req, err := conn.FetchOne(ctx, "PR-2026-002")
	require.NoError(t, err)
	assert.Equal(t, "PR-2026-002", req.ERPRequisitionID)
}

func TestSimulatedConnectorFetchOneAutoCreates(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	req, err := conn.FetchOne(ctx, "PR-9999-001")
	require.NoError(t, err)
	assert.Equal(t, "PR-9999-001", req.ERPRequisitionID)
	assert.Contains(t, req.Description, "[Auto-created]")
	assert.Nil(t, req.Price)
	assert.Nil(t, req.Quantity)

	// Auto-created rows join the pending feed
	pending, err := conn.FetchPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 6)
}

func TestSimulatedConnectorHealthCheck(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	health := conn.HealthCheck(ctx)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "mock", health.Connector)
	assert.True(t, health.Connected)
	assert.Equal(t, 5, health.Detail["requisitions_total"])
	assert.Equal(t, 5, health.Detail["requisitions_pending"])
}

func TestManagerSwitchSameModeRebuildsConnector(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	factory := NewFactory(SAPConfig{}, conn.requisitions, zap.NewNop())
	mgr, err := NewManager(factory, ModeMock, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(ctx))
	before := mgr.Current()

	// Same-mode switch tears down and rebuilds, forcing a reconnect
	require.NoError(t, mgr.Switch(ctx, ModeMock))
	assert.Equal(t, ModeMock, mgr.Mode())
	assert.NotSame(t, before, mgr.Current())

	rows, err := mgr.Current().FetchPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}
