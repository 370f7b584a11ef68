package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/notification"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

type workerStack struct {
	worker        *CommitWorker
	decisions     *repository.DecisionRepository
	requisitions  *repository.RequisitionRepository
	notifications *repository.NotificationRepository
	db            *database.DB
}

func newWorkerStack(t *testing.T) *workerStack {
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

	decisionRepo := repository.NewDecisionRepository(db.DB, logger)
	requisitionRepo := repository.NewRequisitionRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	factory := erp.NewFactory(erp.SAPConfig{}, requisitionRepo, logger)
	connectors, err := erp.NewManager(factory, erp.ModeMock, logger)
	require.NoError(t, err)

	notifier := notification.NewNotifier(notificationRepo, nil, logger)

	w := NewCommitWorker(db, decisionRepo, connectors, notifier, time.Minute, logger)
	return &workerStack{
		worker:        w,
		decisions:     decisionRepo,
		requisitions:  requisitionRepo,
		notifications: notificationRepo,
		db:            db,
	}
}

func (s *workerStack) stageDecision(t *testing.T, erpID string, commitAt time.Time) *models.ApprovalDecision {
	t.Helper()
	now := time.Now().UTC()
	d := &models.ApprovalDecision{
		ID:               uuid.NewString(),
		ERPRequisitionID: erpID,
		RiskScore:        10,
		RiskExplanation:  "All parameters within normal operational thresholds",
		Outcome:          models.OutcomeAutoApprove,
		State:            models.StatePendingCommit,
		CommitAt:         commitAt,
		Comment:          "Low risk (score: 10.00) - auto-approved",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.decisions.Create(nil, d))
	return d
}

// stubConnector lets tests force submit results and errors.
type stubConnector struct {
	result *erp.SubmitResult
	err    error
	calls  int
}

func (c *stubConnector) Connect(ctx context.Context) error { return nil }
func (c *stubConnector) Disconnect() error                 { return nil }
func (c *stubConnector) Name() string                      { return "stub" }
func (c *stubConnector) FetchPending(ctx context.Context, filters map[string]string) ([]models.Requisition, error) {
	return nil, nil
}
func (c *stubConnector) FetchOne(ctx context.Context, id string) (models.Requisition, error) {
	return models.Requisition{ERPRequisitionID: id}, nil
}
func (c *stubConnector) SubmitDecision(ctx context.Context, id, outcome, comment string) (*erp.SubmitResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	result := *c.result
	result.ERPRequisitionID = id
	result.Outcome = outcome
	return &result, nil
}
func (c *stubConnector) HealthCheck(ctx context.Context) erp.HealthStatus {
	return erp.HealthStatus{Status: "healthy", Connector: "stub", Connected: true}
}

func TestRunOnceCommitsDueDecisions(t *testing.T) {
	s := newWorkerStack(t)
	due := s.stageDecision(t, "PR-DUE", time.Now().UTC().Add(-time.Second))

	stats, err := s.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Committed: 1}, stats)

	got, err := s.decisions.GetByID(nil, due.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StateCommitted, got.State)
	require.NotNil(t, got.CommittedAt)
	assert.Empty(t, got.ErrorMessage)

	// The simulated ERP applied the release
	row, err := s.requisitions.GetByERPID("PR-DUE")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.ERPStatusApproved, row.Status)

	// Commit notifications were recorded in the same transaction
	logs, err := s.notifications.List(10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRunOnceIgnoresDecisionsInsideGracePeriod(t *testing.T) {
	s := newWorkerStack(t)
	future := s.stageDecision(t, "PR-FUTURE", time.Now().UTC().Add(time.Hour))

	stats, err := s.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	got, err := s.decisions.GetByID(nil, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingCommit, got.State)
}

func TestRunOnceTreatsAlreadyProcessedAsSuccess(t *testing.T) {
	s := newWorkerStack(t)
	d := s.stageDecision(t, "PR-DONE", time.Now().UTC().Add(-time.Second))

	// The ERP side was already finalized out of band
	now := time.Now().UTC()
	require.NoError(t, s.requisitions.Create(&models.SimulatedRequisition{
		ERPRequisitionID: "PR-DONE",
		Description:      "finalized elsewhere",
		Status:           models.ERPStatusApproved,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}))

	stats, err := s.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Committed: 1}, stats)

	got, err := s.decisions.GetByID(nil, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCommitted, got.State)
	assert.Contains(t, got.Comment, "already processed")
}

func TestCommitBatchMarksFailuresWithTruncatedError(t *testing.T) {
	s := newWorkerStack(t)
	d := s.stageDecision(t, "PR-FAIL", time.Now().UTC().Add(-time.Second))

	candidates, err := s.decisions.ListPendingCommits(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	conn := &stubConnector{err: errors.New(strings.Repeat("e", 800))}
	stats, err := s.worker.commitBatch(context.Background(), candidates, conn)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Failed: 1}, stats)

	got, err := s.decisions.GetByID(nil, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Len(t, got.ErrorMessage, errorMessageMaxLen)
	assert.Nil(t, got.CommittedAt)

	// Failed rows are never notified
	logs, err := s.notifications.List(10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTruncateErrorKeepsValidUTF8(t *testing.T) {
	// "€" is 3 bytes, so the byte limit lands mid-rune
	long := strings.Repeat("€", 400)
	got := truncateError(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 498, len(got))
}

func TestCommitBatchMarksRejectionsFailed(t *testing.T) {
	s := newWorkerStack(t)
	d := s.stageDecision(t, "PR-REJECTED", time.Now().UTC().Add(-time.Second))

	candidates, err := s.decisions.ListPendingCommits(time.Now().UTC())
	require.NoError(t, err)

	conn := &stubConnector{result: &erp.SubmitResult{
		Status:  erp.StatusError,
		Message: "release strategy does not allow this action",
	}}
	stats, err := s.worker.commitBatch(context.Background(), candidates, conn)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Failed: 1}, stats)

	got, err := s.decisions.GetByID(nil, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "release strategy")
}

func TestCommitBatchSkipsRowsChangedSinceListing(t *testing.T) {
	s := newWorkerStack(t)
	d := s.stageDecision(t, "PR-RACE", time.Now().UTC().Add(-time.Second))

	candidates, err := s.decisions.ListPendingCommits(time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// Cancelled between listing and processing
	d.State = models.StateCancelled
	d.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.decisions.Update(nil, d))

	conn := &stubConnector{result: &erp.SubmitResult{Status: erp.StatusOK}}
	stats, err := s.worker.commitBatch(context.Background(), candidates, conn)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Skipped: 1}, stats)
	assert.Zero(t, conn.calls, "nothing was sent to the ERP")

	got, err := s.decisions.GetByID(nil, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, got.State)
}
