package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

func newTestRepo(t *testing.T) *DecisionRepository {
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

	return NewDecisionRepository(db.DB, logger)
}

func newDecision(erpID, state string, commitAt time.Time) *models.ApprovalDecision {
	now := time.Now().UTC()
	return &models.ApprovalDecision{
		ID:               uuid.NewString(),
		ERPRequisitionID: erpID,
		RiskScore:        42,
		RiskExplanation:  "test",
		Outcome:          models.OutcomeManualApprove,
		State:            state,
		CommitAt:         commitAt,
		Comment:          "staged",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestDecisionRepositoryGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.GetByID(nil, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecisionRepositoryHasActive(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Create(nil, newDecision("PR-1", models.StatePendingCommit, now)))

	active, err := repo.HasActive("PR-1")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = repo.HasActive("PR-2")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDecisionRepositoryTerminalRowsAreNotActive(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()

	for _, state := range []string{models.StateCommitted, models.StateCancelled, models.StateFailed} {
		require.True(t, models.IsTerminalState(state))
		require.NoError(t, repo.Create(nil, newDecision("PR-TERM", state, now)))
	}

	active, err := repo.HasActive("PR-TERM")
	require.NoError(t, err)
	assert.False(t, active, "terminal states never block restaging")
}

func TestListPendingCommitsReturnsOnlyDueRows(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()

	late := newDecision("PR-LATE", models.StatePendingCommit, now.Add(-2*time.Hour))
	soon := newDecision("PR-SOON", models.StatePendingCommit, now.Add(-time.Minute))
	future := newDecision("PR-FUTURE", models.StatePendingCommit, now.Add(time.Hour))
	parked := newDecision("PR-PARKED", models.StateDetected, now.Add(-time.Hour))

	for _, d := range []*models.ApprovalDecision{soon, future, parked, late} {
		require.NoError(t, repo.Create(nil, d))
	}

	due, err := repo.ListPendingCommits(now)
	require.NoError(t, err)
	require.Len(t, due, 2)

	// Oldest commit_at first
	assert.Equal(t, "PR-LATE", due[0].ERPRequisitionID)
	assert.Equal(t, "PR-SOON", due[1].ERPRequisitionID)
}

func TestUpdateNeverTouchesCommitAt(t *testing.T) {
	repo := newTestRepo(t)
	commitAt := time.Now().UTC().Add(5 * time.Minute).Truncate(time.Second)

	d := newDecision("PR-1", models.StatePendingCommit, commitAt)
	require.NoError(t, repo.Create(nil, d))

	d.State = models.StateCancelled
	d.Comment = "staged [Cancelled by user]"
	d.CommitAt = commitAt.Add(24 * time.Hour) // tampering must not persist
	require.NoError(t, repo.Update(nil, d))

	got, err := repo.GetByID(nil, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StateCancelled, got.State)
	assert.True(t, got.CommitAt.Equal(commitAt), "commit_at is immutable after creation")
}

func TestUpdateUnknownDecisionFails(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Update(nil, newDecision("PR-GONE", models.StateCancelled, time.Now().UTC()))
	assert.Error(t, err)
}
