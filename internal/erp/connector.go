// Package erp abstracts the external ERP system's read and write
// operations behind a capability interface with interchangeable
// implementations: a stateful simulated backend, a live SAP OData
// connector, and a hybrid that reads live and simulates writes.
package erp

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

// Connector is the contract every ERP backend implements. Each operation
// is independently retriable by the caller.
type Connector interface {
	// Connect establishes a session. Idempotent if already connected.
	Connect(ctx context.Context) error

	// Disconnect releases session resources. Safe to call repeatedly.
	Disconnect() error

	// FetchPending returns normalized pending requisitions. Filters are
	// advisory; implementations may ignore unsupported keys.
	FetchPending(ctx context.Context, filters map[string]string) ([]models.Requisition, error)

	// FetchOne returns a single normalized record. Unknown ids yield a
	// placeholder record with Missing set rather than an error.
	FetchOne(ctx context.Context, id string) (models.Requisition, error)

	// SubmitDecision pushes a decision to the ERP. A result status of
	// StatusAlreadyProcessed signals idempotent re-submission and must
	// be treated as success by callers.
	SubmitDecision(ctx context.Context, id, outcome, comment string) (*SubmitResult, error)

	// HealthCheck reports connectivity without raising.
	HealthCheck(ctx context.Context) HealthStatus

	// Name identifies the connector kind (mock | sap | hybrid).
	Name() string
}

// SubmitResult statuses
const (
	StatusOK               = "ok"
	StatusSimulated        = "simulated"
	StatusAlreadyProcessed = "already_processed"
	StatusError            = "error"
)

// SubmitResult is the payload returned by SubmitDecision.
type SubmitResult struct {
	Status           string `json:"status"`
	ERPRequisitionID string `json:"erp_requisition_id"`
	Outcome          string `json:"outcome"`
	PreviousStatus   string `json:"previous_status,omitempty"`
	NewStatus        string `json:"new_status,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Accepted reports whether the result counts as a successful commit.
func (r *SubmitResult) Accepted() bool {
	switch r.Status {
	case StatusOK, StatusSimulated, StatusAlreadyProcessed:
		return true
	}
	return false
}

// HealthStatus is the non-raising health report of a connector.
type HealthStatus struct {
	Status    string         `json:"status"` // healthy | unhealthy
	Connector string         `json:"connector"`
	Connected bool           `json:"connected"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Error taxonomy. Transient transport errors are retried internally and
// surface as ErrUpstreamUnavailable only after retries are exhausted.
var (
	// ErrNotConnected means Connect was not called or the session is gone.
	ErrNotConnected = errors.New("connector not connected")

	// ErrNoCredentials means Connect cannot authenticate.
	ErrNoCredentials = errors.New("no ERP credentials configured")

	// ErrUpstreamUnavailable wraps transport failures after retry exhaustion.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// UpstreamError is a non-transient HTTP rejection with the upstream's
// structured message.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream rejected request: HTTP %d: %s", e.StatusCode, e.Message)
}
