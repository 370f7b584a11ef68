package models

import "time"

// Requisition is a normalized purchase requisition fetched from an ERP
// connector. Quantity and Price are pointers because upstream records may
// omit them; the risk engine penalizes missing values instead of failing.
type Requisition struct {
	ERPRequisitionID string
	ItemNumber       string
	Material         string
	Description      string
	Quantity         *float64
	Unit             string
	Price            *float64
	Currency         string
	Plant            string

	// Missing marks a placeholder record returned for an unknown id.
	// Connectors return these instead of failing a single-record lookup.
	Missing bool

	FetchedAt time.Time
}

// TotalValue returns price*quantity when both are present.
func (r Requisition) TotalValue() (float64, bool) {
	if r.Price == nil || r.Quantity == nil {
		return 0, false
	}
	return *r.Price * *r.Quantity, true
}

// Simulated ERP requisition statuses
const (
	ERPStatusPending   = "pending"
	ERPStatusApproved  = "approved"
	ERPStatusRejected  = "rejected"
	ERPStatusCancelled = "cancelled"
)

// IsTerminalERPStatus reports whether a simulated ERP status is immutable.
func IsTerminalERPStatus(status string) bool {
	switch status {
	case ERPStatusApproved, ERPStatusRejected, ERPStatusCancelled:
		return true
	}
	return false
}

// SimulatedRequisition mirrors a real ERP's internal requisition row.
// The simulated connector persists these so restarts don't lose history.
type SimulatedRequisition struct {
	ID               int64
	ERPRequisitionID string
	ItemNumber       string
	Material         string
	Description      string
	Quantity         *float64
	Unit             string
	Price            *float64
	Currency         string
	Plant            string
	Status           string
	CreatedAt        time.Time
	LastUpdatedAt    time.Time
}

// ToRequisition converts the stored row to the connector-facing DTO.
func (s *SimulatedRequisition) ToRequisition() Requisition {
	fetchedAt := s.LastUpdatedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.CreatedAt
	}
	return Requisition{
		ERPRequisitionID: s.ERPRequisitionID,
		ItemNumber:       s.ItemNumber,
		Material:         s.Material,
		Description:      s.Description,
		Quantity:         s.Quantity,
		Unit:             s.Unit,
		Price:            s.Price,
		Currency:         s.Currency,
		Plant:            s.Plant,
		FetchedAt:        fetchedAt,
	}
}
