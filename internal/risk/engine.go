// Package risk evaluates requisition risk for automated approval
// decisions. It is a pure domain component: no database access, no HTTP
// calls, no mutable state.
package risk

import (
	"fmt"
	"strings"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

// Scoring thresholds, tuned for sandbox demo data.
// Production values: high 50000, elevated 10000, moderate 5000,
// unit price 5000, quantity 500.
const (
	HighValueThreshold     = 100.0
	ElevatedValueThreshold = 50.0
	ModerateValueThreshold = 20.0
	UnitPriceThreshold     = 10.0
	QuantityThreshold      = 5.0
)

// Score weights per rule
const (
	highValueWeight     = 40.0
	elevatedValueWeight = 20.0
	moderateValueWeight = 10.0
	unitPriceWeight     = 15.0
	quantityWeight      = 10.0
	materialWeight      = 20.0
	plantWeight         = 15.0
	missingFieldPenalty = 5.0
	maxScore            = 100.0
)

var highRiskMaterials = []string{
	"HAZMAT", "CHEM", "CHEMICAL", "EXPLOSIVE",
	"RADIOACTIVE", "BIOHAZARD", "TOXIC",
}

var restrictedPlants = []string{
	"NUCLEAR", "DEFENSE", "WEAPONS", "CLASSIFIED",
}

// Engine computes risk scores and human-readable explanations for
// purchase requisitions.
//
// Score ranges:
//
//	0-30   low risk      auto-approve candidate
//	31-70  medium risk   route to manager
//	71-100 high risk     flag for audit
type Engine struct{}

// NewEngine creates a risk engine
func NewEngine() *Engine {
	return &Engine{}
}

// Score calculates the risk score (0-100) for a single requisition.
// Evaluated dimensions: total procurement value, unit-price anomaly,
// quantity anomaly, high-risk material, restricted plant, and a penalty
// for missing price/quantity data.
func (e *Engine) Score(req models.Requisition) float64 {
	score := 0.0

	if total, ok := req.TotalValue(); ok {
		switch {
		case total > HighValueThreshold:
			score += highValueWeight
		case total > ElevatedValueThreshold:
			score += elevatedValueWeight
		case total > ModerateValueThreshold:
			score += moderateValueWeight
		}
	}

	if req.Price != nil && *req.Price > UnitPriceThreshold {
		score += unitPriceWeight
	}

	if req.Quantity != nil && *req.Quantity > QuantityThreshold {
		score += quantityWeight
	}

	if matchesKeyword(req.Material, highRiskMaterials) {
		score += materialWeight
	}

	if matchesKeyword(req.Plant, restrictedPlants) {
		score += plantWeight
	}

	if req.Price == nil {
		score += missingFieldPenalty
	}
	if req.Quantity == nil {
		score += missingFieldPenalty
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// Explain produces a consolidated, human-readable risk explanation.
// Every rule that fired contributes one reason; reasons are joined with
// "; ". If no rule fires, an all-clear message is returned.
func (e *Engine) Explain(req models.Requisition, score float64) string {
	var reasons []string

	for _, check := range allChecks {
		if reason := check(req); reason != "" {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) == 0 {
		return "All parameters within normal operational thresholds"
	}
	return strings.Join(reasons, "; ")
}

type checkFunc func(models.Requisition) string

// Ordered rule registry. New rules are added by writing a check function
// and registering it here.
var allChecks = []checkFunc{
	checkHighTotalValue,
	checkElevatedTotalValue,
	checkHighUnitPrice,
	checkHighQuantity,
	checkHighRiskMaterial,
	checkRestrictedPlant,
	checkMissingPrice,
	checkMissingQuantity,
}

func checkHighTotalValue(req models.Requisition) string {
	if total, ok := req.TotalValue(); ok && total > HighValueThreshold {
		return fmt.Sprintf("Total value %.2f exceeds high-value threshold (%.0f)",
			total, HighValueThreshold)
	}
	return ""
}

func checkElevatedTotalValue(req models.Requisition) string {
	if total, ok := req.TotalValue(); ok &&
		total > ElevatedValueThreshold && total <= HighValueThreshold {
		return fmt.Sprintf("Total value %.2f exceeds elevated threshold (%.0f)",
			total, ElevatedValueThreshold)
	}
	return ""
}

func checkHighUnitPrice(req models.Requisition) string {
	if req.Price != nil && *req.Price > UnitPriceThreshold {
		return fmt.Sprintf("Unit price %.2f exceeds historical threshold (%.0f)",
			*req.Price, UnitPriceThreshold)
	}
	return ""
}

func checkHighQuantity(req models.Requisition) string {
	if req.Quantity != nil && *req.Quantity > QuantityThreshold {
		return fmt.Sprintf("Quantity %.0f exceeds plant average threshold (%.0f)",
			*req.Quantity, QuantityThreshold)
	}
	return ""
}

func checkHighRiskMaterial(req models.Requisition) string {
	if matchesKeyword(req.Material, highRiskMaterials) {
		return fmt.Sprintf("Material '%s' classified as high-risk category", req.Material)
	}
	return ""
}

func checkRestrictedPlant(req models.Requisition) string {
	if matchesKeyword(req.Plant, restrictedPlants) {
		return fmt.Sprintf("Requisition from restricted plant '%s'", req.Plant)
	}
	return ""
}

func checkMissingPrice(req models.Requisition) string {
	if req.Price == nil {
		return "Unit price data missing - unable to fully assess risk"
	}
	return ""
}

func checkMissingQuantity(req models.Requisition) string {
	if req.Quantity == nil {
		return "Quantity data missing - unable to fully assess risk"
	}
	return ""
}

func matchesKeyword(value string, keywords []string) bool {
	if value == "" {
		return false
	}
	upper := strings.ToUpper(value)
	for _, kw := range keywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
