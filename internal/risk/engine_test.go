package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/models"
)

func f(v float64) *float64 { return &v }

func TestScoreLowRiskRequisition(t *testing.T) {
	engine := NewEngine()

	// price 5, quantity 1: total 5, below every threshold
	req := models.Requisition{
		ERPRequisitionID: "PR-1",
		Price:            f(5),
		Quantity:         f(1),
	}

	score := engine.Score(req)
	assert.Equal(t, 0.0, score)

	explanation := engine.Explain(req, score)
	assert.Equal(t, "All parameters within normal operational thresholds", explanation)
}

func TestScoreHighValueRequisition(t *testing.T) {
	engine := NewEngine()

	// price 200, quantity 1: total 200 (+40), unit price > 10 (+15)
	req := models.Requisition{
		ERPRequisitionID: "PR-2",
		Price:            f(200),
		Quantity:         f(1),
	}

	score := engine.Score(req)
	assert.Equal(t, 55.0, score)

	explanation := engine.Explain(req, score)
	assert.Contains(t, explanation, "high-value threshold")
	assert.Contains(t, explanation, "Unit price 200.00")
}

func TestScoreDimensions(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name string
		req  models.Requisition
		want float64
	}{
		{
			name: "elevated total value",
			req:  models.Requisition{Price: f(8), Quantity: f(8)}, // total 64
			want: 20.0,
		},
		{
			name: "moderate total value plus quantity anomaly",
			req:  models.Requisition{Price: f(4), Quantity: f(6)}, // total 24
			want: 10.0 + 10.0,
		},
		{
			name: "high-risk material keyword",
			req:  models.Requisition{Price: f(1), Quantity: f(1), Material: "CHEM-SOLVENT-X"},
			want: 20.0,
		},
		{
			name: "restricted plant keyword",
			req:  models.Requisition{Price: f(1), Quantity: f(1), Plant: "PLANT-DEFENSE-01"},
			want: 15.0,
		},
		{
			name: "missing price and quantity",
			req:  models.Requisition{ERPRequisitionID: "PR-3"},
			want: 10.0,
		},
		{
			name: "high value hazmat crosses hold threshold",
			req: models.Requisition{
				Price:    f(200),
				Quantity: f(1),
				Material: "HAZMAT-DRUM",
			},
			want: 40.0 + 15.0 + 20.0, // 75
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Score(tt.req))
		})
	}
}

func TestScoreIsCappedAt100(t *testing.T) {
	engine := NewEngine()

	req := models.Requisition{
		Price:    f(5000),
		Quantity: f(100),
		Material: "RADIOACTIVE-SOURCE",
		Plant:    "CLASSIFIED-SITE",
	}

	assert.Equal(t, 100.0, engine.Score(req))
}

func TestExplainListsEveryTriggeredRule(t *testing.T) {
	engine := NewEngine()

	req := models.Requisition{
		ERPRequisitionID: "PR-4",
		Material:         "TOXIC-AGENT",
		Plant:            "NUCLEAR-SITE",
	}

	score := engine.Score(req)
	require.Equal(t, 20.0+15.0+5.0+5.0, score)

	explanation := engine.Explain(req, score)
	assert.Contains(t, explanation, "high-risk category")
	assert.Contains(t, explanation, "restricted plant")
	assert.Contains(t, explanation, "Unit price data missing")
	assert.Contains(t, explanation, "Quantity data missing")
}

func TestExplainElevatedValueIsExclusiveWithHighValue(t *testing.T) {
	engine := NewEngine()

	req := models.Requisition{Price: f(30), Quantity: f(2)} // total 60

	explanation := engine.Explain(req, engine.Score(req))
	assert.Contains(t, explanation, "elevated threshold")
	assert.NotContains(t, explanation, "high-value threshold")
}
