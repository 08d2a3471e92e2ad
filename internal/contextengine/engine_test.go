package contextengine

import (
	"math"
	"testing"

	"clinicalledger/backend/internal/model"
)

func roughlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func TestCalculatePriority_CriticalCardiacCase(t *testing.T) {
	tx := model.Transaction{
		Type: "Emergency Record",
		Payload: model.Payload{
			"chiefComplaint": "Cardiac Arrest, stat",
			"severity":       "Cardiac Arrest",
		},
	}

	bd := New().CalculatePriority(tx, nil)

	if !roughlyEqual(bd.Criticality, 0.95) {
		t.Errorf("criticality = %v, want 0.95", bd.Criticality)
	}
	if !roughlyEqual(bd.Sensitivity, 0.95) {
		t.Errorf("sensitivity = %v, want 0.95", bd.Sensitivity)
	}
	if !roughlyEqual(bd.Resources, 0.50) {
		t.Errorf("resources = %v, want 0.50", bd.Resources)
	}
	if !roughlyEqual(bd.Compliance, 0.10) {
		t.Errorf("compliance = %v, want 0.10", bd.Compliance)
	}
	if !roughlyEqual(bd.Priority, 0.82) {
		t.Errorf("priority = %v, want ~0.82", bd.Priority)
	}
}

func TestCalculatePriority_RoutineLab(t *testing.T) {
	tx := model.Transaction{
		Type: "Lab Result",
		Payload: model.Payload{
			"testType": "CBC",
			"status":   "Normal",
			"notes":    "routine",
		},
	}

	bd := New().CalculatePriority(tx, nil)

	if !roughlyEqual(bd.Criticality, 0.50) {
		t.Errorf("criticality = %v, want 0.50", bd.Criticality)
	}
	if !roughlyEqual(bd.Sensitivity, 0.40) {
		t.Errorf("sensitivity = %v, want 0.40", bd.Sensitivity)
	}
	if !roughlyEqual(bd.Priority, 0.425) {
		t.Errorf("priority = %v, want ~0.425", bd.Priority)
	}
}

func TestCalculatePriority_NoKeywordMatchFallsBackToDefaults(t *testing.T) {
	tx := model.Transaction{Type: "Misc Record", Payload: model.Payload{"note": "nothing special here"}}

	bd := New().CalculatePriority(tx, nil)

	if bd.Criticality != defaultCriticality {
		t.Errorf("criticality = %v, want default %v", bd.Criticality, defaultCriticality)
	}
	if bd.Sensitivity != defaultSensitivity {
		t.Errorf("sensitivity = %v, want default %v", bd.Sensitivity, defaultSensitivity)
	}
	if bd.Compliance != defaultCompliance {
		t.Errorf("compliance = %v, want default %v", bd.Compliance, defaultCompliance)
	}
}

func TestCalculatePriority_ResourcesReflectMempoolPressure(t *testing.T) {
	tx := model.Transaction{Type: "Routine Checkup", Payload: model.Payload{}}

	empty := &model.MempoolStats{Capacity1: 100, Capacity2: 2000, Capacity3: 8000, ValidatorsOnline: 10, ValidatorsTotal: 10}
	full := &model.MempoolStats{Size1: 100, Size2: 2000, Size3: 8000, Capacity1: 100, Capacity2: 2000, Capacity3: 8000, ValidatorsOnline: 1, ValidatorsTotal: 10}

	bdEmpty := New().CalculatePriority(tx, empty)
	bdFull := New().CalculatePriority(tx, full)

	if bdEmpty.Resources <= bdFull.Resources {
		t.Errorf("expected resources score to drop as mempool fills and validators go offline: empty=%v full=%v", bdEmpty.Resources, bdFull.Resources)
	}
}

func TestCalculatePriority_PriorityAlwaysClamped(t *testing.T) {
	tx := model.Transaction{
		Type: "Cardiac Arrest Emergency",
		Payload: model.Payload{
			"note": "stat controlled substance prescription urgent",
		},
	}
	bd := New().CalculatePriority(tx, nil)
	if bd.Priority < 0 || bd.Priority > 1 {
		t.Fatalf("priority out of range: %v", bd.Priority)
	}
}

func TestCalculatePriority_KeywordOrderIsTieBreak(t *testing.T) {
	// "stroke" precedes "sepsis"/"trauma" in the table; a payload containing
	// both must resolve to the stroke score.
	tx := model.Transaction{Type: "Note", Payload: model.Payload{"text": "possible stroke vs trauma"}}
	bd := New().CalculatePriority(tx, nil)
	if !roughlyEqual(bd.Criticality, 0.93) {
		t.Errorf("criticality = %v, want 0.93 (stroke wins over trauma by list order)", bd.Criticality)
	}
}

func TestCalculatePriority_NestedPayloadLeavesAreWalked(t *testing.T) {
	tx := model.Transaction{
		Type: "Emergency Record",
		Payload: model.Payload{
			"vitals": map[string]any{
				"notes": []any{"patient in stable condition", map[string]any{"flag": "cardiac arrest suspected"}},
			},
		},
	}
	bd := New().CalculatePriority(tx, nil)
	if !roughlyEqual(bd.Criticality, 0.95) {
		t.Errorf("criticality = %v, want 0.95 from nested leaf", bd.Criticality)
	}
}
