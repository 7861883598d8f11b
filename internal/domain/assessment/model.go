// Package assessment stores the history of scored observations and serves it
// back for review. Rows are written as a side effect of scoring and are
// immutable afterwards.
package assessment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Assessment maps to the risk_assessments table: one scored observation,
// inputs and outcome side by side. RiskPercent is populated by the 2019
// model, RiskLevel by WHO/ISH; a miss carries neither.
type Assessment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ModelVariant     string    `db:"model_variant" json:"model_variant"`
	Subregion        string    `db:"subregion" json:"subregion"`
	PatientRef       *string   `db:"patient_ref" json:"patient_ref,omitempty"`
	Age              int       `db:"age" json:"age"`
	Sex              int       `db:"sex" json:"sex"`
	SmokingStatus    int       `db:"smoking_status" json:"smoking_status"`
	SystolicBP       float64   `db:"systolic_bp" json:"systolic_bp"`
	DiabetesStatus   int       `db:"diabetes_status" json:"diabetes_status"`
	TotalCholesterol float64   `db:"total_cholesterol" json:"total_cholesterol"`
	CompositeKey     string    `db:"composite_key" json:"composite_key"`
	Matched          bool      `db:"matched" json:"matched"`
	RiskPercent      *float64  `db:"risk_percent" json:"risk_percent,omitempty"`
	RiskLevel        *string   `db:"risk_level" json:"risk_level,omitempty"`
	Warnings         []string  `db:"warnings" json:"warnings,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ToFHIR renders the row as a FHIR RiskAssessment resource for EHR clients.
func (a *Assessment) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "RiskAssessment",
		"id":           a.ID.String(),
		"status":       "final",
		"method": map[string]interface{}{
			"coding": []map[string]string{{"code": a.ModelVariant, "display": methodDisplay(a.ModelVariant)}},
		},
		"occurrenceDateTime": a.CreatedAt.Format(time.RFC3339),
	}
	if a.PatientRef != nil {
		result["subject"] = map[string]string{"reference": "Patient/" + *a.PatientRef}
	}
	if a.Matched {
		prediction := map[string]interface{}{}
		if a.RiskPercent != nil {
			prediction["probabilityDecimal"] = *a.RiskPercent
		}
		if a.RiskLevel != nil {
			prediction["qualitativeRisk"] = map[string]interface{}{
				"coding": []map[string]string{{"display": *a.RiskLevel}},
			}
		}
		result["prediction"] = []interface{}{prediction}
	}
	if len(a.Warnings) > 0 {
		notes := make([]map[string]string, 0, len(a.Warnings))
		for _, w := range a.Warnings {
			notes = append(notes, map[string]string{"text": w})
		}
		result["note"] = notes
	}
	return result
}

func methodDisplay(variant string) string {
	switch variant {
	case "who2019":
		return "WHO CVD risk charts (2019 revision)"
	case "whoish":
		return "WHO/ISH CVD risk charts"
	default:
		return variant
	}
}

// Filter narrows List queries. Zero values mean no constraint.
type Filter struct {
	ModelVariant string
	Subregion    string
	PatientRef   string
	Matched      *bool
}

// Repository defines the persistence interface.
type Repository interface {
	CreateBatch(ctx context.Context, items []*Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Assessment, int, error)
}
