// Package risk computes 10-year cardiovascular-disease risk by table lookup.
// Two model variants are served: the revised 2019 WHO charts (numeric
// percentage per 21 epidemiological subregions) and the older WHO/ISH charts
// (categorical risk level per 14 subregions). Both follow the same shape:
// continuous inputs are bucketed into the categorical bands of the variant's
// reference table, the bands are joined into a composite key, and the key is
// matched against the table column named by the subregion code. Nothing is
// computed from a formula; a score is strictly a retrieval.
package risk

import (
	"fmt"
)

// Model variant names, used to select a scoring strategy.
const (
	VariantWHO2019 = "who2019"
	VariantWHOISH  = "whoish"
)

// Observation holds one patient's clinical inputs. Sex, smoking and diabetes
// are coded 0/1 (1 = male, smoker, diabetic); blood pressure is systolic
// mmHg; cholesterol is total mmol/L. Values are never mutated once a batch
// is submitted.
type Observation struct {
	Age              int     `json:"age"`
	Sex              int     `json:"sex"`
	SmokingStatus    int     `json:"smoking_status"`
	SystolicBP       float64 `json:"systolic_bp"`
	DiabetesStatus   int     `json:"diabetes_status"`
	TotalCholesterol float64 `json:"total_cholesterol"`

	// PatientRef optionally links the row to a patient record. It plays no
	// part in scoring; it is carried through to persisted assessments.
	PatientRef string `json:"patient_ref,omitempty"`
}

// Warnings returns advisory notes for clinically implausible inputs. They
// never block scoring: an implausible value either still lands in a band or
// surfaces as an unmatched lookup.
func (o Observation) Warnings() []string {
	var w []string
	if o.Age < 19 || o.Age > 100 {
		w = append(w, fmt.Sprintf("age %d outside plausible range 19-100", o.Age))
	}
	if o.SystolicBP < 90 || o.SystolicBP > 250 {
		w = append(w, fmt.Sprintf("systolic blood pressure %g outside plausible range 90-250", o.SystolicBP))
	}
	if o.TotalCholesterol > 10 {
		w = append(w, fmt.Sprintf("total cholesterol %g above plausible maximum 10", o.TotalCholesterol))
	}
	if !isBinary(o.Sex) {
		w = append(w, fmt.Sprintf("sex %d is not 0 or 1", o.Sex))
	}
	if !isBinary(o.SmokingStatus) {
		w = append(w, fmt.Sprintf("smoking status %d is not 0 or 1", o.SmokingStatus))
	}
	if !isBinary(o.DiabetesStatus) {
		w = append(w, fmt.Sprintf("diabetes status %d is not 0 or 1", o.DiabetesStatus))
	}
	return w
}

func isBinary(v int) bool { return v == 0 || v == 1 }

// Result is the outcome for one observation. Unmatched rows (the binned
// categories do not appear in the reference table) have Matched false and no
// value; they are not errors. RiskPercent is set by the 2019 variant,
// RiskLevel by WHO/ISH.
type Result struct {
	Matched     bool     `json:"matched"`
	Key         string   `json:"key"`
	RiskPercent *float64 `json:"risk_percent,omitempty"`
	RiskLevel   *string  `json:"risk_level,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// VariantInfo describes one loaded scoring model.
type VariantInfo struct {
	Name       string `json:"name"`
	ValueKind  string `json:"value_kind"`
	Subregions int    `json:"subregions"`
	TableRows  int    `json:"table_rows"`
}
