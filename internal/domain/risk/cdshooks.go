package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/cdshooks"
)

const (
	cdsServiceWHO2019 = "cvd-risk-who2019"
	cdsServiceWHOISH  = "cvd-risk-whoish"
)

var cdsSource = cdshooks.Source{Label: "WHO CVD risk charts"}

// RegisterCDSServices publishes both risk models as patient-view CDS
// services. Hook context carries the subregion and the raw measurements;
// anything missing yields an empty card list rather than an error.
func RegisterCDSServices(h *cdshooks.Handler, svc *Service) {
	h.Register(cdshooks.Service{
		Hook:        "patient-view",
		Title:       "CVD Risk (WHO 2019)",
		Description: "Estimates 10-year cardiovascular risk from the revised 2019 WHO charts.",
		ID:          cdsServiceWHO2019,
	}, cardHandler(svc, VariantWHO2019))

	h.Register(cdshooks.Service{
		Hook:        "patient-view",
		Title:       "CVD Risk (WHO/ISH)",
		Description: "Estimates 10-year cardiovascular risk from the WHO/ISH charts.",
		ID:          cdsServiceWHOISH,
	}, cardHandler(svc, VariantWHOISH))
}

func cardHandler(svc *Service, model string) cdshooks.ServiceHandler {
	return func(ctx context.Context, req cdshooks.HookRequest) (*cdshooks.HookResponse, error) {
		obs, subregion, ok := observationFromContext(req.Context)
		if !ok {
			return &cdshooks.HookResponse{Cards: []cdshooks.Card{}}, nil
		}

		results, err := svc.Score(ctx, model, subregion, []Observation{obs})
		if err != nil {
			return nil, err
		}

		return &cdshooks.HookResponse{
			Cards: []cdshooks.Card{buildCard(model, subregion, results[0])},
		}, nil
	}
}

// observationFromContext pulls the measurements out of the hook context.
// JSON numbers arrive as float64 regardless of the field's natural type.
func observationFromContext(ctx map[string]interface{}) (Observation, string, bool) {
	subregion, _ := ctx["subregion"].(string)
	if subregion == "" {
		return Observation{}, "", false
	}

	num := func(key string) (float64, bool) {
		f, ok := ctx[key].(float64)
		return f, ok
	}

	age, okAge := num("age")
	sex, okSex := num("sex")
	smoking, okSmoking := num("smoking_status")
	sbp, okSBP := num("systolic_bp")
	diabetes, okDiabetes := num("diabetes_status")
	chl, okChl := num("total_cholesterol")
	if !okAge || !okSex || !okSmoking || !okSBP || !okDiabetes || !okChl {
		return Observation{}, "", false
	}

	o := Observation{
		Age:              int(age),
		Sex:              int(sex),
		SmokingStatus:    int(smoking),
		SystolicBP:       sbp,
		DiabetesStatus:   int(diabetes),
		TotalCholesterol: chl,
	}
	if pid, ok := ctx["patientId"].(string); ok {
		o.PatientRef = pid
	}
	return o, subregion, true
}

func buildCard(model, subregion string, r Result) cdshooks.Card {
	card := cdshooks.Card{
		UUID:      uuid.New().String(),
		Indicator: "info",
		Source:    cdsSource,
	}

	switch {
	case !r.Matched:
		card.Summary = "CVD risk could not be determined"
	case model == VariantWHO2019:
		card.Summary = fmt.Sprintf("10-year CVD risk: %.1f%%", *r.RiskPercent)
		card.Indicator = indicatorWHO2019(*r.RiskPercent)
	default:
		card.Summary = fmt.Sprintf("10-year CVD risk: %s", *r.RiskLevel)
		card.Indicator = indicatorWHOISH(*r.RiskLevel)
	}

	detail := fmt.Sprintf("Model: %s\nSubregion: %s\nChart row: %s", model, subregion, r.Key)
	if len(r.Warnings) > 0 {
		detail += "\nWarnings: " + strings.Join(r.Warnings, "; ")
	}
	card.Detail = detail
	return card
}

func indicatorWHO2019(percent float64) string {
	switch {
	case percent >= 30:
		return "critical"
	case percent >= 10:
		return "warning"
	default:
		return "info"
	}
}

func indicatorWHOISH(level string) string {
	switch level {
	case ">=40%":
		return "critical"
	case "20%-<30%", "30%-<40%":
		return "warning"
	default:
		return "info"
	}
}
