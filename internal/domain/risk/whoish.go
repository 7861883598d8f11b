package risk

import (
	"strconv"
	"strings"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

// The 14 WHO epidemiological subregions the WHO/ISH charts are published for.
var whoishSubregions = []string{
	"AFR_D", "AFR_E", "AMR_A", "AMR_B", "AMR_D", "EMR_B", "EMR_D",
	"EUR_A", "EUR_B", "EUR_C", "SEAR_B", "SEAR_D", "WPR_A", "WPR_B",
}

var whoishSubregionSet = subregionSet(whoishSubregions)

// whoish bins observations for the older WHO/ISH charts. Labels are single
// tokens and the composite key concatenates them with no delimiter, so a key
// reads like "600111406".
type whoish struct{}

func (whoish) Name() string { return VariantWHOISH }

func (whoish) Classify(o Observation) [6]string {
	return [6]string{
		ageBandWHOISH(o.Age),
		strconv.Itoa(o.Sex),
		strconv.Itoa(o.DiabetesStatus),
		strconv.Itoa(o.SmokingStatus),
		sbpBandWHOISH(o.SystolicBP),
		cholBandWHOISH(o.TotalCholesterol),
	}
}

func (whoish) Key(labels [6]string) string {
	return strings.Join(labels[:], "")
}

func (whoish) Subregions() []string {
	out := make([]string, len(whoishSubregions))
	copy(out, whoishSubregions)
	return out
}

func (whoish) HasSubregion(code string) bool { return whoishSubregionSet[code] }

func (whoish) decode(raw string, res *Result) error {
	level := raw
	res.RiskLevel = &level
	return nil
}

// ageBandWHOISH maps age in years to a decade label. The charts start at 40
// but adults under 40 score against the lowest decade; under 18 is out of
// scope and stays unclassified.
func ageBandWHOISH(age int) string {
	switch {
	case age < 18:
		return unclassified
	case age < 50:
		return "40"
	case age < 60:
		return "50"
	case age < 70:
		return "60"
	default:
		return "70"
	}
}

// cholBandWHOISH maps total cholesterol (mmol/L) to the chart's whole-number
// label, half-open bands with midpoints at .5. Non-positive readings are
// sentinel missing values, not measurements.
func cholBandWHOISH(chl float64) string {
	switch {
	case chl <= 0:
		return unclassified
	case chl < 4.5:
		return "4"
	case chl < 5.5:
		return "5"
	case chl < 6.5:
		return "6"
	case chl < 7.5:
		return "7"
	default:
		return "8"
	}
}

// sbpBandWHOISH maps systolic blood pressure (mmHg) to the chart's band
// floor. Everything under 140 collapses into the "120" band.
func sbpBandWHOISH(sbp float64) string {
	switch {
	case sbp <= 0:
		return unclassified
	case sbp < 140:
		return "120"
	case sbp < 160:
		return "140"
	case sbp < 180:
		return "160"
	default:
		return "180"
	}
}

// WHOISHSchema describes the WHO/ISH chart asset layout for the table loader.
// Cell values are categorical risk levels, not numbers.
func WHOISHSchema() refdata.Schema {
	return refdata.Schema{
		Variant:    VariantWHOISH,
		KeyColumns: keyColumns(),
		Delimiter:  "",
		Subregions: whoish{}.Subregions(),
		Numeric:    false,
	}
}
