package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

const who2019Delimiter = "_"

// The 21 Global Burden of Disease regions the 2019 WHO charts are published
// for. Column order in the reference asset is free; this order is canonical
// for discovery responses.
var who2019Subregions = []string{
	"AND_LAT", "AUS", "CAR", "CEN_ASIA", "CEN_EUR", "CEN_LAT", "CEN_SSA",
	"EAS_ASIA", "EAS_EUR", "EAS_SSA", "HI_AP", "HI_NAM", "NAF_MDE", "OCE",
	"SE_ASIA", "SOU_ASIA", "SOU_LAT", "SOU_SSA", "TRO_LAT", "WES_EUR", "WES_SSA",
}

var who2019SubregionSet = subregionSet(who2019Subregions)

// who2019 bins observations for the revised 2019 WHO charts. Band labels are
// table keys verbatim; changing a label breaks every lookup against the
// published asset.
type who2019 struct{}

func (who2019) Name() string { return VariantWHO2019 }

func (who2019) Classify(o Observation) [6]string {
	return [6]string{
		ageBand2019(o.Age),
		strconv.Itoa(o.Sex),
		strconv.Itoa(o.DiabetesStatus),
		strconv.Itoa(o.SmokingStatus),
		sbpBand2019(o.SystolicBP),
		cholBand2019(o.TotalCholesterol),
	}
}

func (who2019) Key(labels [6]string) string {
	return strings.Join(labels[:], who2019Delimiter)
}

func (who2019) Subregions() []string {
	out := make([]string, len(who2019Subregions))
	copy(out, who2019Subregions)
	return out
}

func (who2019) HasSubregion(code string) bool { return who2019SubregionSet[code] }

func (who2019) decode(raw string, res *Result) error {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse risk percentage %q: %w", raw, err)
	}
	res.RiskPercent = &f
	return nil
}

// ageBand2019 maps age in years to a chart band. The bottom band has no
// enforced lower bound and the top band is open-ended: ages past 74 still
// score against the "70-74" row.
func ageBand2019(age int) string {
	switch {
	case age <= 44:
		return "40-44"
	case age <= 49:
		return "45-49"
	case age <= 54:
		return "50-54"
	case age <= 59:
		return "55-59"
	case age <= 64:
		return "60-64"
	case age <= 69:
		return "65-69"
	default:
		return "70-74"
	}
}

// cholBand2019 maps total cholesterol (mmol/L) to a chart band. Band bounds
// are strict on both sides: a value exactly on an integer boundary (4.0,
// 5.0, 6.0, 7.0) belongs to no band and stays unclassified. That gap is part
// of the published table contract and must not be smoothed over.
func cholBand2019(chl float64) string {
	switch {
	case chl < 4:
		return "<4"
	case chl > 4 && chl < 5:
		return "4-4.9"
	case chl > 5 && chl < 6:
		return "5-5.9"
	case chl > 6 && chl < 7:
		return "6-6.9"
	case chl > 7:
		return ">=7"
	default:
		return unclassified
	}
}

// sbpBand2019 maps systolic blood pressure (mmHg) to a chart band, with the
// same strict-boundary policy as cholBand2019: exactly 120, 140, 160 or 180
// stays unclassified.
func sbpBand2019(sbp float64) string {
	switch {
	case sbp < 120:
		return "<120"
	case sbp > 120 && sbp < 140:
		return "120-139"
	case sbp > 140 && sbp < 160:
		return "140-159"
	case sbp > 160 && sbp < 180:
		return "160-179"
	case sbp > 180:
		return ">=180"
	default:
		return unclassified
	}
}

// WHO2019Schema describes the 2019 chart asset layout for the table loader.
func WHO2019Schema() refdata.Schema {
	return refdata.Schema{
		Variant:    VariantWHO2019,
		KeyColumns: keyColumns(),
		Delimiter:  who2019Delimiter,
		Subregions: who2019{}.Subregions(),
		Numeric:    true,
	}
}
