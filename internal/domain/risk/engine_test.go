package risk

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

func loadWHO2019Table(t *testing.T) *refdata.Table {
	t.Helper()
	tbl, err := refdata.Load(filepath.Join("testdata", "who2019_table.csv"), WHO2019Schema())
	if err != nil {
		t.Fatalf("load who2019 table: %v", err)
	}
	return tbl
}

func loadWHOISHTable(t *testing.T) *refdata.Table {
	t.Helper()
	tbl, err := refdata.Load(filepath.Join("testdata", "whoish_table.csv"), WHOISHSchema())
	if err != nil {
		t.Fatalf("load whoish table: %v", err)
	}
	return tbl
}

func TestEvaluate_UnknownSubregion(t *testing.T) {
	tbl := loadWHO2019Table(t)
	obs := []Observation{{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.2}}
	_, err := evaluate(who2019{}, tbl, "ZZZZ", obs)
	if !errors.Is(err, ErrUnknownSubregion) {
		t.Fatalf("expected ErrUnknownSubregion, got %v", err)
	}
}

func TestEvaluate_CrossModelSubregion(t *testing.T) {
	tbl := loadWHO2019Table(t)
	obs := []Observation{{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.2}}
	// EUR_A is a WHO/ISH code, not a 2019 one.
	_, err := evaluate(who2019{}, tbl, "EUR_A", obs)
	if !errors.Is(err, ErrUnknownSubregion) {
		t.Fatalf("expected ErrUnknownSubregion, got %v", err)
	}
}

func TestEvaluate_MissIsNotError(t *testing.T) {
	tbl := loadWHO2019Table(t)
	// Female 52 with this profile has no row in the fixture.
	obs := []Observation{{Age: 52, Sex: 0, SystolicBP: 130, TotalCholesterol: 5.2}}
	results, err := evaluate(who2019{}, tbl, "WES_EUR", obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Matched {
		t.Error("expected a miss")
	}
	if results[0].RiskPercent != nil {
		t.Error("expected nil risk percent on miss")
	}
	if results[0].Key != "50-54_0_0_0_120-139_5-5.9" {
		t.Errorf("expected key to be reported on miss, got %q", results[0].Key)
	}
}

func TestEvaluate_OrderPreserved(t *testing.T) {
	tbl := loadWHO2019Table(t)
	obs := []Observation{
		{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.2},
		{Age: 72, Sex: 0, DiabetesStatus: 1, SmokingStatus: 1, SystolicBP: 190, TotalCholesterol: 8.1},
		{Age: 43, Sex: 0, SmokingStatus: 1, SystolicBP: 110, TotalCholesterol: 3.2},
	}
	results, err := evaluate(who2019{}, tbl, "WES_EUR", obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(obs) {
		t.Fatalf("expected %d results, got %d", len(obs), len(results))
	}
	wantKeys := []string{
		"50-54_1_0_0_120-139_5-5.9",
		"70-74_0_1_1_>=180_>=7",
		"40-44_0_0_1_<120_<4",
	}
	wantRisk := []float64{7.1, 38.0, 1.4}
	for i := range results {
		if results[i].Key != wantKeys[i] {
			t.Errorf("result %d: expected key %q, got %q", i, wantKeys[i], results[i].Key)
		}
		if results[i].RiskPercent == nil || *results[i].RiskPercent != wantRisk[i] {
			t.Errorf("result %d: expected risk %.1f, got %v", i, wantRisk[i], results[i].RiskPercent)
		}
	}
}

func TestEvaluate_LargeBatchMatchesSequential(t *testing.T) {
	tbl := loadWHO2019Table(t)
	profiles := []Observation{
		{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.2},
		{Age: 72, Sex: 0, DiabetesStatus: 1, SmokingStatus: 1, SystolicBP: 190, TotalCholesterol: 8.1},
		{Age: 43, Sex: 0, SmokingStatus: 1, SystolicBP: 110, TotalCholesterol: 3.2},
		{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.0},
	}
	batch := make([]Observation, 10*parallelThreshold)
	for i := range batch {
		batch[i] = profiles[i%len(profiles)]
	}

	got, err := evaluate(who2019{}, tbl, "WES_EUR", batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(batch) {
		t.Fatalf("expected %d results, got %d", len(batch), len(got))
	}
	for i := range batch {
		want, err := evaluate(who2019{}, tbl, "WES_EUR", batch[i:i+1])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got[i].Matched != want[0].Matched || got[i].Key != want[0].Key {
			t.Fatalf("result %d diverges from sequential scoring: %+v vs %+v", i, got[i], want[0])
		}
		if (got[i].RiskPercent == nil) != (want[0].RiskPercent == nil) {
			t.Fatalf("result %d risk presence diverges", i)
		}
		if got[i].RiskPercent != nil && *got[i].RiskPercent != *want[0].RiskPercent {
			t.Fatalf("result %d: expected risk %.1f, got %.1f", i, *want[0].RiskPercent, *got[i].RiskPercent)
		}
	}
}

func TestEvaluate_BadCellValue(t *testing.T) {
	schema := WHO2019Schema()
	schema.Numeric = false

	vals := make([]string, len(schema.Subregions))
	for i := range vals {
		vals[i] = "not-a-number"
	}
	header := append(keyColumns(), schema.Subregions...)
	row := append([]string{"50-54", "1", "0", "0", "120-139", "5-5.9"}, vals...)
	input := strings.Join(header, ",") + "\n" + strings.Join(row, ",") + "\n"

	tbl, err := refdata.Read(strings.NewReader(input), schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obs := []Observation{{Age: 52, Sex: 1, SystolicBP: 130, TotalCholesterol: 5.2}}
	_, err = evaluate(who2019{}, tbl, "WES_EUR", obs)
	if err == nil {
		t.Fatal("expected error for undecodable cell")
	}
	if !strings.Contains(err.Error(), "50-54_1_0_0_120-139_5-5.9") {
		t.Errorf("expected error to name the row key, got %v", err)
	}
}

// ── Round trips over every fixture row ──

var who2019AgeInputs = map[string]int{
	"40-44": 42, "45-49": 47, "50-54": 52, "55-59": 57,
	"60-64": 62, "65-69": 67, "70-74": 72,
}

var who2019SBPInputs = map[string]float64{
	"<120": 110, "120-139": 130, "140-159": 150, "160-179": 170, ">=180": 190,
}

var who2019ChlInputs = map[string]float64{
	"<4": 3.5, "4-4.9": 4.5, "5-5.9": 5.5, "6-6.9": 6.5, ">=7": 7.6,
}

var whoishAgeInputs = map[string]int{"40": 45, "50": 55, "60": 65, "70": 75}

var whoishSBPInputs = map[string]float64{"120": 125, "140": 150, "160": 170, "180": 190}

var whoishChlInputs = map[string]float64{"4": 4.0, "5": 5.0, "6": 6.0, "7": 7.0, "8": 8.0}

func obsFromLabels(t *testing.T, labels []string, ages map[string]int, sbps, chls map[string]float64) Observation {
	t.Helper()
	age, ok := ages[labels[0]]
	if !ok {
		t.Fatalf("no representative age for label %q", labels[0])
	}
	sbp, ok := sbps[labels[4]]
	if !ok {
		t.Fatalf("no representative sbp for label %q", labels[4])
	}
	chl, ok := chls[labels[5]]
	if !ok {
		t.Fatalf("no representative cholesterol for label %q", labels[5])
	}
	sex, _ := strconv.Atoi(labels[1])
	diabetes, _ := strconv.Atoi(labels[2])
	smoking, _ := strconv.Atoi(labels[3])
	return Observation{
		Age:              age,
		Sex:              sex,
		SmokingStatus:    smoking,
		SystolicBP:       sbp,
		DiabetesStatus:   diabetes,
		TotalCholesterol: chl,
	}
}

func TestRoundTrip_WHO2019Rows(t *testing.T) {
	tbl := loadWHO2019Table(t)
	for i := 0; i < tbl.Len(); i++ {
		key := tbl.KeyAt(i)
		o := obsFromLabels(t, tbl.LabelsAt(i), who2019AgeInputs, who2019SBPInputs, who2019ChlInputs)
		for _, code := range []string{"WES_EUR", "HI_NAM", "SE_ASIA"} {
			results, err := evaluate(who2019{}, tbl, code, []Observation{o})
			if err != nil {
				t.Fatalf("row %d: unexpected error: %v", i, err)
			}
			r := results[0]
			if !r.Matched || r.Key != key {
				t.Fatalf("row %d code %s: expected match for %q, got matched=%v key=%q", i, code, key, r.Matched, r.Key)
			}
			raw, _ := tbl.Value(key, code)
			want, _ := strconv.ParseFloat(raw, 64)
			if r.RiskPercent == nil || *r.RiskPercent != want {
				t.Errorf("row %d code %s: expected risk %.1f, got %v", i, code, want, r.RiskPercent)
			}
		}
	}
}

func TestRoundTrip_WHOISHRows(t *testing.T) {
	tbl := loadWHOISHTable(t)
	for i := 0; i < tbl.Len(); i++ {
		key := tbl.KeyAt(i)
		o := obsFromLabels(t, tbl.LabelsAt(i), whoishAgeInputs, whoishSBPInputs, whoishChlInputs)
		for _, code := range []string{"EUR_A", "AFR_D", "WPR_B"} {
			results, err := evaluate(whoish{}, tbl, code, []Observation{o})
			if err != nil {
				t.Fatalf("row %d: unexpected error: %v", i, err)
			}
			r := results[0]
			if !r.Matched || r.Key != key {
				t.Fatalf("row %d code %s: expected match for %q, got matched=%v key=%q", i, code, key, r.Matched, r.Key)
			}
			want, _ := tbl.Value(key, code)
			if r.RiskLevel == nil || *r.RiskLevel != want {
				t.Errorf("row %d code %s: expected level %q, got %v", i, code, want, r.RiskLevel)
			}
			if r.RiskPercent != nil {
				t.Errorf("row %d: whoish results must not carry a percent", i)
			}
		}
	}
}
