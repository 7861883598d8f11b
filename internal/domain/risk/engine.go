package risk

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

// ErrUnknownSubregion is returned when a subregion code does not belong to
// the requested chart variant. It is checked before any observation is
// scored.
var ErrUnknownSubregion = errors.New("unknown subregion")

// unclassified marks an input that falls outside every band of its factor.
// The label never appears in a reference table key, so any key containing it
// misses cleanly.
const unclassified = "NA"

// Batches at least this large are scored in parallel chunks.
const parallelThreshold = 64

// variant is the strategy for one chart family: how observations bin, how
// labels join into a row key, which subregion columns exist, and how a cell
// value decodes into a Result.
type variant interface {
	Name() string
	Classify(o Observation) [6]string
	Key(labels [6]string) string
	Subregions() []string
	HasSubregion(code string) bool
	decode(raw string, res *Result) error
}

// keyColumns is the canonical key column order shared by both chart assets:
// age, sex, diabetes, smoking, blood pressure, cholesterol.
func keyColumns() []string {
	return []string{"age", "sex", "diabetes", "smoking", "sbp", "chl"}
}

func subregionSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

// evaluate scores a batch against one variant's table. Results keep the
// order of the input batch. Table misses are not errors; an unknown
// subregion or an undecodable cell is.
func evaluate(v variant, t *refdata.Table, subregion string, obs []Observation) ([]Result, error) {
	if !v.HasSubregion(subregion) {
		return nil, fmt.Errorf("%s subregion %q: %w", v.Name(), subregion, ErrUnknownSubregion)
	}

	results := make([]Result, len(obs))
	if len(obs) < parallelThreshold {
		for i := range obs {
			if err := scoreRow(v, t, subregion, obs[i], &results[i]); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(obs); start += parallelThreshold {
		start := start
		end := min(start+parallelThreshold, len(obs))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := scoreRow(v, t, subregion, obs[i], &results[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func scoreRow(v variant, t *refdata.Table, subregion string, o Observation, res *Result) error {
	labels := v.Classify(o)
	res.Key = v.Key(labels)
	res.Warnings = o.Warnings()

	raw, ok := t.Value(res.Key, subregion)
	if !ok {
		return nil
	}
	res.Matched = true
	if err := v.decode(raw, res); err != nil {
		return fmt.Errorf("%s row %q column %s: %w", v.Name(), res.Key, subregion, err)
	}
	return nil
}
