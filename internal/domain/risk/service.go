package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/refdata"
)

// ErrUnknownVariant is returned when a request names a risk model this
// service does not serve.
var ErrUnknownVariant = errors.New("unknown risk model")

// Recorder persists scored observations for later review. Recording is best
// effort: scoring never fails because persistence did.
type Recorder interface {
	RecordScores(ctx context.Context, model, subregion string, obs []Observation, results []Result) error
}

// Service scores observations against the loaded chart tables.
type Service struct {
	who2019Table *refdata.Table
	whoishTable  *refdata.Table
	rec          Recorder
}

// NewService wires the two chart tables and an optional Recorder. Pass a nil
// Recorder to disable persistence.
func NewService(who2019Table, whoishTable *refdata.Table, rec Recorder) *Service {
	return &Service{who2019Table: who2019Table, whoishTable: whoishTable, rec: rec}
}

// ScoreWHO2019 scores a batch against the revised 2019 WHO charts.
func (s *Service) ScoreWHO2019(ctx context.Context, subregion string, obs []Observation) ([]Result, error) {
	return s.score(ctx, who2019{}, s.who2019Table, subregion, obs)
}

// ScoreWHOISH scores a batch against the older WHO/ISH charts.
func (s *Service) ScoreWHOISH(ctx context.Context, subregion string, obs []Observation) ([]Result, error) {
	return s.score(ctx, whoish{}, s.whoishTable, subregion, obs)
}

// Score dispatches to the named risk model.
func (s *Service) Score(ctx context.Context, model, subregion string, obs []Observation) ([]Result, error) {
	switch model {
	case VariantWHO2019:
		return s.ScoreWHO2019(ctx, subregion, obs)
	case VariantWHOISH:
		return s.ScoreWHOISH(ctx, subregion, obs)
	default:
		return nil, fmt.Errorf("risk model %q: %w", model, ErrUnknownVariant)
	}
}

func (s *Service) score(ctx context.Context, v variant, t *refdata.Table, subregion string, obs []Observation) ([]Result, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("observations are required")
	}
	results, err := evaluate(v, t, subregion, obs)
	if err != nil {
		return nil, err
	}
	if s.rec != nil {
		_ = s.rec.RecordScores(ctx, v.Name(), subregion, obs, results)
	}
	return results, nil
}

// Variants describes the loaded risk models.
func (s *Service) Variants() []VariantInfo {
	return []VariantInfo{
		{
			Name:       VariantWHO2019,
			ValueKind:  "percent",
			Subregions: len(who2019Subregions),
			TableRows:  s.who2019Table.Len(),
		},
		{
			Name:       VariantWHOISH,
			ValueKind:  "level",
			Subregions: len(whoishSubregions),
			TableRows:  s.whoishTable.Len(),
		},
	}
}

// Subregions lists the subregion codes a risk model is published for.
func (s *Service) Subregions(model string) ([]string, error) {
	switch model {
	case VariantWHO2019:
		return who2019{}.Subregions(), nil
	case VariantWHOISH:
		return whoish{}.Subregions(), nil
	default:
		return nil, fmt.Errorf("risk model %q: %w", model, ErrUnknownVariant)
	}
}
