package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DylanRJCollins/whoishRisk/internal/domain/risk"
)

var validVariants = map[string]bool{
	risk.VariantWHO2019: true,
	risk.VariantWHOISH:  true,
}

// Service owns assessment persistence. It implements risk.Recorder so the
// scoring service can hand off batches without knowing about storage.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecordScores persists one scored batch. Observations and results pair up
// by index.
func (s *Service) RecordScores(ctx context.Context, model, subregion string, obs []risk.Observation, results []risk.Result) error {
	if len(obs) != len(results) {
		return fmt.Errorf("observations and results differ in length: %d vs %d", len(obs), len(results))
	}
	items := make([]*Assessment, len(obs))
	for i := range obs {
		items[i] = fromScore(model, subregion, obs[i], results[i])
	}
	return s.repo.CreateBatch(ctx, items)
}

func fromScore(model, subregion string, o risk.Observation, r risk.Result) *Assessment {
	a := &Assessment{
		ModelVariant:     model,
		Subregion:        subregion,
		Age:              o.Age,
		Sex:              o.Sex,
		SmokingStatus:    o.SmokingStatus,
		SystolicBP:       o.SystolicBP,
		DiabetesStatus:   o.DiabetesStatus,
		TotalCholesterol: o.TotalCholesterol,
		CompositeKey:     r.Key,
		Matched:          r.Matched,
		RiskPercent:      r.RiskPercent,
		RiskLevel:        r.RiskLevel,
		Warnings:         r.Warnings,
	}
	if o.PatientRef != "" {
		ref := o.PatientRef
		a.PatientRef = &ref
	}
	return a
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Assessment, int, error) {
	if f.ModelVariant != "" && !validVariants[f.ModelVariant] {
		return nil, 0, fmt.Errorf("invalid model_variant %q", f.ModelVariant)
	}
	return s.repo.List(ctx, f, limit, offset)
}
