package filtering

import (
	"context"
	"fmt"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/storage/store"
)

type scoreFilter struct {
	name     string
	field    func(c store.Candidate) int
	minimum  func(cfg *Config) int
	min      int
	disabled bool
	reason   string
}

// NewMinScore creates a filter that drops candidates below the configured overall score.
func NewMinScore() Filter {
	return &scoreFilter{
		name:    "min_score",
		field:   func(c store.Candidate) int { return c.OverallScore },
		minimum: func(cfg *Config) int { return cfg.MinScore },
	}
}

// NewMinSoftSkills creates a filter that drops candidates below the configured soft skills score.
func NewMinSoftSkills() Filter {
	return &scoreFilter{
		name:    "min_soft_skills",
		field:   func(c store.Candidate) int { return c.SoftSkillsScore },
		minimum: func(cfg *Config) int { return cfg.MinSoftSkills },
	}
}

func (f *scoreFilter) Name() string { return f.name }

func (f *scoreFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *scoreFilter) IsEnabled() bool { return !f.disabled }

func (f *scoreFilter) Validate(cfg *Config) error {
	f.min = 0
	if cfg != nil {
		f.min = f.minimum(cfg)
	}
	if f.min < 0 || f.min > 100 {
		return fmt.Errorf("minimum must be between 0 and 100, got %d", f.min)
	}
	return nil
}

func (f *scoreFilter) Apply(_ context.Context, deps Deps, c []store.Candidate) ([]store.Candidate, Step, error) {
	initial := len(c)
	if f.min == 0 {
		return c, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := lo.FilterReject(c, func(candidate store.Candidate, _ int) bool {
		return f.field(candidate) >= f.min
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding candidates below minimum",
			zap.String("filter", f.name),
			zap.Int("minimum", f.min),
			zap.Strings("excluded_candidates", candidateIDs(dropped)),
			zap.Int("candidates_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *scoreFilter) Status() Status {
	return Status{
		Name:    f.name,
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"minimum": strconv.Itoa(f.min)},
	}
}

func candidateIDs(c []store.Candidate) []string {
	return lo.Map(c, func(candidate store.Candidate, _ int) string { return candidate.ID })
}
