package filtering

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/storage/store"
)

type requiredSkillsFilter struct {
	skills   []string
	disabled bool
	reason   string
}

// NewRequiredSkills creates a filter that keeps candidates listing every required skill.
// Skills are compared case-insensitively.
func NewRequiredSkills() Filter {
	return &requiredSkillsFilter{}
}

func (f *requiredSkillsFilter) Name() string { return "required_skills" }

func (f *requiredSkillsFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *requiredSkillsFilter) IsEnabled() bool { return !f.disabled }

func (f *requiredSkillsFilter) Validate(cfg *Config) error {
	f.skills = nil
	if cfg != nil {
		f.skills = lo.Uniq(lo.FilterMap(cfg.RequiredSkills, func(s string, _ int) (string, bool) {
			s = strings.ToLower(strings.TrimSpace(s))
			return s, s != ""
		}))
	}
	return nil
}

func (f *requiredSkillsFilter) Apply(_ context.Context, deps Deps, c []store.Candidate) ([]store.Candidate, Step, error) {
	initial := len(c)
	if len(f.skills) == 0 {
		return c, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := lo.FilterReject(c, func(candidate store.Candidate, _ int) bool {
		have := lo.Map(candidate.Skills, func(s string, _ int) string {
			return strings.ToLower(strings.TrimSpace(s))
		})
		return lo.Every(have, f.skills)
	})
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding candidates missing required skills",
			zap.Strings("required_skills", f.skills),
			zap.Strings("excluded_candidates", candidateIDs(dropped)),
			zap.Int("candidates_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *requiredSkillsFilter) Status() Status {
	details := map[string]string{}
	if len(f.skills) > 0 {
		details["skills"] = strings.Join(f.skills, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
