// Package scoring asks a language model to score a resume.
package scoring

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/ai"
	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/utils"
)

const (
	// DefaultSoftSkillsScore is used when the model does not provide one.
	DefaultSoftSkillsScore = 65

	fallbackOverallScore = 50
	defaultMaxLogLength  = 200
	resumePlaceholder    = "{{RESUME_TEXT}}"
)

//go:embed prompt.md
var promptTemplate string

// ErrEmptyResume is returned when there is no text to analyze.
var ErrEmptyResume = errors.New("resume text is empty")

// Analysis is the structured result of scoring a resume.
type Analysis struct {
	Name            string            `json:"name,omitempty"`
	Email           string            `json:"email,omitempty"`
	Skills          []string          `json:"skills"`
	OverallScore    int               `json:"overall_score"`
	SoftSkillsScore int               `json:"soft_skills_score"`
	Explanations    map[string]string `json:"explanations,omitempty"`
}

// Scorer evaluates resumes with a generator.
type Scorer struct {
	generator ai.Generator
	logger    *zap.Logger
	sink      events.Sink
	maxLogLen int
}

func NewScorer(generator ai.Generator, logger *zap.Logger, sink events.Sink, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scorer{
		generator: generator,
		logger:    logger,
		sink:      events.OrNop(sink),
		maxLogLen: maxLogLength,
	}
}

// Analyze scores the resume text.
func (s *Scorer) Analyze(ctx context.Context, resumeText string) (*Analysis, error) {
	resumeText = strings.TrimSpace(strings.ToValidUTF8(resumeText, "�"))
	if resumeText == "" {
		return nil, ErrEmptyResume
	}
	if s.generator == nil {
		return nil, errors.New("scoring generator is not configured")
	}

	prompt := BuildPrompt(resumeText)

	s.logger.Debug("scoring request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)
	s.sink.Emit(events.ComponentScoring, events.LevelInfo, "Processing resume content with "+s.generator.Model())

	raw, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		s.sink.Emit(events.ComponentScoring, events.LevelError, "Analysis failed: "+err.Error())
		return nil, err
	}

	s.logger.Debug("scoring response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	analysis, err := ParseResponse(raw)
	if err != nil {
		s.sink.Emit(events.ComponentScoring, events.LevelError, "Analysis failed: "+err.Error())
		return nil, err
	}

	s.sink.Emit(events.ComponentScoring, events.LevelSuccess,
		fmt.Sprintf("Analysis complete: overall %d, soft skills %d", analysis.OverallScore, analysis.SoftSkillsScore))

	return analysis, nil
}

// BuildPrompt places the resume text into the embedded template.
func BuildPrompt(resumeText string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Resume text:\n" + resumePlaceholder
	}
	return strings.ReplaceAll(template, resumePlaceholder, resumeText)
}

// ParseResponse decodes a model response, tolerating code fences and loosely
// typed values.
func ParseResponse(raw string) (*Analysis, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse scoring response: %w", err)
	}

	analysis := &Analysis{
		Name:            coerceString(data["name"]),
		Email:           coerceString(data["email"]),
		Skills:          normalizeSkills(data["skills"]),
		OverallScore:    clampScore(coerceFloat(data["overall_score"]), 0),
		SoftSkillsScore: clampScore(coerceFloat(data["soft_skills_score"]), DefaultSoftSkillsScore),
		Explanations:    coerceStringMap(data["explanations"]),
	}

	if analysis.SoftSkillsScore == 0 {
		analysis.SoftSkillsScore = DefaultSoftSkillsScore
	}

	return analysis, nil
}

// Fallback is the placeholder analysis returned when scoring fails.
func Fallback() *Analysis {
	return &Analysis{
		Name:            "Parse Error",
		Skills:          []string{"Error parsing resume"},
		OverallScore:    fallbackOverallScore,
		SoftSkillsScore: DefaultSoftSkillsScore,
		Explanations: map[string]string{
			"error":   "Failed to analyze resume. Please try again.",
			"example": "Expected format: {name, email, skills[], overall_score, soft_skills_score, explanations{}}",
		},
	}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func normalizeSkills(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}

	skills := lo.FilterMap(items, func(item any, _ int) (string, bool) {
		skill := coerceString(item)
		return skill, skill != ""
	})

	return lo.UniqBy(skills, strings.ToLower)
}

func clampScore(score float64, fallback int) int {
	if math.IsNaN(score) {
		return fallback
	}
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if text := coerceString(value); text != "" {
			out[key] = text
		}
	}
	return out
}

// DocumentText returns the text of an uploaded resume. Binary documents are
// not parsed; they are replaced by a short description of the upload.
func DocumentText(name string, data []byte) string {
	if len(data) == 0 || bytes.IndexByte(data, 0) >= 0 {
		return fmt.Sprintf("Resume file: %s (%d bytes). Content extraction not implemented for binary files.", name, len(data))
	}
	return string(data)
}
