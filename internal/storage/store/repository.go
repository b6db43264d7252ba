// Package store persists the system state and scored candidates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/livepatch/internal/scoring"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

const systemStateID = 1

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SystemState is the outcome of the most recent applied patch.
type SystemState struct {
	LastUpdate time.Time `json:"lastUpdate"`
	LastPatch  string    `json:"lastPatch"`
	TargetFile string    `json:"targetFile"`
}

// Candidate is a scored resume.
type Candidate struct {
	ID string `json:"id"`
	scoring.Analysis
	ResumeText string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UpsertSystemState replaces the singleton state row. A zero LastUpdate is
// stamped with the current time.
func (r *Repository) UpsertSystemState(ctx context.Context, state SystemState) (SystemState, error) {
	if state.LastUpdate.IsZero() {
		state.LastUpdate = r.now()
	}
	state.LastUpdate = state.LastUpdate.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_state (id, last_update, last_patch, target_file)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_update = excluded.last_update,
			last_patch = excluded.last_patch,
			target_file = excluded.target_file
	`, systemStateID, state.LastUpdate, state.LastPatch, state.TargetFile)
	if err != nil {
		return SystemState{}, fmt.Errorf("upsert system state: %w", err)
	}

	return state, nil
}

func (r *Repository) GetSystemState(ctx context.Context) (SystemState, error) {
	var state SystemState
	err := r.db.QueryRowContext(ctx, `
		SELECT last_update, last_patch, target_file
		FROM system_state
		WHERE id = ?
	`, systemStateID).Scan(&state.LastUpdate, &state.LastPatch, &state.TargetFile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SystemState{}, ErrNotFound
		}
		return SystemState{}, fmt.Errorf("select system state: %w", err)
	}
	return state, nil
}

// CreateCandidate stores an analysis under a fresh id.
func (r *Repository) CreateCandidate(ctx context.Context, analysis scoring.Analysis, resumeText string) (Candidate, error) {
	skills, err := encodeJSON(analysis.Skills)
	if err != nil {
		return Candidate{}, fmt.Errorf("encode skills: %w", err)
	}
	explanations, err := encodeJSON(analysis.Explanations)
	if err != nil {
		return Candidate{}, fmt.Errorf("encode explanations: %w", err)
	}

	candidate := Candidate{
		ID:         uuid.NewString(),
		Analysis:   analysis,
		ResumeText: resumeText,
		CreatedAt:  r.now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO candidates (id, name, email, skills, overall_score, soft_skills_score, explanations, resume_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, candidate.ID, nullIfEmpty(analysis.Name), nullIfEmpty(analysis.Email), skills,
		analysis.OverallScore, analysis.SoftSkillsScore, explanations, resumeText, candidate.CreatedAt)
	if err != nil {
		return Candidate{}, fmt.Errorf("insert candidate: %w", err)
	}

	return candidate, nil
}

func (r *Repository) GetCandidate(ctx context.Context, id string) (Candidate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Candidate{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, skills, overall_score, soft_skills_score, explanations, resume_text, created_at
		FROM candidates
		WHERE id = ?
	`, id)

	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Candidate{}, ErrNotFound
		}
		return Candidate{}, fmt.Errorf("select candidate %s: %w", id, err)
	}
	return c, nil
}

// ListCandidates returns candidates newest first.
func (r *Repository) ListCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, skills, overall_score, soft_skills_score, explanations, resume_text, created_at
		FROM candidates
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(s scanner) (Candidate, error) {
	var (
		c            Candidate
		name         sql.NullString
		email        sql.NullString
		skills       sql.NullString
		explanations sql.NullString
	)
	err := s.Scan(&c.ID, &name, &email, &skills, &c.OverallScore, &c.SoftSkillsScore,
		&explanations, &c.ResumeText, &c.CreatedAt)
	if err != nil {
		return Candidate{}, err
	}

	c.Name = name.String
	c.Email = email.String
	c.Skills = []string{}
	if err := decodeJSON(skills, &c.Skills); err != nil {
		return Candidate{}, fmt.Errorf("decode skills: %w", err)
	}
	if err := decodeJSON(explanations, &c.Explanations); err != nil {
		return Candidate{}, fmt.Errorf("decode explanations: %w", err)
	}
	return c, nil
}

func encodeJSON(v any) (any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(payload) == "null" {
		return nil, nil
	}
	return string(payload), nil
}

func decodeJSON(raw sql.NullString, target any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), target)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
