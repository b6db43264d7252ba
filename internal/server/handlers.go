package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/diffpreview"
	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/scoring"
	"github.com/spigell/livepatch/internal/storage/store"
)

const (
	responsePreviewBytes = 500
	maxBodyBytes         = 4 << 20
	maxUploadBytes       = 10 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type applyRequest struct {
	TargetFilePath string `json:"targetFilePath"`
	UpdateSnippet  string `json:"updateSnippet"`
}

type applyResponse struct {
	Status       string `json:"status"`
	TargetFile   string `json:"targetFile"`
	DiffPreview  string `json:"diffPreview"`
	UsedFallback bool   `json:"usedFallback"`
}

type analyzeRequest struct {
	Text       string `json:"text"`
	ResumeText string `json:"resumeText"`
}

type analyzeResponse struct {
	CandidateID string            `json:"candidateId"`
	Analysis    *scoring.Analysis `json:"analysis"`
	Fallback    bool              `json:"fallback,omitempty"`
}

func (s *Server) applyCodeUpdate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Patcher == nil {
		writeError(w, http.StatusServiceUnavailable, "Code updates are not configured", "")
		return
	}

	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	plan, err := s.opts.Patcher.Apply(r.Context(), req.TargetFilePath, req.UpdateSnippet)
	if err != nil {
		s.logger.Error("code update failed", zap.String("target", req.TargetFilePath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to apply code update", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		Status:       "applied",
		TargetFile:   plan.Target,
		DiffPreview:  truncateBytes(plan.DiffPreview, responsePreviewBytes),
		UsedFallback: plan.UsedFallback,
	})
}

func (s *Server) systemState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	state, err := s.opts.Store.GetSystemState(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	if err != nil {
		s.logger.Error("read system state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get system state", "")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (s *Server) diff(w http.ResponseWriter, r *http.Request) {
	lines := []diffpreview.ViewLine{}
	if s.opts.Store != nil {
		state, err := s.opts.Store.GetSystemState(r.Context())
		switch {
		case err == nil:
			lines = append(lines, diffpreview.View(state.LastPatch)...)
		case !errors.Is(err, store.ErrNotFound):
			s.logger.Error("read system state", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to get diff", "")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) analyzeResume(w http.ResponseWriter, r *http.Request) {
	if s.opts.Analyzer == nil || s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Resume analysis is not configured", "")
		return
	}

	text, err := resumeText(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "No resume text provided", "")
		return
	}

	fallback := false
	analysis, err := s.opts.Analyzer.Analyze(r.Context(), text)
	if err != nil {
		s.logger.Warn("resume analysis failed, storing placeholder", zap.Error(err))
		s.sink.Emit(events.ComponentScoring, events.LevelWarning, "Analysis failed, placeholder result stored")
		analysis = scoring.Fallback()
		fallback = true
	}

	candidate, err := s.opts.Store.CreateCandidate(r.Context(), *analysis, text)
	if err != nil {
		s.logger.Error("store candidate", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to analyze resume", "")
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		CandidateID: candidate.ID,
		Analysis:    analysis,
		Fallback:    fallback,
	})
}

func (s *Server) candidate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Storage is not configured", "")
		return
	}

	candidate, err := s.opts.Store.GetCandidate(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Candidate not found", "")
		return
	}
	if err != nil {
		s.logger.Error("read candidate", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get candidate", "")
		return
	}

	writeJSON(w, http.StatusOK, candidate)
}

func (s *Server) triggerDeploy(w http.ResponseWriter, r *http.Request) {
	if s.opts.Deployer == nil {
		writeError(w, http.StatusServiceUnavailable, "Deploys are not configured", "")
		return
	}

	deploy, err := s.opts.Deployer.Trigger(r.Context())
	if err != nil {
		s.logger.Error("trigger deploy", zap.Error(err))
		s.sink.Emit(events.ComponentDeploy, events.LevelError, "Deploy trigger failed: "+err.Error())
		writeError(w, http.StatusInternalServerError, "Failed to trigger deploy", "")
		return
	}

	s.sink.Emit(events.ComponentDeploy, events.LevelInfo, fmt.Sprintf("Deploy %s triggered (%s)", deploy.ID, deploy.Status))
	writeJSON(w, http.StatusOK, deploy)
}

func (s *Server) deployStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Deploy ID is required", "")
		return
	}
	if s.opts.Deployer == nil {
		writeError(w, http.StatusServiceUnavailable, "Deploys are not configured", "")
		return
	}

	status, err := s.opts.Deployer.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("deploy status", zap.String("deploy_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get deploy status", "")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]string, len(s.opts.Integrations))
	for name, configured := range s.opts.Integrations {
		if configured {
			out[name] = "connected"
		} else {
			out[name] = "error"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) console(w http.ResponseWriter, _ *http.Request) {
	entries := []events.Entry{}
	if s.opts.Console != nil {
		entries = append(entries, s.opts.Console.Entries()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// resumeText reads the resume from a JSON body or a multipart "file" field.
// Binary uploads are replaced by a short description.
func resumeText(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req analyzeRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", err
		}
		if req.Text != "" {
			return req.Text, nil
		}
		return req.ResumeText, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return scoring.DocumentText(header.Filename, data), nil
}

func decodeJSON(r *http.Request, target any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, target)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
