package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/freestyle"
	"github.com/spigell/livepatch/internal/livepatch"
	"github.com/spigell/livepatch/internal/merge"
	"github.com/spigell/livepatch/internal/scoring"
	"github.com/spigell/livepatch/internal/storage/store"
)

type stubPatcher struct {
	plan       *livepatch.Plan
	err        error
	gotTarget  string
	gotSnippet string
}

func (p *stubPatcher) Apply(_ context.Context, target, instructions string) (*livepatch.Plan, error) {
	p.gotTarget, p.gotSnippet = target, instructions
	return p.plan, p.err
}

type memoryStore struct {
	state      *store.SystemState
	candidates map[string]store.Candidate
}

func newMemoryStore() *memoryStore {
	return &memoryStore{candidates: map[string]store.Candidate{}}
}

func (m *memoryStore) GetSystemState(context.Context) (store.SystemState, error) {
	if m.state == nil {
		return store.SystemState{}, store.ErrNotFound
	}
	return *m.state, nil
}

func (m *memoryStore) CreateCandidate(_ context.Context, analysis scoring.Analysis, text string) (store.Candidate, error) {
	c := store.Candidate{ID: "cand-1", Analysis: analysis, ResumeText: text}
	m.candidates[c.ID] = c
	return c, nil
}

func (m *memoryStore) GetCandidate(_ context.Context, id string) (store.Candidate, error) {
	c, ok := m.candidates[id]
	if !ok {
		return store.Candidate{}, store.ErrNotFound
	}
	return c, nil
}

type stubAnalyzer struct {
	err     error
	gotText string
}

func (a *stubAnalyzer) Analyze(_ context.Context, text string) (*scoring.Analysis, error) {
	a.gotText = text
	if a.err != nil {
		return nil, a.err
	}
	return &scoring.Analysis{Name: "Ada", Skills: []string{"Go"}, OverallScore: 81, SoftSkillsScore: 70}, nil
}

type stubDeployer struct{}

func (stubDeployer) Trigger(context.Context) (*freestyle.Deploy, error) {
	return &freestyle.Deploy{ID: "dep-9", Status: "queued"}, nil
}

func (stubDeployer) Status(_ context.Context, id string) (*freestyle.DeployStatus, error) {
	return &freestyle.DeployStatus{ID: id, Status: "ok", Phase: freestyle.PhaseDeployed}, nil
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestApplyCodeUpdate(t *testing.T) {
	patcher := &stubPatcher{plan: &livepatch.Plan{
		Target: "components/ScoreCard.tsx",
		Result: merge.Result{DiffPreview: strings.Repeat("+ line\n", 200), UsedFallback: true},
	}}
	h := New(Options{Patcher: patcher}).Router()

	rec := do(t, h, http.MethodPost, "/api/applyCodeUpdate", "application/json",
		[]byte(`{"targetFilePath":"components/ScoreCard.tsx","updateSnippet":"add meter"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[applyResponse](t, rec)
	if resp.Status != "applied" || resp.TargetFile != "components/ScoreCard.tsx" || !resp.UsedFallback {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.DiffPreview) != responsePreviewBytes {
		t.Fatalf("expected preview truncated to %d bytes, got %d", responsePreviewBytes, len(resp.DiffPreview))
	}
	if patcher.gotSnippet != "add meter" {
		t.Fatalf("unexpected snippet: %q", patcher.gotSnippet)
	}
}

func TestApplyCodeUpdateFailure(t *testing.T) {
	h := New(Options{Patcher: &stubPatcher{err: errors.New("no such file")}}).Router()

	rec := do(t, h, http.MethodPost, "/api/applyCodeUpdate", "application/json", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decode[errorResponse](t, rec); resp.Details != "no such file" {
		t.Fatalf("unexpected error response: %+v", resp)
	}
}

func TestSystemStateAndDiff(t *testing.T) {
	st := newMemoryStore()
	h := New(Options{Store: st}).Router()

	rec := do(t, h, http.MethodGet, "/api/system-state", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("expected empty object, got %d %s", rec.Code, rec.Body.String())
	}

	st.state = &store.SystemState{
		LastUpdate: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		LastPatch:  "1 additions, 1 deletions\n- b\n+ X",
		TargetFile: "a.go",
	}

	state := decode[store.SystemState](t, do(t, h, http.MethodGet, "/api/system-state", "", nil))
	if state.TargetFile != "a.go" || state.LastPatch != st.state.LastPatch {
		t.Fatalf("unexpected state: %+v", state)
	}

	view := decode[struct {
		Lines []diffLine `json:"lines"`
	}](t, do(t, h, http.MethodGet, "/api/diff", "", nil))
	if len(view.Lines) != 3 || view.Lines[1].Kind != "removal" || view.Lines[2].Kind != "addition" {
		t.Fatalf("unexpected diff view: %+v", view.Lines)
	}
}

type diffLine struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

func TestAnalyzeResumeJSON(t *testing.T) {
	st := newMemoryStore()
	analyzer := &stubAnalyzer{}
	h := New(Options{Store: st, Analyzer: analyzer}).Router()

	rec := do(t, h, http.MethodPost, "/api/analyzeResume", "application/json", []byte(`{"resumeText":"Go developer"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[analyzeResponse](t, rec)
	if resp.CandidateID != "cand-1" || resp.Analysis.OverallScore != 81 || resp.Fallback {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if analyzer.gotText != "Go developer" {
		t.Fatalf("unexpected analyzed text: %q", analyzer.gotText)
	}

	got := decode[store.Candidate](t, do(t, h, http.MethodGet, "/api/candidates/cand-1", "", nil))
	if got.Name != "Ada" {
		t.Fatalf("unexpected candidate: %+v", got)
	}
	if rec := do(t, h, http.MethodGet, "/api/candidates/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAnalyzeResumeEmpty(t *testing.T) {
	h := New(Options{Store: newMemoryStore(), Analyzer: &stubAnalyzer{}}).Router()

	rec := do(t, h, http.MethodPost, "/api/analyzeResume", "application/json", []byte(`{"text":"  "}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAnalyzeResumeFallback(t *testing.T) {
	console := events.NewConsole(5)
	h := New(Options{Store: newMemoryStore(), Analyzer: &stubAnalyzer{err: errors.New("quota")}, Sink: console, Console: console}).Router()

	resp := decode[analyzeResponse](t, do(t, h, http.MethodPost, "/api/analyzeResume", "application/json", []byte(`{"text":"resume"}`)))
	if !resp.Fallback || resp.Analysis.Name != "Parse Error" || resp.Analysis.SoftSkillsScore != scoring.DefaultSoftSkillsScore {
		t.Fatalf("unexpected fallback response: %+v", resp)
	}

	entries := decode[struct {
		Entries []events.Entry `json:"entries"`
	}](t, do(t, h, http.MethodGet, "/api/console", "", nil))
	if len(entries.Entries) != 1 || entries.Entries[0].Component != events.ComponentScoring {
		t.Fatalf("unexpected console entries: %+v", entries.Entries)
	}
}

func TestAnalyzeResumeMultipart(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		wantText string
	}{
		{name: "text file", content: []byte("Plain resume"), wantText: "Plain resume"},
		{name: "binary file", content: []byte{'%', 'P', 'D', 'F', 0, 1, 2}, wantText: "Resume file: cv.pdf (7 bytes). Content extraction not implemented for binary files."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &stubAnalyzer{}
			h := New(Options{Store: newMemoryStore(), Analyzer: analyzer}).Router()

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			fw, err := mw.CreateFormFile("file", "cv.pdf")
			if err != nil {
				t.Fatalf("create form file: %v", err)
			}
			_, _ = fw.Write(tt.content)
			_ = mw.Close()

			rec := do(t, h, http.MethodPost, "/api/analyzeResume", mw.FormDataContentType(), body.Bytes())
			if rec.Code != http.StatusOK {
				t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
			}
			if analyzer.gotText != tt.wantText {
				t.Fatalf("expected %q, got %q", tt.wantText, analyzer.gotText)
			}
		})
	}
}

func TestDeployRoutes(t *testing.T) {
	h := New(Options{Deployer: stubDeployer{}}).Router()

	deploy := decode[map[string]string](t, do(t, h, http.MethodPost, "/api/triggerDeploy", "", nil))
	if deploy["deployId"] != "dep-9" || deploy["status"] != "queued" {
		t.Fatalf("unexpected deploy: %v", deploy)
	}

	if rec := do(t, h, http.MethodGet, "/api/deployStatus", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", rec.Code)
	}

	status := decode[freestyle.DeployStatus](t, do(t, h, http.MethodGet, "/api/deployStatus?id=dep-9", "", nil))
	if status.ID != "dep-9" || status.Phase != freestyle.PhaseDeployed {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStatusAndUnconfigured(t *testing.T) {
	h := New(Options{Integrations: map[string]bool{"morph": true, "gemini": false, "freestyle": true}}).Router()

	status := decode[map[string]string](t, do(t, h, http.MethodGet, "/api/status", "", nil))
	if status["morph"] != "connected" || status["gemini"] != "error" || status["freestyle"] != "connected" {
		t.Fatalf("unexpected status: %v", status)
	}

	if rec := do(t, h, http.MethodPost, "/api/triggerDeploy", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without deployer, got %d", rec.Code)
	}
}
