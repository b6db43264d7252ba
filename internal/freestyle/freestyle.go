// Package freestyle triggers deployments and reads their status.
package freestyle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.freestyle.sh/api/v1"
	userAgent = "spigell/livepatch"

	defaultBranch = "main"
	logTailRunes  = 200
)

// Phase is the coarse deployment phase.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseBuilding  Phase = "building"
	PhaseDeploying Phase = "deploying"
	PhaseDeployed  Phase = "deployed"
	PhaseFailed    Phase = "failed"
	PhaseUnknown   Phase = "unknown"
)

// ParsePhase maps a raw phase string onto a known phase.
func ParsePhase(raw string) Phase {
	switch p := Phase(strings.ToLower(strings.TrimSpace(raw))); p {
	case PhasePending, PhaseBuilding, PhaseDeploying, PhaseDeployed, PhaseFailed:
		return p
	case "error", "cancelled", "canceled":
		return PhaseFailed
	default:
		return PhaseUnknown
	}
}

// Terminal reports whether the deployment will not change phase anymore.
func (p Phase) Terminal() bool {
	return p == PhaseDeployed || p == PhaseFailed
}

// Deploy is the answer to a trigger request.
type Deploy struct {
	ID     string `json:"deployId"`
	Status string `json:"status"`
}

// DeployStatus is the answer to a status request.
type DeployStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Phase  Phase  `json:"phase"`
	Log    string `json:"log,omitempty"`
}

type Client struct {
	token      string
	projectID  string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	Branch     string
}

func New(logger *zap.Logger, token, projectID string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:     strings.TrimSpace(token),
		projectID: strings.TrimSpace(projectID),
		APIURL:    apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
		Branch:    defaultBranch,
	}
}

type triggerRequest struct {
	ProjectID string `json:"project_id"`
	Trigger   string `json:"trigger"`
	Branch    string `json:"branch"`
}

type deployResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Phase  string `json:"phase"`
	Logs   string `json:"logs"`
}

// Trigger starts a deployment of the configured project.
func (c *Client) Trigger(ctx context.Context) (*Deploy, error) {
	if c.projectID == "" {
		return nil, fmt.Errorf("freestyle project id is not configured")
	}

	var resp deployResponse
	err := c.postJSON(ctx, c.APIURL+"/deploys", triggerRequest{
		ProjectID: c.projectID,
		Trigger:   "api",
		Branch:    c.Branch,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("trigger deploy: %w", err)
	}

	deploy := &Deploy{ID: resp.ID, Status: resp.Status}
	if deploy.ID == "" {
		deploy.ID = "unknown"
	}
	if deploy.Status == "" {
		deploy.Status = string(PhasePending)
	}

	c.logger.Info("deploy triggered", zap.String("deploy_id", deploy.ID), zap.String("status", deploy.Status))

	return deploy, nil
}

// Status returns the current state of a deployment.
func (c *Client) Status(ctx context.Context, id string) (*DeployStatus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("deploy id is required")
	}

	var resp deployResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/deploys/%s", c.APIURL, url.PathEscape(id)), &resp); err != nil {
		return nil, fmt.Errorf("deploy status: %w", err)
	}

	status := &DeployStatus{
		ID:     resp.ID,
		Status: resp.Status,
		Phase:  ParsePhase(resp.Phase),
		Log:    tail(resp.Logs, logTailRunes),
	}
	if status.ID == "" {
		status.ID = id
	}
	if status.Status == "" {
		status.Status = "unknown"
	}

	return status, nil
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.token != "" && c.projectID != ""
}

func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
