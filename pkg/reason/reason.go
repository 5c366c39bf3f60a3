// Package reason provides the opaque reasoning client. The reasoner is an
// external HTTP JSON service consulted for enrichment only: callers must
// treat every response as advisory and degrade cleanly when the service is
// disabled or unreachable.
package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/faults"
)

// Request is one reasoning task with arbitrary structured context.
type Request struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

// Response is the reasoner's structured result. Notes are free-form
// enrichment text; Actions are suggested follow-ups the caller may apply.
type Response struct {
	Notes   []string         `json:"notes,omitempty"`
	Actions []map[string]any `json:"actions,omitempty"`
	Raw     json.RawMessage  `json:"-"`
}

// Reasoner is the opaque reason(context) → structured result operation.
type Reasoner interface {
	Reason(ctx context.Context, req Request) (*Response, error)
	Enabled() bool
}

// New returns an HTTP reasoner when configured, the noop fallback otherwise.
func New(cfg *config.ReasonerConfig) Reasoner {
	if cfg == nil || !cfg.Enabled {
		return Noop{}
	}
	return &httpReasoner{
		baseURL: cfg.BaseURL,
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Noop is the disabled reasoner: every call returns an empty response.
type Noop struct{}

func (Noop) Reason(context.Context, Request) (*Response, error) { return &Response{}, nil }
func (Noop) Enabled() bool                                      { return false }

type httpReasoner struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func (r *httpReasoner) Enabled() bool { return true }

func (r *httpReasoner) Reason(ctx context.Context, req Request) (*Response, error) {
	payload := struct {
		Model   string         `json:"model,omitempty"`
		Task    string         `json:"task"`
		Context map[string]any `json:"context,omitempty"`
	}{Model: r.model, Task: req.Task, Context: req.Context}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, faults.Wrap(faults.CodeSerialization, "", "failed to encode reasoner request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/reason", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, faults.Wrap(faults.CodeLLMError, "", "reasoner request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, faults.Wrap(faults.CodeLLMError, "", "failed to read reasoner response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, faults.New(faults.CodeRateLimited, "", "reasoner rate limited")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, faults.New(faults.CodeAuthFailed, "", "reasoner rejected credentials")
	case resp.StatusCode != http.StatusOK:
		return nil, faults.New(faults.CodeLLMError, "", fmt.Sprintf("reasoner returned %d", resp.StatusCode))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, faults.Wrap(faults.CodeParseError, "", "reasoner response is not valid JSON", err)
	}
	out.Raw = raw
	return &out, nil
}
