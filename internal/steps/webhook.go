package steps

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/practiq/automation/internal/expressions"
	"github.com/practiq/automation/internal/template"
	"github.com/practiq/automation/pkg/schema"
)

// WebhookConfig bounds outbound webhook calls.
type WebhookConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultWebhookTimeout  = 30 * time.Second
)

// WebhookExecutor calls an external URL with an interpolated body and headers.
// Fire-and-forget from the workflow's perspective: the response is recorded as
// step output (optionally reshaped by a jq transform) but a non-2xx status is
// a step failure.
type WebhookExecutor struct {
	config WebhookConfig
	client *http.Client
	jq     *expressions.GoJQEngine
}

// NewWebhookExecutor creates the webhook executor.
func NewWebhookExecutor(cfg WebhookConfig, jq *expressions.GoJQEngine) *WebhookExecutor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultWebhookTimeout
	}
	return &WebhookExecutor{
		config: cfg,
		client: &http.Client{},
		jq:     jq,
	}
}

func (e *WebhookExecutor) Kind() schema.StepKind { return schema.StepKindWebhook }

func (e *WebhookExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	cfg, err := parseConfig[schema.WebhookConfig](ec.Step)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "webhook requires a url").
			WithStep(ec.Step.Key)
	}
	if u, err := url.ParseRequestURI(cfg.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "webhook url %q is invalid", cfg.URL).
			WithStep(ec.Step.Key)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	scope := template.ScopeFrom(ec.Context)
	body, err := template.Render(cfg.Body, scope)
	if err != nil {
		return nil, wrapStepErr(err, ec.Step.Key)
	}

	timeout := e.config.DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"webhook request build failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		rendered, err := template.Render(v, scope)
		if err != nil {
			return nil, wrapStepErr(err, ec.Step.Key)
		}
		req.Header.Set(k, rendered)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"webhook call failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"webhook response read failed: %s", err.Error()).
			WithStep(ec.Step.Key).WithCause(err)
	}

	parsedBody := parseResponseBody(resp.Header.Get("Content-Type"), bodyBytes)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"webhook returned %d", resp.StatusCode).
			WithStep(ec.Step.Key).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": parsedBody})
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsedBody,
		"duration_ms": durationMs,
	}

	if cfg.OutputTransform != "" {
		transformed, err := e.jq.Evaluate(ctx, cfg.OutputTransform,
			map[string]any{"response": expressions.Normalize(parsedBody), "status_code": resp.StatusCode})
		if err != nil {
			return nil, wrapStepErr(err, ec.Step.Key)
		}
		output["transformed"] = transformed
	}

	return &Result{Output: output}, nil
}

func parseResponseBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}
