package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is the HTTP implementation of Analyzer. It speaks both the
// Anthropic and OpenAI wire formats, chosen by base URL.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	apiType    string // "anthropic" or "openai"
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithRetry(maxRetries int) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
}

func WithRateLimit(requestsPerMinute, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithAPIConfig(baseURL, model string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
		if strings.Contains(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   "claude-3-5-sonnet-20241022",
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		maxRetries: 3,
		limiter:    rate.NewLimiter(rate.Limit(1), 1), // 60 req/min
		apiType:    "anthropic",
		logger:     slog.Default().With("component", "ai_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("analysis client initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"model", c.model,
		"max_retries", c.maxRetries)

	return c, nil
}

// Analyze issues one analysis request and parses the provider's JSON reply
// into a Response. Retries transient failures with linear backoff.
func (c *Client) Analyze(ctx context.Context, req Request) (*Response, error) {
	requestID := fmt.Sprintf("api_%d", time.Now().UnixNano())
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	model := req.Options.Model
	if model == "" {
		model = c.model
	}

	prompt := buildPrompt(req)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		c.logger.Debug("attempting analysis request",
			"request_id", requestID,
			"attempt", attempt,
			"analysis_type", req.AnalysisType,
			"prompt_length", len(prompt),
			"api_type", c.apiType,
			"model", model)

		raw, err := c.doRequest(ctx, model, prompt, req.Options.ForceJSON)
		if err == nil {
			resp, perr := parseResponse(raw, model)
			if perr != nil {
				// Malformed output degrades quality, never raises: hand
				// back an empty-but-valid response carrying the raw text.
				c.logger.Warn("unparsable provider output",
					"request_id", requestID,
					"analysis_type", req.AnalysisType,
					"error", perr)
				resp = &Response{Data: map[string]any{"raw": raw}, Metadata: Metadata{ModelUsed: model}}
			}
			c.logger.Info("analysis request successful",
				"request_id", requestID,
				"attempt", attempt,
				"analysis_type", req.AnalysisType,
				"duration_ms", time.Since(startTime).Milliseconds())
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			c.logger.Error("analysis request failed with non-retryable error",
				"request_id", requestID,
				"attempt", attempt,
				"error", err)
			return nil, err
		}

		c.logger.Warn("analysis request failed, will retry",
			"request_id", requestID,
			"attempt", attempt,
			"error", err)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	if req.ReaderContext != "" {
		b.WriteString(req.ReaderContext)
		b.WriteString("\n\n")
	}
	if len(req.PreviousScenes) > 0 {
		b.WriteString("Preceding scenes:\n")
		for i, prev := range req.PreviousScenes {
			fmt.Fprintf(&b, "--- scene %d ---\n%s\n", i+1, prev)
		}
		b.WriteString("\n")
	}
	b.WriteString("Scene under analysis:\n")
	b.WriteString(req.Scene)
	return b.String()
}

func (c *Client) doRequest(ctx context.Context, model, prompt string, forceJSON bool) (string, error) {
	if c.apiType == "openai" {
		return c.doOpenAIRequest(ctx, model, prompt, forceJSON)
	}
	return c.doAnthropicRequest(ctx, model, prompt, forceJSON)
}

const jsonSystemPrompt = "You are a narrative coherence analyst. Respond with a single valid JSON object only: no markdown, no explanations, no text outside the JSON."
const plainSystemPrompt = "You are a narrative coherence analyst."

func (c *Client) doOpenAIRequest(ctx context.Context, model, prompt string, forceJSON bool) (string, error) {
	system := plainSystemPrompt
	if forceJSON {
		system = jsonSystemPrompt
	}
	requestBody := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"max_tokens": 4096,
	}
	if forceJSON {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}

	respBody, err := c.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return "", err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyResult
	}
	return response.Choices[0].Message.Content, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, model, prompt string, forceJSON bool) (string, error) {
	system := plainSystemPrompt
	if forceJSON {
		system = jsonSystemPrompt
	}
	requestBody := map[string]any{
		"model":  model,
		"system": system,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens": 4096,
	}

	respBody, err := c.post(ctx, "/messages", requestBody)
	if err != nil {
		return "", err
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(response.Content) == 0 {
		return "", ErrEmptyResult
	}
	return response.Content[0].Text, nil
}

func (c *Client) post(ctx context.Context, endpoint string, requestBody map[string]any) ([]byte, error) {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiType == "openai" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	}

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("provider response received",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds(),
		"body_size", len(respBody))

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidAPIKey, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrServerError, resp.StatusCode, truncateBody(respBody))
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncateBody(respBody))
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// parseResponse turns raw provider text into a Response. The text often
// arrives wrapped in markdown fences or with prose around the JSON object.
func parseResponse(raw, model string) (*Response, error) {
	cleaned := CleanJSONResponse(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("decoding provider JSON: %w", err)
	}

	resp := &Response{
		Data:     data,
		Metadata: Metadata{ModelUsed: model},
	}

	if rawIssues, ok := data["issues"].([]any); ok {
		for _, ri := range rawIssues {
			m, ok := ri.(map[string]any)
			if !ok {
				continue
			}
			resp.Issues = append(resp.Issues, ProviderIssue{
				Type:        stringField(m, "type"),
				Severity:    stringField(m, "severity"),
				Description: stringField(m, "description"),
				Suggestion:  stringField(m, "suggestion"),
			})
		}
	}

	return resp, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// CleanJSONResponse removes markdown code fences and surrounding prose so
// the remaining text is a single JSON object.
func CleanJSONResponse(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}

	return strings.TrimSpace(response)
}
