package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"symptom-gateway/internal/domain/entity"
)

const (
	// backoffMultiplier and backoffJitter give delays of
	// min(maxBackoff, minBackoff * 2^(attempt-1)) randomized within
	// [0.75, 1.25] to avoid synchronized retry storms.
	backoffMultiplier = 2.0
	backoffJitter     = 0.25

	// Cold-start poll delays: the server's estimated_time is clamped to
	// this band, and defaultLoadingPoll applies when no estimate is given.
	defaultLoadingPoll = 2 * time.Second
	minLoadingPoll     = 250 * time.Millisecond
	maxLoadingPoll     = 10 * time.Second
)

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
// It issues the HTTP call itself because classification needs the raw
// status, the Retry-After header and non-standard cold-start bodies,
// none of which SDK clients expose.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
}

func NewOpenAIClient(baseURL, apiKey string, logger zerolog.Logger) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With().Str("component", "openai_client").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// attemptOutcome is the classified result of one failed attempt.
type attemptOutcome struct {
	err        *entity.Error
	retryable  bool
	loading    bool
	retryAfter time.Duration // server-suggested delay, 0 when absent
}

// Generate runs the bounded retry loop: one network call per attempt, a
// per-attempt timeout, exponential backoff with jitter between retryable
// failures, and a separate wall-clock wait budget for cold-start polling
// that never consumes the retry budget.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, p entity.GenerationParams) (*entity.Generation, error) {
	start := time.Now()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.MinBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = backoffMultiplier
	eb.RandomizationFactor = backoffJitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	var loadingDeadline time.Time
	retries := 0

	for attempt := 0; ; {
		text, outcome := c.attempt(ctx, prompt, p)
		if outcome == nil {
			return &entity.Generation{
				Text:       text,
				Model:      p.Model,
				LatencyMs:  time.Since(start).Milliseconds(),
				RetryCount: retries,
			}, nil
		}
		if !outcome.retryable {
			return nil, outcome.err
		}

		if outcome.loading {
			if loadingDeadline.IsZero() {
				loadingDeadline = time.Now().Add(p.LoadingWaitBudget)
			}
			delay := clampDelay(outcome.retryAfter, minLoadingPoll, maxLoadingPoll, defaultLoadingPoll)
			if time.Now().Add(delay).After(loadingDeadline) {
				return nil, outcome.err
			}
			c.logger.Warn().
				Str("model", p.Model).
				Dur("poll_delay", delay).
				Time("wait_deadline", loadingDeadline).
				Msg("model cold-starting, polling within wait budget")
			if err := c.wait(ctx, delay); err != nil {
				return nil, outcome.err
			}
			continue
		}

		if attempt == p.MaxRetries {
			return nil, outcome.err
		}
		delay := eb.NextBackOff()
		if delay == backoff.Stop {
			return nil, outcome.err
		}
		if outcome.retryAfter > 0 {
			delay = outcome.retryAfter
		}
		c.logger.Warn().
			Str("code", string(outcome.err.Code)).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("next_delay", delay).
			Msg("retrying LLM call after transient failure")
		if err := c.wait(ctx, delay); err != nil {
			return nil, outcome.err
		}
		attempt++
		retries++
	}
}

// attempt performs a single network call under its own deadline. A nil
// outcome means success and text holds the completion.
func (c *OpenAIClient) attempt(ctx context.Context, prompt string, p entity.GenerationParams) (string, *attemptOutcome) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", &attemptOutcome{err: entity.NewError(entity.CodeUpstreamError, "failed to encode request: "+err.Error())}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &attemptOutcome{err: entity.NewError(entity.CodeUpstreamError, "failed to build request: "+err.Error())}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", &attemptOutcome{
				err:       entity.NewError(entity.CodeTimeout, "LLM call exceeded per-attempt deadline"),
				retryable: true,
			}
		}
		if ctx.Err() != nil {
			// The caller's context is gone; further attempts are pointless.
			return "", &attemptOutcome{err: entity.NewError(entity.CodeTimeout, "LLM call canceled: "+ctx.Err().Error())}
		}
		return "", &attemptOutcome{
			err:       entity.NewError(entity.CodeUpstreamError, "LLM endpoint unreachable: "+err.Error()),
			retryable: true,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &attemptOutcome{
			err:       entity.NewError(entity.CodeUpstreamError, "failed to read LLM response: "+err.Error()),
			retryable: true,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var completion chatCompletionResponse
		if err := json.Unmarshal(respBody, &completion); err != nil || len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
			// A malformed success body is a contract break, not transience.
			return "", &attemptOutcome{err: entity.NewError(entity.CodeUpstreamError, "LLM returned a malformed completion response")}
		}
		return completion.Choices[0].Message.Content, nil
	}

	outcome := classify(resp.StatusCode, resp.Header, respBody)
	return "", &outcome
}

// classify maps an upstream failure status to its error class and retry
// decision per the response-classification table.
func classify(status int, header http.Header, body []byte) attemptOutcome {
	message := providerMessage(body)
	detail := func(e *entity.Error) *entity.Error {
		e.WithDetail("llm_status", status)
		if message != "" {
			e.WithDetail("llm_message", message)
		}
		return e
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return attemptOutcome{
			err: detail(entity.NewError(entity.CodeAuthError, "LLM provider authentication failed").WithStatus(status)),
		}
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return attemptOutcome{
			err: detail(entity.NewError(entity.CodeBadRequest, "LLM provider rejected the request")),
		}
	case status == http.StatusTooManyRequests:
		return attemptOutcome{
			err:        detail(entity.NewError(entity.CodeRateLimit, "LLM provider rate limit or quota exceeded")),
			retryable:  true,
			retryAfter: parseRetryAfter(header),
		}
	case status == http.StatusServiceUnavailable && isLoading(body, message):
		return attemptOutcome{
			err:        detail(entity.NewError(entity.CodeModelLoading, "model is still loading")),
			retryable:  true,
			loading:    true,
			retryAfter: estimatedTime(body),
		}
	default:
		return attemptOutcome{
			err:       detail(entity.NewError(entity.CodeUpstreamError, "LLM service error")),
			retryable: true,
		}
	}
}

// providerMessage digs the human-readable error out of either an
// OpenAI-style {"error": {"message": ...}} body or a flat {"error": "..."}.
func providerMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat.Error
	}
	return ""
}

// estimatedTime reads the cold-start {"estimated_time": seconds} hint.
func estimatedTime(body []byte) time.Duration {
	var payload struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.EstimatedTime <= 0 {
		return 0
	}
	return time.Duration(payload.EstimatedTime * float64(time.Second))
}

func isLoading(body []byte, message string) bool {
	return estimatedTime(body) > 0 || strings.Contains(strings.ToLower(message), "loading")
}

// parseRetryAfter reads the Retry-After header as delta-seconds or an
// HTTP date. Returns 0 when absent or unparsable.
func parseRetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func clampDelay(d, min, max, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// wait sleeps for delay, respecting context cancellation.
func (c *OpenAIClient) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
