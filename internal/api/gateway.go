package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

var (
	// ErrGatewayFailure matches every error returned after retries ran out.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrMalformedResponse is returned when JSON mode output does not parse.
	ErrMalformedResponse = errors.New("malformed response")
)

// GatewayError is returned once every attempt of a call has failed.
type GatewayError struct {
	Prompt   string
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("prompt %s failed after %d attempt(s): %v", e.Prompt, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrGatewayFailure.
func (e *GatewayError) Is(target error) bool { return target == ErrGatewayFailure }

// Defaults for the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultMaxTokens   = 4096
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Provider Provider
	Prompts  *PromptLibrary
	// DefaultModel is used when neither the call nor the prompt names one.
	DefaultModel string
	// Models maps prompt name to model.
	Models      map[string]string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxTokens   int64
	Temperature *float64
	Logger      *zap.Logger
	Tracker     *TokenTracker
}

// Gateway renders prompts and calls the provider with retries.
type Gateway struct {
	provider     Provider
	prompts      *PromptLibrary
	defaultModel string
	models       map[string]string
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxTokens    int64
	temperature  *float64
	logger       *zap.Logger
	tracker      *TokenTracker
}

// NewGateway creates a gateway. A nil prompt library means built-ins only.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, errors.New("gateway requires a provider")
	}
	g := &Gateway{
		provider:     cfg.Provider,
		prompts:      cfg.Prompts,
		defaultModel: cfg.DefaultModel,
		models:       make(map[string]string, len(cfg.Models)),
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		logger:       cfg.Logger,
		tracker:      cfg.Tracker,
	}
	for k, v := range cfg.Models {
		g.models[k] = v
	}
	if g.prompts == nil {
		g.prompts = NewPromptLibrary()
	}
	if g.defaultModel == "" {
		g.defaultModel = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.baseDelay < 0 {
		g.baseDelay = 0
	}
	if g.maxDelay <= 0 {
		g.maxDelay = DefaultMaxDelay
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.tracker == nil {
		g.tracker = NewTokenTracker()
	}
	return g, nil
}

// Tracker returns the gateway's token tracker.
func (g *Gateway) Tracker() *TokenTracker {
	return g.tracker
}

// Prompts returns the prompt library.
func (g *Gateway) Prompts() *PromptLibrary {
	return g.prompts
}

// CallOption overrides per-call settings.
type CallOption func(*callSettings)

type callSettings struct {
	model       string
	temperature *float64
	maxTokens   int64
}

// WithModel overrides the model for one call.
func WithModel(model string) CallOption {
	return func(s *callSettings) { s.model = model }
}

// WithTemperature overrides the sampling temperature for one call.
func WithTemperature(t float64) CallOption {
	return func(s *callSettings) { s.temperature = &t }
}

// WithMaxTokens overrides the output token limit for one call.
func WithMaxTokens(n int64) CallOption {
	return func(s *callSettings) { s.maxTokens = n }
}

// ModelFor returns the model a prompt resolves to without overrides.
func (g *Gateway) ModelFor(promptName string) string {
	if m, ok := g.models[promptName]; ok && m != "" {
		return m
	}
	if p, err := g.prompts.Get(promptName); err == nil && p.Model != "" {
		return p.Model
	}
	return g.defaultModel
}

// Complete renders the named prompt and returns the model's text.
func (g *Gateway) Complete(ctx context.Context, promptName string, vars map[string]any, opts ...CallOption) (string, error) {
	return g.call(ctx, promptName, vars, false, nil, opts)
}

// CompleteJSON renders the named prompt in JSON mode and decodes the
// reply into out. Output that does not parse counts as a failed attempt.
func (g *Gateway) CompleteJSON(ctx context.Context, promptName string, vars map[string]any, out any, opts ...CallOption) error {
	_, err := g.call(ctx, promptName, vars, true, out, opts)
	return err
}

// Result is delivered by the async variants.
type Result struct {
	Text string
	Err  error
}

// CompleteAsync runs Complete in a goroutine. The channel receives exactly
// one Result and is then closed.
func (g *Gateway) CompleteAsync(ctx context.Context, promptName string, vars map[string]any, opts ...CallOption) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		text, err := g.Complete(ctx, promptName, vars, opts...)
		ch <- Result{Text: text, Err: err}
	}()
	return ch
}

// CompleteJSONAsync runs CompleteJSON in a goroutine. out must not be read
// until the error has been received.
func (g *Gateway) CompleteJSONAsync(ctx context.Context, promptName string, vars map[string]any, out any, opts ...CallOption) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- g.CompleteJSON(ctx, promptName, vars, out, opts...)
	}()
	return ch
}

func (g *Gateway) call(ctx context.Context, promptName string, vars map[string]any, jsonMode bool, out any, opts []CallOption) (string, error) {
	prompt, err := g.prompts.Get(promptName)
	if err != nil {
		return "", err
	}
	text, err := prompt.Render(vars)
	if err != nil {
		return "", err
	}

	settings := callSettings{
		model:       g.ModelFor(promptName),
		temperature: g.temperature,
		maxTokens:   g.maxTokens,
	}
	if prompt.Temperature != nil {
		settings.temperature = prompt.Temperature
	}
	if prompt.MaxTokens > 0 {
		settings.maxTokens = prompt.MaxTokens
	}
	for _, opt := range opts {
		opt(&settings)
	}

	req := CompletionRequest{
		PromptName:  promptName,
		Model:       settings.model,
		System:      prompt.System,
		Prompt:      text,
		MaxTokens:   settings.maxTokens,
		Temperature: settings.temperature,
		JSON:        jsonMode,
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.wait(ctx, attempt-1); err != nil {
				return "", &GatewayError{Prompt: promptName, Attempts: attempt - 1, Err: lastErr}
			}
		}

		attempts = attempt
		start := time.Now()
		resp, err := g.provider.Complete(ctx, req)
		if err == nil && jsonMode {
			err = decodeJSON(resp.Text, out)
		}

		fields := []zap.Field{
			zap.String("prompt", promptName),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", time.Since(start)),
		}
		if resp != nil {
			g.tracker.Add(resp.InputTokens, resp.OutputTokens)
			fields = append(fields,
				zap.Int64("input_tokens", resp.InputTokens),
				zap.Int64("output_tokens", resp.OutputTokens))
		}

		if err == nil {
			g.logger.Info("llm call", fields...)
			return resp.Text, nil
		}

		lastErr = err
		g.logger.Warn("llm call failed", append(fields, zap.Error(err))...)
		if !retryable(ctx, err) {
			break
		}
	}
	return "", &GatewayError{Prompt: promptName, Attempts: attempts, Err: lastErr}
}

// backoff returns the delay before retry n (1-based).
func (g *Gateway) backoff(n int) time.Duration {
	d := g.baseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= g.maxDelay {
			return g.maxDelay
		}
	}
	if d > g.maxDelay {
		return g.maxDelay
	}
	return d
}

func (g *Gateway) wait(ctx context.Context, n int) error {
	d := g.backoff(n)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether another attempt may succeed. Caller
// cancellation and client errors other than rate limiting are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429, apiErr.StatusCode == 408, apiErr.StatusCode == 409:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// decodeJSON parses the first JSON object in text into out.
func decodeJSON(text string, out any) error {
	raw := extractJSONObject(text)
	if raw == "" {
		return fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	if out == nil {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
		}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// extractJSONObject returns the outermost balanced {...} span in text,
// skipping code fences and prose around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
