package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// fakeProvider replays scripted replies and records requests.
type fakeProvider struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []CompletionRequest
}

type fakeReply struct {
	text string
	err  error
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &CompletionResponse{Text: r.text, InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestGateway(t *testing.T, p Provider) *Gateway {
	t.Helper()
	g, err := NewGateway(GatewayConfig{
		Provider:  p,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Models:    map[string]string{PromptIntentAnalysis: "claude-haiku-4-5"},
	})
	if err != nil {
		t.Fatalf("NewGateway() error: %v", err)
	}
	return g
}

func apiError(status int) error {
	return &anthropic.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

var queryVars = map[string]any{"query": "compare solar and wind"}

func TestGateway_CompleteJSON(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{text: "```json\n{\"intent_type\": \"comparison\", \"confidence\": 0.9}\n```"}}}
	g := newTestGateway(t, p)

	var out struct {
		IntentType string  `json:"intent_type"`
		Confidence float64 `json:"confidence"`
	}
	if err := g.CompleteJSON(context.Background(), PromptIntentAnalysis, queryVars, &out); err != nil {
		t.Fatalf("CompleteJSON() error: %v", err)
	}
	if out.IntentType != "comparison" || out.Confidence != 0.9 {
		t.Errorf("decoded = %+v", out)
	}
	req := p.requests[0]
	if !req.JSON || req.Model != "claude-haiku-4-5" {
		t.Errorf("request = %+v, want JSON mode with per-prompt model", req)
	}
	if in, out := g.Tracker().Total(); in != 10 || out != 5 {
		t.Errorf("tracker = %d/%d", in, out)
	}
}

func TestGateway_RetriesMalformedThenSucceeds(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{text: "not json"}, {text: `{"ok": true}`}}}
	g := newTestGateway(t, p)

	var out map[string]any
	if err := g.CompleteJSON(context.Background(), PromptIntentAnalysis, queryVars, &out); err != nil {
		t.Fatalf("CompleteJSON() error: %v", err)
	}
	if p.calls() != 2 {
		t.Errorf("calls = %d, want 2", p.calls())
	}
}

func TestGateway_ExhaustsAttempts(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{text: "{broken"}}}
	g := newTestGateway(t, p)

	var out map[string]any
	err := g.CompleteJSON(context.Background(), PromptIntentAnalysis, queryVars, &out)
	if !errors.Is(err, ErrGatewayFailure) || !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("error = %v, want gateway failure wrapping malformed response", err)
	}
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Attempts != DefaultMaxAttempts {
		t.Errorf("GatewayError = %+v", gwErr)
	}
	if p.calls() != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", p.calls(), DefaultMaxAttempts)
	}
}

func TestGateway_NonRetryable(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		vars      map[string]any
		reply     fakeReply
		wantErr   error
		wantCalls int
	}{
		{"unknown prompt", "nope", queryVars, fakeReply{text: "x"}, ErrUnknownPrompt, 0},
		{"missing variable", PromptIntentAnalysis, nil, fakeReply{text: "x"}, ErrMissingVariable, 0},
		{"client error", PromptIntentAnalysis, queryVars, fakeReply{err: apiError(400)}, ErrGatewayFailure, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{replies: []fakeReply{tt.reply}}
			g := newTestGateway(t, p)
			_, err := g.Complete(context.Background(), tt.prompt, tt.vars)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Complete() error = %v, want %v", err, tt.wantErr)
			}
			if p.calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", p.calls(), tt.wantCalls)
			}
		})
	}
}

func TestGateway_RateLimitRetried(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{err: apiError(429)}, {text: "fine"}}}
	g := newTestGateway(t, p)

	text, err := g.Complete(context.Background(), PromptIntentAnalysis, queryVars)
	if err != nil || text != "fine" {
		t.Fatalf("Complete() = %q, %v", text, err)
	}
}

func TestGateway_CallOptions(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{text: "ok"}}}
	g := newTestGateway(t, p)

	_, err := g.Complete(context.Background(), PromptIntentAnalysis, queryVars,
		WithModel("override"), WithTemperature(0.2), WithMaxTokens(99))
	if err != nil {
		t.Fatal(err)
	}
	req := p.requests[0]
	if req.Model != "override" || req.MaxTokens != 99 || req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("request = %+v", req)
	}
	if g.ModelFor(PromptFinalAnswer) != string(anthropic.ModelClaudeSonnet4_20250514) {
		t.Errorf("ModelFor(final_answer) = %q", g.ModelFor(PromptFinalAnswer))
	}
}

func TestGateway_Async(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{text: `{"n": 3}`}}}
	g := newTestGateway(t, p)

	res := <-g.CompleteAsync(context.Background(), PromptIntentAnalysis, queryVars)
	if res.Err != nil || res.Text != `{"n": 3}` {
		t.Fatalf("CompleteAsync() = %+v", res)
	}

	var out struct{ N int }
	if err := <-g.CompleteJSONAsync(context.Background(), PromptIntentAnalysis, queryVars, &out); err != nil {
		t.Fatalf("CompleteJSONAsync() error: %v", err)
	}
	if out.N != 3 {
		t.Errorf("N = %d, want 3", out.N)
	}
}

func TestGateway_CanceledContextStops(t *testing.T) {
	p := &fakeProvider{replies: []fakeReply{{err: errors.New("connection reset")}}}
	g, _ := NewGateway(GatewayConfig{Provider: p, BaseDelay: time.Hour, MaxDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Complete(ctx, PromptIntentAnalysis, queryVars)
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("error = %v, want gateway failure", err)
	}
	if p.calls() != 1 {
		t.Errorf("calls = %d, want 1", p.calls())
	}
}

func TestBackoff(t *testing.T) {
	g := &Gateway{baseDelay: 500 * time.Millisecond, maxDelay: 3 * time.Second}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := g.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Sure! {\"a\": {\"b\": \"}\"}} trailing", `{"a": {"b": "}"}}`},
		{"no json", ""},
		{"{unbalanced", ""},
	}
	for _, tt := range tests {
		if got := extractJSONObject(tt.in); got != tt.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
