package api

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeSonnet4_20250514,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
}

func TestNewClient_WithEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-test-key")

	if _, err := NewClient(ClientConfig{}); err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewClient(ClientConfig{})
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("NewClient error = %v, want ErrNoCredentials", err)
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want default", client.Model())
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want anthropic.Model
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"us.anthropic.custom-v1:0", "us.anthropic.custom-v1:0"},
		{"some-other-model", "some-other-model"},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if got := translateModelForBedrock(tt.in); got != tt.want {
				t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClientCache_ReusesPerCredential(t *testing.T) {
	cache := NewClientCache()
	created := 0
	cache.newFn = func(cfg ClientConfig) (*Client, error) {
		created++
		return NewClient(cfg)
	}

	a1, err := cache.Get(ClientConfig{APIKey: "key-a"})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	a2, _ := cache.Get(ClientConfig{APIKey: "key-a", Model: anthropic.ModelClaudeHaiku4_5_20251001})
	b, _ := cache.Get(ClientConfig{APIKey: "key-b"})

	if a1 != a2 {
		t.Error("same credential should return the cached client")
	}
	if a1 == b {
		t.Error("different credentials should not share a client")
	}
	if created != 2 || cache.Len() != 2 {
		t.Errorf("created = %d, Len() = %d, want 2", created, cache.Len())
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(1000, 200)
	tr.Add(500, 100)

	in, out := tr.Total()
	if in != 1500 || out != 300 || tr.Calls() != 2 {
		t.Errorf("Total() = %d/%d calls %d", in, out, tr.Calls())
	}
	if tr.Cost() <= 0 {
		t.Error("Cost() should be positive")
	}
}
