package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type MockProvider struct {
	name            string
	supportedModels []string
	completeErr     error
	calls           []string
}

func (m *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	m.calls = append(m.calls, req.Model)
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &Response{
		Content:  "mock from " + m.name,
		Provider: m.name,
		Model:    req.Model,
	}, nil
}

func (m *MockProvider) Name() string              { return m.name }
func (m *MockProvider) SupportedModels() []string { return m.supportedModels }

func TestRoute_PrefersModelOwner(t *testing.T) {
	p1 := &MockProvider{name: "openai", supportedModels: []string{"gpt-4o"}}
	p2 := &MockProvider{name: "gemini", supportedModels: []string{"gemini-2.5-flash"}}

	router := NewRouter([]Provider{p1, p2})
	got := router.Route(&Request{Model: "gemini-2.5-flash"})

	if len(got) != 2 || got[0].Name() != "gemini" || got[1].Name() != "openai" {
		t.Errorf("Expected gemini then openai, got %v", names(got))
	}
}

func TestComplete_FailsOverWithFallbackModel(t *testing.T) {
	primary := &MockProvider{name: "gemini", supportedModels: []string{"gemini-2.5-flash"}, completeErr: errors.New("503")}
	backup := &MockProvider{name: "openai", supportedModels: []string{"gpt-4o-mini", "gpt-4o"}}

	router := NewRouter([]Provider{primary, backup})
	resp, err := router.Complete(context.Background(), &Request{Model: "gemini-2.5-flash", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-4o-mini" {
		t.Errorf("Expected openai/gpt-4o-mini, got %s/%s", resp.Provider, resp.Model)
	}
	if len(primary.calls) != 1 || primary.calls[0] != "gemini-2.5-flash" {
		t.Errorf("Expected primary to be tried first, got %v", primary.calls)
	}
}

func TestComplete_AllFail(t *testing.T) {
	p := &MockProvider{name: "gemini", supportedModels: []string{"gemini-2.5-flash"}, completeErr: errors.New("quota exceeded")}

	router := NewRouter([]Provider{p})
	_, err := router.Complete(context.Background(), &Request{Model: "gemini-2.5-flash"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("Expected joined provider error, got %v", err)
	}
}

func TestComplete_NoProviders(t *testing.T) {
	_, err := NewRouter(nil).Complete(context.Background(), &Request{})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Expected ErrNoProvider, got %v", err)
	}
}

func TestRoute_SkipsOpenBreaker(t *testing.T) {
	flaky := &MockProvider{name: "gemini", supportedModels: []string{"gemini-2.5-flash"}, completeErr: errors.New("down")}
	healthy := &MockProvider{name: "claude", supportedModels: []string{"claude-sonnet-4-5"}}
	router := NewRouter([]Provider{flaky, healthy})

	for i := 0; i < 3; i++ {
		_, _ = router.Execute(context.Background(), &Request{Model: "gemini-2.5-flash"}, flaky)
	}

	got := router.Route(&Request{Model: "gemini-2.5-flash"})
	if len(got) != 1 || got[0].Name() != "claude" {
		t.Errorf("Expected only claude after breaker trips, got %v", names(got))
	}
}

func TestImageBase64(t *testing.T) {
	img := &Image{Data: []byte("abc")}
	if img.Base64() != "YWJj" {
		t.Errorf("Unexpected encoding %s", img.Base64())
	}
}

func names(ps []Provider) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Name())
	}
	return out
}
