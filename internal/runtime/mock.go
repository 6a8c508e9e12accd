// Package runtime provides domain.Runtime implementations: a MockRuntime
// for tests and development without a real model backend, and a
// SubprocessRuntime adapter over an external inference server process.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

// mockHandle is the opaque handle MockRuntime hands back from Load.
type mockHandle struct {
	modelID string
}

// MockRuntime simulates model loading and token generation without CGO or
// a real backend, grounded on the teacher's engine.MockBackend: deterministic
// output, a small per-token sleep to simulate streaming latency.
type MockRuntime struct {
	mu       sync.Mutex
	loaded   map[string]*mockHandle
	tokenDur time.Duration
	fail     map[string]bool // model IDs configured to fail Load/Generate
}

// NewMockRuntime builds a MockRuntime with a 10ms per-token simulated delay.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		loaded:   make(map[string]*mockHandle),
		tokenDur: 10 * time.Millisecond,
		fail:     make(map[string]bool),
	}
}

// FailModel configures modelID to return an error from Load and Generate,
// for exercising failure paths in tests.
func (m *MockRuntime) FailModel(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[modelID] = true
}

// Load implements domain.Runtime.
func (m *MockRuntime) Load(ctx context.Context, modelID string) (any, any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[modelID] {
		return nil, nil, fmt.Errorf("mock runtime: configured failure for %q", modelID)
	}
	h := &mockHandle{modelID: modelID}
	m.loaded[modelID] = h
	return h, h, nil
}

// Generate implements domain.Runtime, producing deterministic placeholder
// tokens with a per-token delay to simulate streaming latency.
func (m *MockRuntime) Generate(ctx context.Context, modelHandle, tokenizerHandle any, prompt string, params domain.GenerateParams) (string, error) {
	h, ok := modelHandle.(*mockHandle)
	if !ok || h == nil {
		return "", fmt.Errorf("mock runtime: invalid model handle")
	}

	m.mu.Lock()
	fail := m.fail[h.modelID]
	m.mu.Unlock()
	if fail {
		return "", fmt.Errorf("mock runtime: configured failure for %q", h.modelID)
	}

	n := params.MaxTokens
	if n <= 0 {
		n = 16
	}
	words := make([]string, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return strings.Join(words, " "), ctx.Err()
		case <-time.After(m.tokenDur):
		}
		words = append(words, fmt.Sprintf("tok%d", i))
	}
	return fmt.Sprintf("[%s] %s", h.modelID, strings.Join(words, " ")), nil
}

// CachePrompt implements domain.Runtime by writing the prompt text itself
// as the opaque artifact, sufficient for a mock backend and for tests that
// exercise the Prompt Cache's round-trip behavior.
func (m *MockRuntime) CachePrompt(ctx context.Context, modelHandle, tokenizerHandle any, prompt string, path string) error {
	return writeMockArtifact(path, prompt)
}

// ClearCache implements domain.Runtime; no-op for the mock.
func (m *MockRuntime) ClearCache() {}

// Unload implements domain.Runtime.
func (m *MockRuntime) Unload(ctx context.Context, modelHandle any) error {
	h, ok := modelHandle.(*mockHandle)
	if !ok || h == nil {
		return fmt.Errorf("mock runtime: invalid model handle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.loaded, h.modelID)
	return nil
}
