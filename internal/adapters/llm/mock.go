package llm

import (
	"context"
	"sync"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// Mock is a scripted domain.ModelClient for tests and local mode.
// Responses are returned in order; the last one repeats once the
// script runs out. Every request is recorded.
type Mock struct {
	mu        sync.Mutex
	responses []*domain.ModelResponse
	next      int
	err       error

	requests []domain.GenerateRequest
}

func NewMock(responses ...*domain.ModelResponse) *Mock {
	if len(responses) == 0 {
		responses = []*domain.ModelResponse{{
			Text:         "This is a mock reply.",
			InputTokens:  10,
			OutputTokens: 5,
		}}
	}
	return &Mock{responses: responses}
}

// FailWith makes every subsequent call return err.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) GenerateContent(ctx context.Context, req domain.GenerateRequest) (*domain.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}

	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

func (m *Mock) GenerateStream(ctx context.Context, req domain.GenerateRequest, onChunk func(text string)) (*domain.ModelResponse, error) {
	resp, err := m.GenerateContent(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && resp.Text != "" {
		onChunk(resp.Text)
	}
	return resp, nil
}

// Requests returns a copy of every request seen so far.
func (m *Mock) Requests() []domain.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GenerateRequest(nil), m.requests...)
}

// CallCount reports how many provider calls were made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
