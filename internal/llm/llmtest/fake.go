// Package llmtest provides a canned-response invoker for tests.
package llmtest

import (
	"context"
	"sync"

	"vitafit/internal/llm"
)

// Call records one Invoke.
type Call struct {
	Payload llm.Payload
	History []llm.Turn
}

// Fake is a thread-safe llm.Invoker returning canned responses in sequence.
//
//	fake := &llmtest.Fake{Responses: []string{"not json", `{"reply": "oi"}`}}
//
// When Block is true, Invoke waits for the context to finish and returns an
// upstream-unavailable error, which simulates a stuck endpoint.
type Fake struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Block     bool
	Model     string

	calls []Call
}

func (f *Fake) Invoke(ctx context.Context, payload llm.Payload, history []llm.Turn) (*llm.RawResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Payload: payload, History: append([]llm.Turn(nil), history...)})
	idx := len(f.calls) - 1
	block, err := f.Block, f.Err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, &llm.UnavailableError{Err: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	text := ""
	if len(f.Responses) > 0 {
		if idx >= len(f.Responses) {
			idx = len(f.Responses) - 1
		}
		text = f.Responses[idx]
	}
	model := f.Model
	if model == "" {
		model = "fake-model"
	}
	return &llm.RawResponse{Text: text, Model: model}, nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times Invoke ran.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
