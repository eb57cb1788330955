package testutil

import (
	"context"
	"sync"

	"github.com/BaSui01/medflow/llm"
)

var _ llm.Provider = (*ScriptedProvider)(nil)

// ScriptedProvider replays queued responses in order. When the queue is
// empty it returns ErrProviderUnavailable, and an optional OnRequest hook
// can inspect each request.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []scripted
	requests  []*llm.ChatRequest

	// OnRequest, when set, runs for every Completion call.
	OnRequest func(req *llm.ChatRequest)
}

type scripted struct {
	resp *llm.ChatResponse
	err  error
}

// NewScriptedProvider creates an empty scripted provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// QueueContent queues a plain text assistant response.
func (p *ScriptedProvider) QueueContent(content string) *ScriptedProvider {
	return p.QueueResponse(&llm.ChatResponse{
		Model: "scripted",
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
	})
}

// QueueToolCall queues an assistant response requesting one tool call.
func (p *ScriptedProvider) QueueToolCall(id, name, arguments string) *ScriptedProvider {
	return p.QueueResponse(&llm.ChatResponse{
		Model: "scripted",
		Choices: []llm.ChatChoice{{
			FinishReason: "tool_calls",
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:        id,
					Name:      name,
					Arguments: []byte(arguments),
				}},
			},
		}},
	})
}

// QueueResponse queues a full response.
func (p *ScriptedProvider) QueueResponse(resp *llm.ChatResponse) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, scripted{resp: resp})
	return p
}

// QueueError queues a failure.
func (p *ScriptedProvider) QueueError(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, scripted{err: err})
	return p
}

// Completion implements llm.Provider.
func (p *ScriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.OnRequest != nil {
		p.OnRequest(req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.responses) == 0 {
		return nil, &llm.Error{
			Code:     llm.ErrProviderUnavailable,
			Message:  "scripted provider exhausted",
			Provider: p.Name(),
		}
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next.resp, next.err
}

// Requests returns every request seen so far.
func (p *ScriptedProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns the number of Completion calls.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *ScriptedProvider) Name() string { return "scripted" }
