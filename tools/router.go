// Package tools routes model tool calls to registered implementations,
// enforcing per-stage allow-lists and auditing every invocation.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/internal/metrics"
	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/types"
)

// ToolFunc executes one tool call.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool bundles a tool's schema, timeout, and implementation. A zero
// Timeout falls back to the router default.
type Tool struct {
	Schema  llm.ToolSchema
	Timeout time.Duration
	Fn      ToolFunc
}

// AuditEntry records one tool invocation. Arguments are stored as a
// SHA-256 digest, never verbatim, so patient text stays out of the log.
type AuditEntry struct {
	Time       time.Time       `json:"time"`
	Stage      types.StageName `json:"stage"`
	Tool       string          `json:"tool"`
	ArgsDigest string          `json:"args_digest"`
	ResultSize int             `json:"result_size"`
	Duration   time.Duration   `json:"duration"`
	Status     string          `json:"status"` // ok, error, denied, timeout
}

// Result is the outcome of one tool call.
type Result struct {
	ToolCallID string
	Name       string
	Result     json.RawMessage
	Err        error
	Duration   time.Duration
}

// Content renders the result as the tool-message payload fed back to the
// model.
func (r Result) Content() string {
	if r.Err != nil {
		return fmt.Sprintf(`{"error": %q}`, r.Err.Error())
	}
	return string(r.Result)
}

// RouterConfig configures the router.
type RouterConfig struct {
	// DefaultTimeout bounds tools that do not set their own.
	DefaultTimeout time.Duration
	// AllowLists maps each stage to the tools it may invoke. A stage
	// absent from the map may invoke nothing.
	AllowLists map[types.StageName][]string
}

// Router dispatches tool calls. Calls from a stage outside its allow-list
// are denied before execution.
type Router struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	allowed map[types.StageName]map[string]bool

	defaultTimeout time.Duration
	metrics        *metrics.Collector
	logger         *zap.Logger

	auditMu sync.Mutex
	audit   []AuditEntry
}

// NewRouter creates an empty router. collector may be nil.
func NewRouter(cfg RouterConfig, collector *metrics.Collector, logger *zap.Logger) *Router {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[types.StageName]map[string]bool, len(cfg.AllowLists))
	for stage, names := range cfg.AllowLists {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		allowed[stage] = set
	}
	return &Router{
		tools:          make(map[string]Tool),
		allowed:        allowed,
		defaultTimeout: cfg.DefaultTimeout,
		metrics:        collector,
		logger:         logger.With(zap.String("component", "tool_router")),
	}
}

// Register adds a tool. Re-registering a name is an error.
func (r *Router) Register(t Tool) error {
	if t.Schema.Name == "" {
		return types.NewError(types.ErrCapability, "tool schema has no name")
	}
	if t.Fn == nil {
		return types.NewError(types.ErrCapability, "tool "+t.Schema.Name+" has no implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Schema.Name]; exists {
		return types.NewError(types.ErrCapability, "tool already registered: "+t.Schema.Name)
	}
	r.tools[t.Schema.Name] = t
	r.order = append(r.order, t.Schema.Name)
	return nil
}

// MustRegister registers and panics on error. For wiring at startup.
func (r *Router) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Has reports whether a tool is registered.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Allowed reports whether stage may invoke tool.
func (r *Router) Allowed(stage types.StageName, tool string) bool {
	return r.allowed[stage][tool]
}

// SchemasFor returns the schemas of the tools a stage may invoke, in
// registration order. This is what gets advertised to the model.
func (r *Router) SchemasFor(stage types.StageName) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var schemas []llm.ToolSchema
	for _, name := range r.order {
		if r.allowed[stage][name] {
			schemas = append(schemas, r.tools[name].Schema)
		}
	}
	return schemas
}

// Execute runs a stage's tool calls concurrently and returns results in
// call order.
func (r *Router) Execute(ctx context.Context, stage types.StageName, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = r.ExecuteOne(ctx, stage, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteOne runs a single tool call for a stage. Denied calls never
// reach the tool implementation.
func (r *Router) ExecuteOne(ctx context.Context, stage types.StageName, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	finish := func(status string) Result {
		result.Duration = time.Since(start)
		r.record(stage, call, result, status)
		return result
	}

	if !r.Allowed(stage, call.Name) {
		result.Err = types.NewError(types.ErrToolPolicy,
			fmt.Sprintf("tool %s not allowed in stage %s", call.Name, stage))
		r.logger.Warn("tool call denied",
			zap.String("stage", string(stage)),
			zap.String("tool", call.Name))
		return finish("denied")
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		result.Err = types.NewError(types.ErrCapability, "unknown tool: "+call.Name)
		return finish("error")
	}

	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		result.Err = types.NewError(types.ErrValidation, "tool arguments are not valid JSON")
		return finish("error")
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Fn(execCtx, call.Arguments)
		select {
		case done <- outcome{res, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			result.Err = out.err
			r.logger.Error("tool execution failed",
				zap.String("stage", string(stage)),
				zap.String("tool", call.Name),
				zap.Error(out.err))
			return finish("error")
		}
		result.Result = out.res
		return finish("ok")

	case <-execCtx.Done():
		result.Err = types.NewError(types.ErrTimeout,
			fmt.Sprintf("tool %s timed out after %s", call.Name, timeout)).WithRetryable(true)
		r.logger.Warn("tool execution timed out",
			zap.String("stage", string(stage)),
			zap.String("tool", call.Name),
			zap.Duration("timeout", timeout))
		return finish("timeout")
	}
}

// Audit returns a copy of the audit log, oldest first.
func (r *Router) Audit() []AuditEntry {
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	out := make([]AuditEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

func (r *Router) record(stage types.StageName, call llm.ToolCall, result Result, status string) {
	digest := sha256.Sum256(call.Arguments)
	entry := AuditEntry{
		Time:       time.Now(),
		Stage:      stage,
		Tool:       call.Name,
		ArgsDigest: hex.EncodeToString(digest[:]),
		ResultSize: len(result.Result),
		Duration:   result.Duration,
		Status:     status,
	}
	r.auditMu.Lock()
	r.audit = append(r.audit, entry)
	r.auditMu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordToolCall(call.Name, string(stage), status, result.Duration)
	}
}
