// Package llm defines the unified chat completion interface used by the
// reasoning pipeline, plus an OpenAI-compatible provider.
package llm
