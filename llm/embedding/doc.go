// Package embedding provides the text embedding provider interface and an
// OpenAI-compatible implementation.
package embedding
