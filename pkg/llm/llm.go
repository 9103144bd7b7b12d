// Package llm defines the text-generation collaborator used by sub-agents and
// the model-backed classifier.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized marks a generation failure caused by rejected credentials.
// Callers treat it as fatal for the rest of a turn.
var ErrUnauthorized = errors.New("llm: unauthorized")

// Message is one entry in a bounded recent-message window.
type Message struct {
	Role    string `json:"role" cbor:"role"`
	Content string `json:"content" cbor:"content"`
}

// Generator produces text from a system prompt and recent messages.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, recent []Message) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, systemPrompt string, recent []Message) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, systemPrompt string, recent []Message) (string, error) {
	return f(ctx, systemPrompt, recent)
}

// Offline is a Generator that never leaves the process. It echoes the last
// user message under a short header, which keeps the daemon usable without
// model credentials.
type Offline struct{}

// Generate returns a deterministic summary of the request.
func (Offline) Generate(_ context.Context, systemPrompt string, recent []Message) (string, error) {
	last := ""
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role == "user" {
			last = recent[i].Content
			break
		}
	}
	header := firstLine(systemPrompt)
	if last == "" {
		return fmt.Sprintf("[offline] %s", header), nil
	}
	return fmt.Sprintf("[offline] %s: %s", header, last), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Window returns at most n of the most recent messages, oldest first.
func Window(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}
