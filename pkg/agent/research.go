package agent

import (
	"context"
	"errors"
	"strings"

	"aide/pkg/llm"
	"aide/pkg/protocol"
)

const researchPrompt = `You are the research agent of a personal assistant.
Answer from what you know, say when you are unsure, and keep it short.`

// ResearchAgent answers questions and summarizes material with the model.
type ResearchAgent struct {
	gen llm.Generator
}

// NewResearch creates the research agent.
func NewResearch(gen llm.Generator) *ResearchAgent {
	return &ResearchAgent{gen: gen}
}

// AgentType returns protocol.AgentResearch.
func (r *ResearchAgent) AgentType() protocol.AgentType { return protocol.AgentResearch }

// Execute performs tc.Intent.Action.
func (r *ResearchAgent) Execute(ctx context.Context, tc TurnContext) (Result, error) {
	action := tc.Intent.Action
	var instruction string
	switch action {
	case "search":
		instruction = "Research the question and report findings as a few bullet points."
	case "summarize":
		instruction = "Summarize the material in the conversation in one paragraph."
	default:
		return Result{}, unsupported(protocol.AgentResearch, action)
	}

	question := tc.text()
	if question == "" {
		return Result{}, errors.New("empty research request")
	}
	text, err := r.gen.Generate(ctx, systemPrompt(researchPrompt+"\n"+instruction, tc.Lessons), conversation(tc, question))
	if err != nil {
		return Result{}, fatal(protocol.AgentResearch, err)
	}
	return result(protocol.AgentResearch, action, strings.TrimSpace(text)), nil
}
