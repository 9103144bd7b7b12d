package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"aide/pkg/llm"
	"aide/pkg/protocol"
	"aide/pkg/trust"
)

// Model asks a Generator for a JSON plan. Unusable answers fall back to the
// wrapped classifier; generator auth failures do not.
type Model struct {
	gen      llm.Generator
	fallback Classifier
	logger   *zap.Logger
}

// NewModel creates a model classifier. A nil fallback means Keyword.
func NewModel(gen llm.Generator, fallback Classifier, logger *zap.Logger) *Model {
	if fallback == nil {
		fallback = Keyword{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{gen: gen, fallback: fallback, logger: logger.Named("classify")}
}

// Classify implements Classifier.
func (m *Model) Classify(ctx context.Context, text string, history []llm.Message) ([]protocol.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty message")
	}
	recent := append(llm.Window(history, 4), llm.Message{Role: protocol.RoleUser, Content: text})
	out, err := m.gen.Generate(ctx, planPrompt(), recent)
	if err != nil {
		if errors.Is(err, llm.ErrUnauthorized) || ctx.Err() != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		m.logger.Warn("model classify failed, using keywords", zap.Error(err))
		return m.fallback.Classify(ctx, text, history)
	}

	plan, err := parsePlan(out, text)
	if err != nil {
		m.logger.Debug("unusable plan, using keywords", zap.Error(err), zap.String("output", out))
		return m.fallback.Classify(ctx, text, history)
	}
	return plan, nil
}

// parsePlan decodes the generator's answer. Every intent must name a known
// agent and one of its catalogued actions.
func parsePlan(out, text string) ([]protocol.Intent, error) {
	out = stripFence(out)
	var raw []struct {
		Agent  string `json:"agent"`
		Action string `json:"action"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty plan")
	}
	if len(raw) > MaxIntents {
		raw = raw[:MaxIntents]
	}

	plan := make([]protocol.Intent, 0, len(raw))
	for _, r := range raw {
		agentType := protocol.AgentType(strings.ToLower(strings.TrimSpace(r.Agent)))
		action := strings.ToLower(strings.TrimSpace(r.Action))
		if !agentType.Valid() || !trust.KnownAction(agentType, action) {
			return nil, fmt.Errorf("unknown intent %q/%q", r.Agent, r.Action)
		}
		clause := strings.TrimSpace(r.Text)
		if clause == "" {
			clause = text
		}
		plan = append(plan, intent(agentType, action, clause))
	}
	if len(plan) == 1 {
		plan[0].Text = text
	}
	return plan, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func planPrompt() string {
	var sb strings.Builder
	sb.WriteString("You route requests for a personal assistant. Reply with only a JSON array of ")
	sb.WriteString(`objects {"agent", "action", "text"}, one per step, in order, at most `)
	fmt.Fprintf(&sb, "%d steps. \"text\" is the part of the request the step covers.\n", MaxIntents)
	sb.WriteString("Agents and actions:\n")
	for _, a := range protocol.AgentTypes {
		fmt.Fprintf(&sb, "- %s: %s\n", a, strings.Join(trust.Actions(a), ", "))
	}
	return sb.String()
}
