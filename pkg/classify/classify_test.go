package classify_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"aide/pkg/classify"
	"aide/pkg/llm"
	"aide/pkg/protocol"
)

func TestKeyword_SingleIntent(t *testing.T) {
	tests := []struct {
		text   string
		agent  protocol.AgentType
		action string
		tier   protocol.RiskTier
	}{
		{"Summarize my inbox", protocol.AgentEmail, "summarize", protocol.RiskRead},
		{"send an email to bob@example.com about lunch", protocol.AgentEmail, "send", protocol.RiskSend},
		{"bob@example.com wants the report", protocol.AgentEmail, "send", protocol.RiskSend},
		{"draft a thank-you mail for the team", protocol.AgentEmail, "draft", protocol.RiskWrite},
		{"cancel my meeting with Ann", protocol.AgentCalendar, "cancel", protocol.RiskDelete},
		{"schedule a meeting to discuss the email backlog", protocol.AgentCalendar, "create", protocol.RiskWrite},
		{"what's on my calendar", protocol.AgentCalendar, "list", protocol.RiskRead},
		{"brief me", protocol.AgentBriefing, "daily", protocol.RiskRead},
		{"what is the capital of France", protocol.AgentResearch, "search", protocol.RiskRead},
		{"how tall is Everest?", protocol.AgentResearch, "search", protocol.RiskRead},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			plan, err := classify.Keyword{}.Classify(context.Background(), tt.text, nil)
			require.NoError(t, err)
			require.Len(t, plan, 1)
			want := protocol.Intent{AgentType: tt.agent, Action: tt.action, RiskHint: tt.tier, Text: tt.text}
			if diff := cmp.Diff(want, plan[0]); diff != "" {
				t.Errorf("intent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKeyword_MultiClause(t *testing.T) {
	plan, err := classify.Keyword{}.Classify(context.Background(),
		"email bob@x.com about lunch then check my calendar", nil)
	require.NoError(t, err)

	want := []protocol.Intent{
		{AgentType: protocol.AgentEmail, Action: "send", RiskHint: protocol.RiskSend, Text: "email bob@x.com about lunch"},
		{AgentType: protocol.AgentCalendar, Action: "list", RiskHint: protocol.RiskRead, Text: "check my calendar"},
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyword_CapsPlanLength(t *testing.T) {
	text := "check my inbox; brief me; what is rust; check my calendar; check my inbox"
	plan, err := classify.Keyword{}.Classify(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, plan, classify.MaxIntents)
}

func TestKeyword_NoMatch(t *testing.T) {
	_, err := classify.Keyword{}.Classify(context.Background(), "hello there", nil)
	require.ErrorIs(t, err, classify.ErrNoMatch)

	_, err = classify.Keyword{}.Classify(context.Background(), "   ", nil)
	require.Error(t, err)
}

func answer(out string, err error) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, string, []llm.Message) (string, error) {
		return out, err
	})
}

func TestModel_ParsesFencedPlan(t *testing.T) {
	var prompt string
	gen := llm.GeneratorFunc(func(_ context.Context, system string, recent []llm.Message) (string, error) {
		prompt = system
		require.Equal(t, "reply to ann then list meetings", recent[len(recent)-1].Content)
		return "```json\n[{\"agent\":\"email\",\"action\":\"reply\",\"text\":\"reply to ann\"}," +
			"{\"agent\":\"Calendar\",\"action\":\"list\"}]\n```", nil
	})
	m := classify.NewModel(gen, nil, nil)

	plan, err := m.Classify(context.Background(), "reply to ann then list meetings", nil)
	require.NoError(t, err)
	want := []protocol.Intent{
		{AgentType: protocol.AgentEmail, Action: "reply", RiskHint: protocol.RiskSend, Text: "reply to ann"},
		{AgentType: protocol.AgentCalendar, Action: "list", RiskHint: protocol.RiskRead, Text: "reply to ann then list meetings"},
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	require.Contains(t, prompt, "calendar: cancel, create, invite, list, reschedule")
}

func TestModel_FallsBackOnUnusableAnswer(t *testing.T) {
	for _, out := range []string{
		"sure, I can help with that",
		"[]",
		`[{"agent":"shopping","action":"buy"}]`,
		`[{"agent":"email","action":"forward"}]`,
	} {
		t.Run(out, func(t *testing.T) {
			m := classify.NewModel(answer(out, nil), classify.Keyword{}, nil)
			plan, err := m.Classify(context.Background(), "brief me", nil)
			require.NoError(t, err)
			require.Len(t, plan, 1)
			require.Equal(t, protocol.AgentBriefing, plan[0].AgentType)
		})
	}
}

func TestModel_FallsBackOnGeneratorError(t *testing.T) {
	m := classify.NewModel(answer("", errors.New("rate limited")), nil, nil)
	plan, err := m.Classify(context.Background(), "check my inbox", nil)
	require.NoError(t, err)
	require.Equal(t, "read", plan[0].Action)
}

func TestModel_UnauthorizedIsReturned(t *testing.T) {
	m := classify.NewModel(answer("", fmt.Errorf("gemini: %w", llm.ErrUnauthorized)), nil, nil)
	_, err := m.Classify(context.Background(), "check my inbox", nil)
	require.ErrorIs(t, err, llm.ErrUnauthorized)
}

func TestModel_TruncatesLongPlans(t *testing.T) {
	steps := make([]string, 0, 6)
	for range 6 {
		steps = append(steps, `{"agent":"research","action":"search"}`)
	}
	m := classify.NewModel(answer("["+strings.Join(steps, ",")+"]", nil), nil, nil)
	plan, err := m.Classify(context.Background(), "look things up", nil)
	require.NoError(t, err)
	require.Len(t, plan, classify.MaxIntents)
}
