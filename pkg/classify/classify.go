// Package classify turns a user message into an ordered plan of agent
// intents. The keyword classifier works offline; the model classifier asks a
// text generator for a JSON plan and falls back to keywords when the model's
// answer is unusable.
package classify

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"aide/pkg/llm"
	"aide/pkg/protocol"
	"aide/pkg/trust"
)

// ErrNoMatch is returned when no agent can handle the message.
var ErrNoMatch = errors.New("no agent matched")

// Classifier plans a turn. A classifier that only ever finds one action
// returns a one-element plan.
type Classifier interface {
	Classify(ctx context.Context, text string, history []llm.Message) ([]protocol.Intent, error)
}

// MaxIntents bounds the plan length for one turn.
const MaxIntents = 4

var (
	splitRE   = regexp.MustCompile(`(?i)\s*(?:;|\band then\b|\bthen\b|\balso\b)\s*`)
	addressRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// rule maps trigger words to an agent. Actions are picked by the first
// matching verb; def applies when no verb matches.
type rule struct {
	agent    protocol.AgentType
	triggers []string
	verbs    []verb
	def      string
}

type verb struct {
	words  []string
	action string
}

// rules are listed by priority; research must stay last.
var rules = []rule{ //nolint:gochecknoglobals // static table
	{
		agent:    protocol.AgentBriefing,
		triggers: []string{"brief", "briefing", "agenda", "my day"},
		verbs:    []verb{{[]string{"week", "weekly"}, "summarize"}},
		def:      "daily",
	},
	{
		agent:    protocol.AgentCalendar,
		triggers: []string{"calendar", "meeting", "schedule", "event", "appointment", "reschedule", "book a", "invite"},
		verbs: []verb{
			{[]string{"cancel", "call off"}, "cancel"},
			{[]string{"reschedule", "move", "push"}, "reschedule"},
			{[]string{"invite"}, "invite"},
			{[]string{"schedule", "book", "create", "add", "set up"}, "create"},
		},
		def: "list",
	},
	{
		agent:    protocol.AgentEmail,
		triggers: []string{"email", "e-mail", "mail", "inbox", "reply", "message"},
		verbs: []verb{
			{[]string{"delete", "trash", "remove"}, "delete"},
			{[]string{"draft"}, "draft"},
			{[]string{"reply", "respond"}, "reply"},
			{[]string{"search", "find", "look for"}, "search"},
			{[]string{"summarize", "summarise", "digest"}, "summarize"},
			{[]string{"send", "write", "tell", "email "}, "send"},
		},
		def: "read",
	},
	{
		agent:    protocol.AgentResearch,
		triggers: []string{"research", "look up", "what is", "what are", "who is", "how do", "how does", "why", "explain", "find out", "summarize", "summarise"},
		verbs:    []verb{{[]string{"summarize", "summarise", "tl;dr"}, "summarize"}},
		def:      "search",
	},
}

// Keyword classifies by trigger words.
type Keyword struct{}

// Classify splits text on sequencing words ("then", "and then", ";") and
// plans one intent per clause.
func (Keyword) Classify(_ context.Context, text string, _ []llm.Message) ([]protocol.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty message")
	}

	var plan []protocol.Intent
	for _, clause := range splitRE.Split(text, -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		in, ok := classifyClause(clause)
		if !ok {
			continue
		}
		plan = append(plan, in)
		if len(plan) == MaxIntents {
			break
		}
	}
	if len(plan) == 0 {
		// A bare question still goes to research.
		if strings.HasSuffix(text, "?") {
			return []protocol.Intent{intent(protocol.AgentResearch, "search", text)}, nil
		}
		return nil, ErrNoMatch
	}
	// A single clause covers the whole message.
	if len(plan) == 1 {
		plan[0].Text = text
	}
	return plan, nil
}

// classifyClause picks the agent whose trigger appears earliest in clause.
// Research is a fallback considered only when no other agent matched.
func classifyClause(clause string) (protocol.Intent, bool) {
	lower := strings.ToLower(clause)
	hasAddress := addressRE.MatchString(clause)

	best, bestAt := -1, len(lower)+1
	for i, r := range rules {
		if r.agent == protocol.AgentResearch && best >= 0 {
			break
		}
		at := firstIndex(lower, r.triggers)
		if at < 0 && r.agent == protocol.AgentEmail && hasAddress {
			at = addressRE.FindStringIndex(clause)[0]
		}
		if at >= 0 && at < bestAt {
			best, bestAt = i, at
		}
	}
	if best < 0 {
		return protocol.Intent{}, false
	}

	r := rules[best]
	action := r.def
	for _, v := range r.verbs {
		if firstIndex(lower, v.words) >= 0 {
			action = v.action
			break
		}
	}
	if r.agent == protocol.AgentEmail && action == "read" && hasAddress {
		action = "send"
	}
	return intent(r.agent, action, clause), true
}

func intent(agentType protocol.AgentType, action, text string) protocol.Intent {
	return protocol.Intent{
		AgentType: agentType,
		Action:    action,
		RiskHint:  trust.ClassifyRisk(agentType, action),
		Text:      text,
	}
}

// firstIndex returns the earliest index of any of words in s, or -1.
func firstIndex(s string, words []string) int {
	at := -1
	for _, w := range words {
		if i := strings.Index(s, w); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	return at
}
