// Package agent implements the closed set of sub-agents: email, calendar,
// research and briefing. Each performs one domain action per call and
// reports the action's risk tier.
//
// Executors never decide trust or approval. The supervisor consults the
// ledger before calling Execute and only calls it for actions that may run.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aide/pkg/llm"
	"aide/pkg/protocol"
	"aide/pkg/reflexion"
	"aide/pkg/trust"
)

// TurnContext is everything an executor sees of the turn.
type TurnContext struct {
	UserID         string
	ConversationID string
	TurnToken      string
	Intent         protocol.Intent
	Message        string
	// Recent is the bounded recent-message window, oldest first.
	Recent []llm.Message
	// Lessons are critiques of this agent's recent failed attempts.
	Lessons []string
	Now     time.Time
}

// text returns the intent's own fragment, or the whole message.
func (tc TurnContext) text() string {
	if t := strings.TrimSpace(tc.Intent.Text); t != "" {
		return t
	}
	return strings.TrimSpace(tc.Message)
}

func (tc TurnContext) now() time.Time {
	if tc.Now.IsZero() {
		return time.Now()
	}
	return tc.Now
}

// Result is the outcome of one successful Execute call.
type Result struct {
	Text       string
	RiskTier   protocol.RiskTier
	ActionType string
}

// Executor performs one agent action.
type Executor interface {
	AgentType() protocol.AgentType
	Execute(ctx context.Context, tc TurnContext) (Result, error)
}

// Mailbox is the mail store the email and briefing agents act on.
type Mailbox interface {
	Save(ctx context.Context, m protocol.Mail) (protocol.Mail, error)
	List(ctx context.Context, user, folder string, limit int) ([]protocol.Mail, error)
	Search(ctx context.Context, user, query string, limit int) ([]protocol.Mail, error)
	Delete(ctx context.Context, user, id string) error
}

// Calendar is the event store the calendar and briefing agents act on.
type Calendar interface {
	Create(ctx context.Context, e protocol.CalendarEvent) (protocol.CalendarEvent, error)
	Between(ctx context.Context, user string, from, to time.Time) ([]protocol.CalendarEvent, error)
	Find(ctx context.Context, user, query string) (protocol.CalendarEvent, error)
	Update(ctx context.Context, e protocol.CalendarEvent) error
	Cancel(ctx context.Context, user, id string) error
}

// Registry maps agent tags to executors.
type Registry struct {
	executors map[protocol.AgentType]Executor
}

// NewRegistry registers executors by their AgentType. A later executor for
// the same tag replaces an earlier one.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[protocol.AgentType]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.AgentType()] = e
	}
	return r
}

// Defaults builds the registry of all four agents over the given
// collaborators.
func Defaults(gen llm.Generator, mailbox Mailbox, calendar Calendar) *Registry {
	return NewRegistry(
		NewEmail(gen, mailbox),
		NewCalendar(gen, calendar),
		NewResearch(gen),
		NewBriefing(gen, mailbox, calendar),
	)
}

// Get returns the executor for agentType.
func (r *Registry) Get(agentType protocol.AgentType) (Executor, bool) {
	e, ok := r.executors[agentType]
	return e, ok
}

// Types returns the registered tags in display order.
func (r *Registry) Types() []protocol.AgentType {
	var out []protocol.AgentType
	for _, t := range protocol.AgentTypes {
		if _, ok := r.executors[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// result stamps the risk tier for agentType's action.
func result(agentType protocol.AgentType, action, text string) Result {
	return Result{
		Text:       text,
		RiskTier:   trust.ClassifyRisk(agentType, action),
		ActionType: action,
	}
}

// fatal converts credential failures into *protocol.AuthError so the
// supervisor abandons the rest of the plan.
func fatal(agentType protocol.AgentType, err error) error {
	if err == nil {
		return nil
	}
	var authErr *protocol.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, llm.ErrUnauthorized) {
		return &protocol.AuthError{AgentType: agentType, Reason: err.Error()}
	}
	return err
}

// unsupported is returned for actions outside an agent's catalogue.
func unsupported(agentType protocol.AgentType, action string) error {
	return fmt.Errorf("%s agent does not support action %q", agentType, action)
}

// systemPrompt assembles an agent's instructions with its lessons appended.
func systemPrompt(header string, lessons []string) string {
	if section := reflexion.ForPrompt(lessons, 200); section != "" {
		return header + "\n\n" + section
	}
	return header
}

// conversation returns the recent window with the current request appended
// when it is not already the last user message.
func conversation(tc TurnContext, request string) []llm.Message {
	msgs := llm.Window(tc.Recent, len(tc.Recent))
	if n := len(msgs); n > 0 && msgs[n-1].Role == protocol.RoleUser && msgs[n-1].Content == request {
		return msgs
	}
	return append(msgs, llm.Message{Role: protocol.RoleUser, Content: request})
}
