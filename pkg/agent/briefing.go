package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aide/pkg/llm"
	"aide/pkg/protocol"
)

const briefingPrompt = `You are the briefing agent of a personal assistant.
Turn the schedule and inbox below into a short, friendly briefing.`

// BriefingAgent composes the daily briefing from the calendar and inbox.
type BriefingAgent struct {
	gen      llm.Generator
	mailbox  Mailbox
	calendar Calendar
}

// NewBriefing creates the briefing agent.
func NewBriefing(gen llm.Generator, mailbox Mailbox, calendar Calendar) *BriefingAgent {
	return &BriefingAgent{gen: gen, mailbox: mailbox, calendar: calendar}
}

// AgentType returns protocol.AgentBriefing.
func (b *BriefingAgent) AgentType() protocol.AgentType { return protocol.AgentBriefing }

// Execute performs tc.Intent.Action. "daily" covers today; "summarize"
// covers the next seven days.
func (b *BriefingAgent) Execute(ctx context.Context, tc TurnContext) (Result, error) {
	action := tc.Intent.Action
	days := 0
	switch action {
	case "daily":
		days = 1
	case "summarize":
		days = 7
	default:
		return Result{}, unsupported(protocol.AgentBriefing, action)
	}

	facts, err := b.gather(ctx, tc, days)
	if err != nil {
		return Result{}, fatal(protocol.AgentBriefing, err)
	}
	text, err := b.gen.Generate(ctx, systemPrompt(briefingPrompt, tc.Lessons), conversation(tc, facts))
	if err != nil {
		return Result{}, fatal(protocol.AgentBriefing, err)
	}
	return result(protocol.AgentBriefing, action, strings.TrimSpace(text)), nil
}

// gather renders the raw schedule and inbox for the window as plain text.
func (b *BriefingAgent) gather(ctx context.Context, tc TurnContext, days int) (string, error) {
	now := tc.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := b.calendar.Between(ctx, tc.UserID, from, from.AddDate(0, 0, days))
	if err != nil {
		return "", err
	}
	inbox, err := b.mailbox.List(ctx, tc.UserID, protocol.FolderInbox, 5)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Briefing for %s (%d day(s)).\n", from.Format("Monday Jan 2"), days)
	fmt.Fprintf(&sb, "Schedule:\n%s\n", formatEvents(events))
	fmt.Fprintf(&sb, "Latest mail:\n%s", formatMail(inbox))
	return sb.String(), nil
}
