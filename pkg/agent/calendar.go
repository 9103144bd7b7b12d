package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aide/pkg/llm"
	"aide/pkg/protocol"
)

// DefaultEventLength is the duration of events created without an end time.
const DefaultEventLength = 30 * time.Minute

// CalendarAgent lists, creates, reschedules, invites to and cancels events.
type CalendarAgent struct {
	gen      llm.Generator
	calendar Calendar
}

// NewCalendar creates the calendar agent.
func NewCalendar(gen llm.Generator, calendar Calendar) *CalendarAgent {
	return &CalendarAgent{gen: gen, calendar: calendar}
}

// AgentType returns protocol.AgentCalendar.
func (c *CalendarAgent) AgentType() protocol.AgentType { return protocol.AgentCalendar }

// Execute performs tc.Intent.Action.
func (c *CalendarAgent) Execute(ctx context.Context, tc TurnContext) (Result, error) {
	action := tc.Intent.Action
	var (
		text string
		err  error
	)
	switch action {
	case "list":
		text, err = c.list(ctx, tc)
	case "create":
		text, err = c.create(ctx, tc)
	case "reschedule":
		text, err = c.reschedule(ctx, tc)
	case "invite":
		text, err = c.invite(ctx, tc)
	case "cancel":
		text, err = c.cancel(ctx, tc)
	default:
		return Result{}, unsupported(protocol.AgentCalendar, action)
	}
	if err != nil {
		return Result{}, fatal(protocol.AgentCalendar, err)
	}
	return result(protocol.AgentCalendar, action, text), nil
}

func formatEvents(events []protocol.CalendarEvent) string {
	if len(events) == 0 {
		return "Nothing scheduled."
	}
	lines := make([]string, 0, len(events))
	for _, e := range events {
		line := fmt.Sprintf("- %s-%s %s", e.StartsAt.Format("Mon Jan 2 15:04"), e.EndsAt.Format("15:04"), e.Title)
		if len(e.Attendees) > 0 {
			line += " (with " + strings.Join(e.Attendees, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (c *CalendarAgent) list(ctx context.Context, tc TurnContext) (string, error) {
	now := tc.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := c.calendar.Between(ctx, tc.UserID, from, from.AddDate(0, 0, 7))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d event(s) this week:\n%s", len(events), formatEvents(events)), nil
}

func (c *CalendarAgent) create(ctx context.Context, tc TurnContext) (string, error) {
	start := when(tc.text(), tc.now())
	e, err := c.calendar.Create(ctx, protocol.CalendarEvent{
		UserID:    tc.UserID,
		Title:     title(tc.text()),
		Attendees: addresses(tc.text()),
		StartsAt:  start,
		EndsAt:    start.Add(DefaultEventLength),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled %q for %s.", e.Title, e.StartsAt.Format("Mon Jan 2 15:04")), nil
}

// target finds the event the request refers to: the quoted title if any,
// otherwise the cleaned-up request text.
func (c *CalendarAgent) target(ctx context.Context, tc TurnContext) (protocol.CalendarEvent, error) {
	q, ok := quoted(tc.text())
	if !ok {
		q = title(tc.text())
	}
	return c.calendar.Find(ctx, tc.UserID, q)
}

func (c *CalendarAgent) reschedule(ctx context.Context, tc TurnContext) (string, error) {
	e, err := c.target(ctx, tc)
	if err != nil {
		return "", err
	}
	length := e.EndsAt.Sub(e.StartsAt)
	e.StartsAt = when(tc.text(), tc.now())
	e.EndsAt = e.StartsAt.Add(length)
	if err := c.calendar.Update(ctx, e); err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved %q to %s.", e.Title, e.StartsAt.Format("Mon Jan 2 15:04")), nil
}

func (c *CalendarAgent) invite(ctx context.Context, tc TurnContext) (string, error) {
	guests := addresses(tc.text())
	if len(guests) == 0 {
		return "", errors.New("no attendee address found")
	}
	e, err := c.target(ctx, tc)
	if err != nil {
		return "", err
	}
	seen := map[string]bool{}
	for _, a := range e.Attendees {
		seen[a] = true
	}
	for _, g := range guests {
		if !seen[g] {
			e.Attendees = append(e.Attendees, g)
		}
	}
	if err := c.calendar.Update(ctx, e); err != nil {
		return "", err
	}

	note, err := c.gen.Generate(ctx,
		systemPrompt("You are the calendar agent of a personal assistant.\nWrite a one-line invitation note.", tc.Lessons),
		conversation(tc, fmt.Sprintf("Invite %s to %q at %s.", strings.Join(guests, ", "), e.Title, e.StartsAt.Format(time.RFC1123))))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Invited %s to %q. %s", strings.Join(guests, ", "), e.Title, note), nil
}

func (c *CalendarAgent) cancel(ctx context.Context, tc TurnContext) (string, error) {
	e, err := c.target(ctx, tc)
	if err != nil {
		return "", err
	}
	if err := c.calendar.Cancel(ctx, tc.UserID, e.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled %q.", e.Title), nil
}
