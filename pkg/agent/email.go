package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aide/pkg/llm"
	"aide/pkg/protocol"
)

const emailPrompt = `You are the email agent of a personal assistant.
Write concise, polite email text. Return only the text requested.`

// EmailAgent reads, drafts, sends and deletes mail.
type EmailAgent struct {
	gen     llm.Generator
	mailbox Mailbox
}

// NewEmail creates the email agent.
func NewEmail(gen llm.Generator, mailbox Mailbox) *EmailAgent {
	return &EmailAgent{gen: gen, mailbox: mailbox}
}

// AgentType returns protocol.AgentEmail.
func (e *EmailAgent) AgentType() protocol.AgentType { return protocol.AgentEmail }

// Execute performs tc.Intent.Action.
func (e *EmailAgent) Execute(ctx context.Context, tc TurnContext) (Result, error) {
	action := tc.Intent.Action
	var (
		text string
		err  error
	)
	switch action {
	case "read":
		text, err = e.read(ctx, tc)
	case "search":
		text, err = e.search(ctx, tc)
	case "summarize":
		text, err = e.summarize(ctx, tc)
	case "draft":
		text, err = e.compose(ctx, tc, protocol.FolderDrafts)
	case "send", "reply":
		text, err = e.compose(ctx, tc, protocol.FolderSent)
	case "delete":
		text, err = e.delete(ctx, tc)
	default:
		return Result{}, unsupported(protocol.AgentEmail, action)
	}
	if err != nil {
		return Result{}, fatal(protocol.AgentEmail, err)
	}
	return result(protocol.AgentEmail, action, text), nil
}

func formatMail(msgs []protocol.Mail) string {
	if len(msgs) == 0 {
		return "No messages."
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := m.Recipient
		if who == "" {
			who = m.Folder
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", m.CreatedAt.Format("Jan 2 15:04"), m.Subject, who))
	}
	return strings.Join(lines, "\n")
}

func (e *EmailAgent) read(ctx context.Context, tc TurnContext) (string, error) {
	msgs, err := e.mailbox.List(ctx, tc.UserID, protocol.FolderInbox, 10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d message(s) in your inbox:\n%s", len(msgs), formatMail(msgs)), nil
}

func (e *EmailAgent) search(ctx context.Context, tc TurnContext) (string, error) {
	query, ok := quoted(tc.text())
	if !ok {
		query = subject(tc.text())
	}
	msgs, err := e.mailbox.Search(ctx, tc.UserID, query, 10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d message(s) matching %q:\n%s", len(msgs), query, formatMail(msgs)), nil
}

func (e *EmailAgent) summarize(ctx context.Context, tc TurnContext) (string, error) {
	msgs, err := e.mailbox.List(ctx, tc.UserID, protocol.FolderInbox, 10)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "Your inbox is empty.", nil
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "Subject: %s\n%s\n\n", m.Subject, clip(m.Body, 400))
	}
	return e.gen.Generate(ctx, systemPrompt(emailPrompt+"\nSummarize these messages.", tc.Lessons),
		conversation(tc, b.String()))
}

func (e *EmailAgent) compose(ctx context.Context, tc TurnContext, folder string) (string, error) {
	to := addresses(tc.text())
	if len(to) == 0 {
		return "", errors.New("no recipient address found")
	}
	subj := subject(tc.text())
	body, err := e.gen.Generate(ctx,
		systemPrompt(emailPrompt+"\nWrite the body of an email for this request.", tc.Lessons),
		conversation(tc, tc.text()))
	if err != nil {
		return "", err
	}

	m, err := e.mailbox.Save(ctx, protocol.Mail{
		UserID:    tc.UserID,
		Folder:    folder,
		Recipient: strings.Join(to, ", "),
		Subject:   subj,
		Body:      body,
	})
	if err != nil {
		return "", err
	}
	verb := "Sent"
	if folder == protocol.FolderDrafts {
		verb = "Drafted"
	}
	return fmt.Sprintf("%s %q to %s.", verb, m.Subject, m.Recipient), nil
}

func (e *EmailAgent) delete(ctx context.Context, tc TurnContext) (string, error) {
	query, ok := quoted(tc.text())
	if !ok {
		query = subject(tc.text())
	}
	msgs, err := e.mailbox.Search(ctx, tc.UserID, query, 1)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("no message matching %q", query)
	}
	if err := e.mailbox.Delete(ctx, tc.UserID, msgs[0].ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %q.", msgs[0].Subject), nil
}
