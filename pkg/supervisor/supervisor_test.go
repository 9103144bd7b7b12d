package supervisor

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"aide/pkg/activity"
	"aide/pkg/agent"
	"aide/pkg/approval"
	"aide/pkg/classify"
	"aide/pkg/llm"
	"aide/pkg/protocol"
	"aide/pkg/reflexion"
	"aide/pkg/store"
	"aide/pkg/trust"
)

type harness struct {
	sup       *Supervisor
	db        *sql.DB
	mailbox   *store.Mailbox
	publisher *activity.Publisher
}

func newHarness(t *testing.T, gen llm.Generator) *harness {
	t.Helper()
	return newLoggedHarness(t, gen, nil)
}

func newLoggedHarness(t *testing.T, gen llm.Generator, logger *zap.Logger) *harness {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "aide.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if gen == nil {
		gen = llm.GeneratorFunc(func(context.Context, string, []llm.Message) (string, error) {
			return "generated", nil
		})
	}
	mailbox := store.NewMailbox(db)
	pub := activity.NewPublisher(activity.Options{PingInterval: time.Hour}, nil)
	t.Cleanup(pub.Close)

	sup, err := New(Config{}, db, classify.Keyword{}, agent.Defaults(gen, mailbox, store.NewCalendar(db)), pub, logger)
	require.NoError(t, err)
	return &harness{sup: sup, db: db, mailbox: mailbox, publisher: pub}
}

func (h *harness) reflexions(t *testing.T) []protocol.ReflexionRecord {
	t.Helper()
	recs, err := h.sup.reflexion.Recent(context.Background(), reflexion.RecentOpts{UserID: "u1", Limit: 100})
	require.NoError(t, err)
	return recs
}

func (h *harness) score(t *testing.T, agentType protocol.AgentType, action string) protocol.TrustScore {
	t.Helper()
	s, err := h.sup.ledger.GetOrCreate(context.Background(), "u1", agentType, action)
	require.NoError(t, err)
	return s
}

func (h *harness) statuses(t *testing.T, token string) []protocol.ActivityStatus {
	t.Helper()
	recs, err := activity.NewDBReader(h.db).Query(context.Background(), activity.QueryOpts{TurnToken: token})
	require.NoError(t, err)
	out := make([]protocol.ActivityStatus, len(recs))
	for i, r := range recs {
		// Query returns newest first.
		out[len(recs)-1-i] = r.Status
	}
	return out
}

func (h *harness) suspendedTurns(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n))
	return n
}

func (h *harness) forceExpiry(t *testing.T, id string) {
	t.Helper()
	_, err := h.db.Exec(`UPDATE approvals SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute).UnixMilli(), id)
	require.NoError(t, err)
}

const sendToBob = "send an email to bob@example.com about lunch"

func TestScenarioA_GatedSendApproved(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)
	require.Equal(t, "awaiting_approval", res.Phase)
	require.Len(t, res.PendingApprovals, 1)
	req := res.PendingApprovals[0]
	require.Equal(t, protocol.ApprovalPending, req.Status)
	require.Equal(t, approval.DefaultTimeoutSeconds, req.TimeoutSeconds)
	require.Equal(t, res.Token, req.TurnToken)
	require.Contains(t, h.statuses(t, res.Token), protocol.ActivityApprovalRequired)

	sent, err := h.mailbox.List(ctx, "u1", protocol.FolderSent, 0)
	require.NoError(t, err)
	require.Empty(t, sent, "nothing is sent before approval")

	d, err := h.sup.DecideApproval(ctx, req.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, approval.Resolved, d.Resolution)
	require.Equal(t, protocol.ApprovalApproved, d.Approval.Status)
	require.NotNil(t, d.Turn)
	require.Equal(t, "done", d.Turn.Phase)
	require.Len(t, d.Turn.AgentActions, 1)
	require.Equal(t, protocol.OutcomeApproved, d.Turn.AgentActions[0].Outcome)

	recs := h.reflexions(t)
	require.Len(t, recs, 1)
	require.Equal(t, protocol.OutcomeApproved, recs[0].Outcome)
	require.Equal(t, req.ID, recs[0].ApprovalID)

	s := h.score(t, protocol.AgentEmail, "send")
	require.Equal(t, 1, s.TotalActions)
	require.Equal(t, 1, s.SuccessfulActions)

	sent, err = h.mailbox.List(ctx, "u1", protocol.FolderSent, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}

func TestScenarioB_GatedSendTimesOut(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)
	req := res.PendingApprovals[0]

	n, err := h.sup.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "nothing is overdue yet")

	h.forceExpiry(t, req.ID)
	n, err = h.sup.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := h.sup.Gate().Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, protocol.ApprovalExpired, got.Status)

	recs := h.reflexions(t)
	require.Len(t, recs, 1)
	require.Equal(t, protocol.OutcomeTimeout, recs[0].Outcome)

	s := h.score(t, protocol.AgentEmail, "send")
	require.Equal(t, 1, s.TotalActions)
	require.Zero(t, s.SuccessfulActions)
	require.Equal(t, protocol.LevelNew, s.Level)
	require.Contains(t, h.statuses(t, res.Token), protocol.ActivityCancelled)

	// Late decisions are no-ops.
	d, err := h.sup.DecideApproval(ctx, req.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, approval.AlreadyResolved, d.Resolution)
	require.Nil(t, d.Turn)
	require.Len(t, h.reflexions(t), 1)

	n, err = h.sup.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScenarioC_AutonomousNeedsNoApproval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.mailbox.Save(ctx, protocol.Mail{UserID: "u1", Subject: "Old invoice"})
	require.NoError(t, err)

	_, err = h.sup.SetTrustLevel(ctx, "u1", protocol.AgentEmail, protocol.LevelAutonomous)
	require.NoError(t, err)

	for _, msg := range []string{"check my inbox", `delete the "old invoice" email`} {
		res, err := h.sup.SubmitTurn(ctx, "u1", msg, "")
		require.NoError(t, err)
		require.Equal(t, "done", res.Phase, msg)
		require.Empty(t, res.PendingApprovals, msg)
		require.Equal(t, protocol.OutcomeSuccess, res.AgentActions[0].Outcome, msg)
	}

	pending, err := h.sup.PendingApprovals(ctx, "")
	require.NoError(t, err)
	require.Empty(t, pending)

	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM approvals`).Scan(&count))
	require.Zero(t, count, "no approval request is ever created")
}

func TestScenarioD_ApprovedSendsEscalate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	threshold := h.sup.Ledger().Policy().EscalationThresholds[protocol.LevelNew]

	for i := range threshold {
		res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
		require.NoError(t, err)
		require.Len(t, res.PendingApprovals, 1, "send %d should be gated", i)
		_, err = h.sup.DecideApproval(ctx, res.PendingApprovals[0].ID, true, "")
		require.NoError(t, err)
	}

	s := h.score(t, protocol.AgentEmail, "send")
	require.Equal(t, protocol.LevelTrusted, s.Level)
	require.NotNil(t, s.LastEscalationAt)

	res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)
	require.Equal(t, "done", res.Phase)
	require.Empty(t, res.PendingApprovals)
	require.Equal(t, protocol.OutcomeSuccess, res.AgentActions[0].Outcome)
}

func TestRejectedApprovalCancels(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)

	d, err := h.sup.DecideApproval(ctx, res.PendingApprovals[0].ID, false, "not now")
	require.NoError(t, err)
	require.Equal(t, protocol.ApprovalRejected, d.Approval.Status)
	require.Equal(t, protocol.OutcomeRejected, d.Turn.AgentActions[0].Outcome)
	require.Contains(t, d.Turn.Response, "declined")
	require.Contains(t, h.statuses(t, res.Token), protocol.ActivityCancelled)

	s := h.score(t, protocol.AgentEmail, "send")
	require.Equal(t, 1, s.TotalActions)
	require.Zero(t, s.SuccessfulActions)
}

func TestMultiIntentResumesAfterApproval(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.sup.SubmitTurn(ctx, "u1", "email bob@example.com about lunch then check my calendar", "c1")
	require.NoError(t, err)
	require.Equal(t, "awaiting_approval", res.Phase)
	require.Empty(t, res.AgentActions)

	d, err := h.sup.DecideApproval(ctx, res.PendingApprovals[0].ID, true, "")
	require.NoError(t, err)
	require.Equal(t, "done", d.Turn.Phase)
	require.Equal(t, "c1", d.Turn.ConversationID)
	require.Len(t, d.Turn.AgentActions, 2)
	require.Equal(t, protocol.AgentEmail, d.Turn.AgentActions[0].AgentType)
	require.Equal(t, protocol.OutcomeApproved, d.Turn.AgentActions[0].Outcome)
	require.Equal(t, protocol.AgentCalendar, d.Turn.AgentActions[1].AgentType)
	require.Equal(t, protocol.OutcomeSuccess, d.Turn.AgentActions[1].Outcome)
	require.Len(t, h.reflexions(t), 2)

	msgs, err := h.sup.history.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, protocol.RoleAssistant, msgs[1].Role)
}

func TestAuthFailureSkipsRemainingPlan(t *testing.T) {
	gen := llm.GeneratorFunc(func(context.Context, string, []llm.Message) (string, error) {
		return "", fmt.Errorf("gemini generate: %w", llm.ErrUnauthorized)
	})
	h := newHarness(t, gen)

	res, err := h.sup.SubmitTurn(context.Background(), "u1", "what is a CRDT then check my inbox", "")
	var authErr *protocol.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, protocol.AgentResearch, authErr.AgentType)
	require.Equal(t, "error", res.Phase)
	require.Len(t, res.AgentActions, 1, "inbox check must be skipped")
	require.Equal(t, protocol.OutcomeFailed, res.AgentActions[0].Outcome)
	require.Empty(t, h.reflexions(t))
	require.Contains(t, h.statuses(t, res.Token), protocol.ActivityError)
}

func TestExecutorFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.sup.SetTrustLevel(ctx, "u1", protocol.AgentEmail, protocol.LevelTrusted)
	require.NoError(t, err)

	res, err := h.sup.SubmitTurn(ctx, "u1", "send an email about nothing then check my calendar", "")
	require.NoError(t, err)
	require.Equal(t, "done", res.Phase)
	require.Len(t, res.AgentActions, 2)
	require.Equal(t, protocol.OutcomeFailed, res.AgentActions[0].Outcome)
	require.Contains(t, res.AgentActions[0].Error, "recipient")
	require.Equal(t, protocol.OutcomeSuccess, res.AgentActions[1].Outcome)

	// The override absorbed this evaluation; the counters still moved.
	s := h.score(t, protocol.AgentEmail, "send")
	require.Equal(t, protocol.LevelTrusted, s.Level)
	require.False(t, s.ManualOverride)
	require.Equal(t, 1, s.TotalActions)
}

func TestClassificationFailureSurfaces(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.sup.SubmitTurn(context.Background(), "u1", "hello there", "")
	var cerr *protocol.ClassificationError
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, classify.ErrNoMatch)
	require.Equal(t, "error", res.Phase)
	require.Equal(t, "classification_failed", res.Error)
	require.Equal(t, []protocol.ActivityStatus{protocol.ActivityStarted, protocol.ActivityError}, h.statuses(t, res.Token))
}

func TestSubmitTurn_RequiresUserAndMessage(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.sup.SubmitTurn(context.Background(), "", "brief me", "")
	require.Error(t, err)
	_, err = h.sup.SubmitTurn(context.Background(), "u1", "  ", "")
	require.Error(t, err)
}

func TestDecideAndSweepRace_OneResumption(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := range 10 {
		res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
		require.NoError(t, err)
		id := res.PendingApprovals[0].ID
		h.forceExpiry(t, id)

		var (
			wg       sync.WaitGroup
			decision Decision
			swept    int
			derr     error
			serr     error
		)
		wg.Add(2)
		go func() { defer wg.Done(); decision, derr = h.sup.DecideApproval(ctx, id, true, "") }()
		go func() { defer wg.Done(); swept, serr = h.sup.ExpireSweep(ctx) }()
		wg.Wait()
		require.NoError(t, derr)
		require.NoError(t, serr)

		decided := decision.Resolution == approval.Resolved
		require.NotEqual(t, decided, swept == 1, "round %d: exactly one resolver must win", i)

		var n int
		require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM reflexions WHERE approval_id = ?`, id).Scan(&n))
		require.Equal(t, 1, n, "round %d: one reflexion per request", i)
	}
}

func TestResume_MissingTurnIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	err := h.sup.Resume(context.Background(), protocol.ApprovalRequest{ID: "a1", TurnToken: "gone", Status: protocol.ApprovalExpired})
	require.NoError(t, err)
}

// A decision that arrives the moment the request exists must find the turn
// already stored and run the approved action.
func TestDecideApproval_AsSoonAsRequestIsCreated(t *testing.T) {
	var (
		h    *harness
		once sync.Once
		d    Decision
		derr error
	)
	core, _ := observer.New(zapcore.InfoLevel)
	logger := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.LoggerName != "approval" || e.Message != "approval requested" {
			return nil
		}
		once.Do(func() {
			var id string
			if err := h.db.QueryRow(`SELECT id FROM approvals WHERE status = 'pending'`).Scan(&id); err != nil {
				derr = err
				return
			}
			d, derr = h.sup.DecideApproval(context.Background(), id, true, "")
		})
		return nil
	}))
	h = newLoggedHarness(t, nil, logger)
	ctx := context.Background()

	_, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)
	require.NoError(t, derr)
	require.Equal(t, approval.Resolved, d.Resolution)
	require.NotNil(t, d.Turn, "the turn was stored before the request")
	require.Equal(t, "done", d.Turn.Phase)

	require.Zero(t, h.suspendedTurns(t))
	recs := h.reflexions(t)
	require.Len(t, recs, 1)
	require.Equal(t, protocol.OutcomeApproved, recs[0].Outcome)
	require.Equal(t, 1, h.score(t, protocol.AgentEmail, "send").TotalActions)

	sent, err := h.mailbox.List(ctx, "u1", protocol.FolderSent, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}

// A request resolved without its turn being resumed, as after a crash
// between the two, is picked up by the next sweep.
func TestExpireSweep_ResumesStrandedTurn(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.sup.SubmitTurn(ctx, "u1", sendToBob, "")
	require.NoError(t, err)
	req := res.PendingApprovals[0]

	_, resolution, err := h.sup.gate.Decide(ctx, req.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, approval.Resolved, resolution)
	require.Equal(t, 1, h.suspendedTurns(t))

	_, err = h.db.Exec(`UPDATE approvals SET resolved_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).UnixMilli(), req.ID)
	require.NoError(t, err)

	n, err := h.sup.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, h.suspendedTurns(t))

	recs := h.reflexions(t)
	require.Len(t, recs, 1)
	require.Equal(t, protocol.OutcomeApproved, recs[0].Outcome)
	require.Equal(t, req.ID, recs[0].ApprovalID)

	sent, err := h.mailbox.List(ctx, "u1", protocol.FolderSent, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}

func TestStreamActivity_SeesTurnInOrder(t *testing.T) {
	h := newHarness(t, nil)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.sup.StreamActivity(ctx, "u1")
	defer sub.Close()

	_, err := h.sup.SubmitTurn(ctx, "u1", "check my inbox", "")
	require.NoError(t, err)

	want := []string{
		protocol.EventConnected,
		string(protocol.ActivityStarted),
		string(protocol.ActivityThinking),
		string(protocol.ActivityCompleted),
	}
	for _, w := range want {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok)
			require.Equal(t, w, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer db.Close()

	policy := trust.DefaultPolicy()
	policy.SuccessRatioMin = 2
	_, err = New(Config{Policy: policy}, db, classify.Keyword{}, agent.NewRegistry(), nil, nil)
	require.Error(t, err)
}

func TestSubmitTurn_PhaseSpansReachInstalledProvider(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := newHarness(t, nil)
	res, err := h.sup.SubmitTurn(context.Background(), "u1", "check my inbox", "")
	require.NoError(t, err)
	require.Equal(t, "done", res.Phase)

	var names []string
	var reflecting sdktrace.ReadOnlySpan
	for _, sp := range rec.Ended() {
		names = append(names, sp.Name())
		if sp.Name() == "phase.reflecting" {
			reflecting = sp
		}
	}
	require.Subset(t, names, []string{"phase.planning", "phase.dispatching", "phase.executing", "agent.email", "phase.reflecting"})
	require.NotNil(t, reflecting)
	require.Contains(t, reflecting.Attributes(), attribute.String("turn.user", "u1"))
	require.Contains(t, reflecting.Attributes(), attribute.Int("trust.total", 1))
}
