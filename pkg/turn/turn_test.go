package turn_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"aide/pkg/llm"
	"aide/pkg/protocol"
	"aide/pkg/store"
	"aide/pkg/turn"
)

func openStore(t *testing.T) (*turn.Store, *turn.History) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "turn.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return turn.NewStore(db), turn.NewHistory(db)
}

func sampleState() turn.State {
	return turn.State{
		Token:          turn.NewToken(),
		UserID:         "u1",
		ConversationID: "c1",
		Message:        "email bob and then check my calendar",
		Plan: []protocol.Intent{
			{AgentType: protocol.AgentEmail, Action: "send", RiskHint: protocol.RiskSend},
			{AgentType: protocol.AgentCalendar, Action: "list"},
		},
		Phase:      turn.PhaseAwaitingApproval,
		TrustLevel: protocol.LevelNew,
		Pending: &turn.PendingAction{
			Intent:     protocol.Intent{AgentType: protocol.AgentEmail, Action: "send"},
			RiskTier:   protocol.RiskSend,
			ApprovalID: "appr-1",
			Payload:    `{"to":"bob"}`,
		},
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.UTC),
	}
}

func TestEncodeDecode_PreservesState(t *testing.T) {
	s := sampleState()
	s = s.Advance(turn.AgentAction{AgentType: protocol.AgentResearch, ActionType: "search", Outcome: protocol.OutcomeSuccess})

	blob, err := turn.Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := turn.Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ClaimOnce(t *testing.T) {
	st, _ := openStore(t)
	ctx := context.Background()
	s := sampleState()

	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n, _ := st.Suspended(ctx, "u1"); n != 1 {
		t.Errorf("suspended = %d, want 1", n)
	}

	peeked, err := st.Peek(ctx, s.Token)
	if err != nil || peeked.Pending.ApprovalID != "appr-1" {
		t.Fatalf("Peek = %+v, %v", peeked, err)
	}

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Claim(ctx, s.Token)
			var notFound *protocol.TurnNotFoundError
			switch {
			case err == nil:
				claimed.Add(1)
			case errors.As(err, &notFound):
			default:
				t.Errorf("Claim: %v", err)
			}
		}()
	}
	wg.Wait()
	if claimed.Load() != 1 {
		t.Errorf("claimed %d times, want exactly once", claimed.Load())
	}
	if n, _ := st.Suspended(ctx, ""); n != 0 {
		t.Errorf("suspended after claim = %d, want 0", n)
	}
}

func TestStore_SaveRequiresToken(t *testing.T) {
	st, _ := openStore(t)
	if err := st.Save(context.Background(), turn.State{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestState_AdvanceDoesNotAlias(t *testing.T) {
	s := sampleState()
	a := s.Advance(turn.AgentAction{ActionType: "one"})
	b := s.Advance(turn.AgentAction{ActionType: "two"})

	if len(s.Results) != 0 || s.Cursor != 0 {
		t.Errorf("original mutated: %+v", s)
	}
	if a.Results[0].ActionType != "one" || b.Results[0].ActionType != "two" {
		t.Errorf("results aliased: a=%v b=%v", a.Results, b.Results)
	}
	if a.Pending != nil {
		t.Error("Advance should clear the pending action")
	}

	next, ok := a.Next()
	if !ok || next.AgentType != protocol.AgentCalendar {
		t.Errorf("Next = %+v, %v", next, ok)
	}
	if len(a.Advance(turn.AgentAction{}).Remaining()) != 0 {
		t.Error("plan should be exhausted")
	}
}

func TestPhase(t *testing.T) {
	for p, want := range map[turn.Phase]string{
		turn.PhasePlanning:         "planning",
		turn.PhaseAwaitingApproval: "awaiting_approval",
		turn.PhaseError:            "error",
		turn.Phase(99):             "unknown",
	} {
		if p.String() != want {
			t.Errorf("%d.String() = %q, want %q", p, p.String(), want)
		}
	}
	if !turn.PhaseDone.Terminal() || turn.PhaseReflecting.Terminal() {
		t.Error("Terminal misclassifies phases")
	}
	if s := (turn.State{}).Fail("classification_failed"); s.Phase != turn.PhaseError || s.Err == "" {
		t.Errorf("Fail = %+v", s)
	}
}

func TestHistory_RecentWindow(t *testing.T) {
	_, h := openStore(t)
	ctx := context.Background()

	for i := range 10 {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		if err := h.Append(ctx, "c1", "u1", role, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Append(ctx, "c2", "u1", protocol.RoleUser, "other"); err != nil {
		t.Fatal(err)
	}

	got, err := h.Recent(ctx, "c1", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []llm.Message{
		{Role: protocol.RoleAssistant, Content: "m7"},
		{Role: protocol.RoleUser, Content: "m8"},
		{Role: protocol.RoleAssistant, Content: "m9"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}

	all, err := h.Messages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 || all[0].Content != "m0" {
		t.Errorf("Messages = %d rows, first %q", len(all), all[0].Content)
	}

	none, err := h.Recent(ctx, "c1", 0)
	if err != nil || none != nil {
		t.Errorf("Recent(0) = %v, %v", none, err)
	}
}
