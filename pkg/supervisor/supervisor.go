// Package supervisor runs the turn state machine. A turn is planned by the
// classifier, then each planned intent is dispatched in order: intents the
// user trusts the agent with execute immediately, the rest suspend the turn
// on an approval request. Every finished attempt is reflected into the trust
// ledger before the next intent is dispatched.
//
// The only suspension point is the approval gate. A suspended turn is
// persisted under its correlation token and resumed by DecideApproval or by
// the expiry sweeper, whichever resolves the request first.
package supervisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aide/pkg/activity"
	"aide/pkg/agent"
	"aide/pkg/approval"
	"aide/pkg/classify"
	"aide/pkg/protocol"
	"aide/pkg/reflexion"
	"aide/pkg/trust"
	"aide/pkg/turn"
)

// RecentWindow is the number of conversation messages handed to the
// classifier and to each executor.
const RecentWindow = 6

// DefaultLessonLimit is the number of past critiques an executor sees.
const DefaultLessonLimit = 3

// Config holds supervisor settings. Zero fields take defaults.
type Config struct {
	Policy                 trust.Policy
	ApprovalTimeoutSeconds int
	SweepInterval          time.Duration
	RecentWindow           int
	LessonLimit            int
}

func (c Config) withDefaults() Config {
	if c.Policy.EscalationThresholds == nil && c.Policy.RequiredLevels == nil {
		c.Policy = trust.DefaultPolicy()
	}
	if c.ApprovalTimeoutSeconds <= 0 {
		c.ApprovalTimeoutSeconds = approval.DefaultTimeoutSeconds
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = approval.DefaultSweepInterval
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = RecentWindow
	}
	if c.LessonLimit <= 0 {
		c.LessonLimit = DefaultLessonLimit
	}
	return c
}

// TurnResult is what a caller sees after a turn finishes or suspends.
type TurnResult struct {
	Token            string                     `json:"token"`
	ConversationID   string                     `json:"conversation_id"`
	Phase            string                     `json:"phase"`
	Response         string                     `json:"response"`
	AgentActions     []turn.AgentAction         `json:"agent_actions"`
	PendingApprovals []protocol.ApprovalRequest `json:"pending_approvals"`
	Error            string                     `json:"error,omitempty"`
}

// Decision is the result of DecideApproval. Turn is nil when the request
// was already resolved or its turn was no longer suspended.
type Decision struct {
	Approval   protocol.ApprovalRequest `json:"approval"`
	Resolution approval.Resolution      `json:"resolution"`
	Turn       *TurnResult              `json:"turn,omitempty"`
}

// approvalPayload is the opaque payload stored on an approval request.
type approvalPayload struct {
	Intent   protocol.Intent   `json:"intent"`
	Message  string            `json:"message"`
	RiskTier protocol.RiskTier `json:"risk_tier"`
}

// Supervisor owns the turn state machine and the components it drives.
type Supervisor struct {
	cfg        Config
	classifier classify.Classifier
	agents     *agent.Registry
	ledger     *trust.Ledger
	gate       *approval.Gate
	sweeper    *approval.Sweeper
	reflexion  *reflexion.Logger
	recorder   *activity.Recorder
	publisher  *activity.Publisher
	turns      *turn.Store
	history    *turn.History
	logger     *zap.Logger

	nowFunc func() time.Time
}

// New wires a Supervisor over db. publisher may be nil, in which case
// activity is recorded but not streamed.
func New(cfg Config, db *sql.DB, classifier classify.Classifier, agents *agent.Registry, publisher *activity.Publisher, logger *zap.Logger) (*Supervisor, error) {
	resolved := cfg.withDefaults()
	if err := resolved.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger := trust.NewLedger(db, resolved.Policy, logger)
	gate := approval.NewGate(db, logger)
	gate.SetDefaultTimeout(resolved.ApprovalTimeoutSeconds)

	s := &Supervisor{
		cfg:        resolved,
		classifier: classifier,
		agents:     agents,
		ledger:     ledger,
		gate:       gate,
		reflexion:  reflexion.NewLogger(db, ledger, logger),
		recorder:   activity.NewRecorder(db, publisher, logger),
		publisher:  publisher,
		turns:      turn.NewStore(db),
		history:    turn.NewHistory(db),
		logger:     logger.Named("supervisor"),
		nowFunc:    time.Now,
	}
	s.sweeper = approval.NewSweeper(gate, s, resolved.SweepInterval, logger)
	return s, nil
}

// Ledger returns the trust ledger, for policy hot reload.
func (s *Supervisor) Ledger() *trust.Ledger { return s.ledger }

// Gate returns the approval gate, for timeout hot reload.
func (s *Supervisor) Gate() *approval.Gate { return s.gate }

// SubmitTurn plans message and runs the plan until it finishes or suspends
// on an approval. Only classification and authorization failures are
// returned as errors; executor failures are reported in the result.
func (s *Supervisor) SubmitTurn(ctx context.Context, user, message, conversationID string) (TurnResult, error) {
	user = strings.TrimSpace(user)
	message = strings.TrimSpace(message)
	if user == "" {
		return TurnResult{}, errors.New("submit turn: user is required")
	}
	if message == "" {
		return TurnResult{}, errors.New("submit turn: message is required")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	st := turn.State{
		Token:          turn.NewToken(),
		UserID:         user,
		ConversationID: conversationID,
		Message:        message,
		Phase:          turn.PhasePlanning,
		CreatedAt:      s.nowFunc().UTC(),
	}
	s.emit(ctx, st, "", protocol.ActivityStarted, truncate(message, 120))

	st, err := s.plan(ctx, st)
	if err != nil {
		return s.finish(ctx, st, err)
	}
	return s.run(ctx, st)
}

// plan fills st.Plan from the classifier.
func (s *Supervisor) plan(ctx context.Context, st turn.State) (turn.State, error) {
	ctx, span := startPhaseSpan(ctx, turn.PhasePlanning, st)

	recent, err := s.history.Recent(ctx, st.ConversationID, s.cfg.RecentWindow)
	if err != nil {
		s.logger.Warn("load history", zap.String("conversation", st.ConversationID), zap.Error(err))
	}
	if err := s.history.Append(ctx, st.ConversationID, st.UserID, protocol.RoleUser, st.Message); err != nil {
		s.logger.Warn("append history", zap.String("conversation", st.ConversationID), zap.Error(err))
	}

	plan, err := s.classifier.Classify(ctx, st.Message, recent)
	if err == nil && len(plan) == 0 {
		err = classify.ErrNoMatch
	}
	if err != nil {
		cerr := &protocol.ClassificationError{UserID: st.UserID, Reason: "classification_failed", Err: err}
		endSpan(span, nil, cerr)
		return st.Fail("classification_failed"), cerr
	}

	st.Plan = plan
	st = st.WithPhase(turn.PhaseDispatching)
	summary := describePlan(plan)
	s.emit(ctx, st, "", protocol.ActivityThinking, "plan: "+summary)
	endSpan(span, map[string]string{"turn.plan": summary}, nil)
	return st, nil
}

// run dispatches plan items from st.Cursor until the plan is exhausted, a
// fatal error occurs, or an item suspends on approval.
func (s *Supervisor) run(ctx context.Context, st turn.State) (TurnResult, error) {
	for {
		in, ok := st.Next()
		if !ok {
			return s.finish(ctx, st.WithPhase(turn.PhaseDone), nil)
		}

		next, tier, err := s.dispatch(ctx, st, in)
		if err != nil {
			return s.finish(ctx, next.Fail(err.Error()), err)
		}
		st = next

		if st.Phase == turn.PhaseAwaitingApproval {
			suspended, req, err := s.suspend(ctx, st, in, tier)
			if err != nil {
				return s.finish(ctx, suspended.Fail(err.Error()), err)
			}
			return s.result(suspended, []protocol.ApprovalRequest{req}), nil
		}

		action, err := s.execute(ctx, st, in, tier, protocol.OutcomeSuccess, "")
		if err != nil {
			return s.finish(ctx, st.Advance(action).Fail(err.Error()), err)
		}
		st = s.reflect(ctx, st, action)
	}
}

// dispatch looks up the trust score for in and routes the turn to executing
// or awaiting approval.
func (s *Supervisor) dispatch(ctx context.Context, st turn.State, in protocol.Intent) (turn.State, protocol.RiskTier, error) {
	st = st.WithPhase(turn.PhaseDispatching)
	ctx, span := startPhaseSpan(ctx, turn.PhaseDispatching, st)

	score, err := s.ledger.GetOrCreate(ctx, st.UserID, in.AgentType, in.Action)
	if err != nil {
		endSpan(span, nil, err)
		return st, "", fmt.Errorf("dispatch %s/%s: %w", in.AgentType, in.Action, err)
	}
	tier := s.ledger.ClassifyRisk(in.AgentType, in.Action)
	required := s.ledger.RequiredLevel(tier)
	st.TrustLevel = score.Level

	route := turn.PhaseExecuting
	if score.Level < required {
		route = turn.PhaseAwaitingApproval
	}
	s.logger.Debug("dispatch",
		zap.String("token", st.Token),
		zap.String("agent", string(in.AgentType)),
		zap.String("action", in.Action),
		zap.String("tier", string(tier)),
		zap.Int("level", int(score.Level)),
		zap.Int("required", int(required)),
		zap.Stringer("route", route))
	endSpan(span, map[string]string{"dispatch.tier": string(tier), "dispatch.route": route.String()}, nil)
	return st.WithPhase(route), tier, nil
}

// execute runs the executor for in. Non-fatal failures are folded into the
// returned action with OutcomeFailed; only authorization failures are
// returned as errors.
func (s *Supervisor) execute(ctx context.Context, st turn.State, in protocol.Intent, tier protocol.RiskTier, okOutcome protocol.Outcome, approvalID string) (turn.AgentAction, error) {
	st = st.WithPhase(turn.PhaseExecuting)
	ctx, span := startPhaseSpan(ctx, turn.PhaseExecuting, st)

	action := turn.AgentAction{
		AgentType:  in.AgentType,
		ActionType: in.Action,
		RiskTier:   tier,
		ApprovalID: approvalID,
	}

	res, err := s.invoke(ctx, st, in)
	if err != nil {
		action.Outcome = protocol.OutcomeFailed
		action.Error = err.Error()
		var authErr *protocol.AuthError
		if errors.As(err, &authErr) {
			endSpan(span, nil, err)
			return action, authErr
		}
		execErr := &protocol.ExecutorError{AgentType: in.AgentType, ActionType: in.Action, Err: err}
		s.logger.Warn("executor failed", zap.String("token", st.Token), zap.Error(execErr))
		s.emit(ctx, st, in.AgentType, protocol.ActivityError, execErr.Error())
		endSpan(span, nil, execErr)
		return action, nil
	}

	action.Outcome = okOutcome
	action.Result = res.Text
	s.emit(ctx, st, in.AgentType, protocol.ActivityCompleted, fmt.Sprintf("%s %s", in.AgentType, in.Action))
	endSpan(span, nil, nil)
	return action, nil
}

// invoke calls the executor with the recent window and lessons.
func (s *Supervisor) invoke(ctx context.Context, st turn.State, in protocol.Intent) (agent.Result, error) {
	ex, ok := s.agents.Get(in.AgentType)
	if !ok {
		return agent.Result{}, fmt.Errorf("no executor registered for %s", in.AgentType)
	}

	recent, err := s.history.Recent(ctx, st.ConversationID, s.cfg.RecentWindow)
	if err != nil {
		s.logger.Warn("load history", zap.String("conversation", st.ConversationID), zap.Error(err))
	}
	lessons, err := s.reflexion.Lessons(ctx, st.UserID, in.AgentType, s.cfg.LessonLimit)
	if err != nil {
		s.logger.Warn("load lessons", zap.String("agent", string(in.AgentType)), zap.Error(err))
	}

	ctx, span := startAgentSpan(ctx, string(in.AgentType), in.Action)
	res, err := ex.Execute(ctx, agent.TurnContext{
		UserID:         st.UserID,
		ConversationID: st.ConversationID,
		TurnToken:      st.Token,
		Intent:         in,
		Message:        st.Message,
		Recent:         recent,
		Lessons:        lessons,
		Now:            s.nowFunc(),
	})
	endSpan(span, nil, err)
	return res, err
}

// suspend persists st under its token and then creates the approval request
// for in. The turn is stored first so a decision can never land on a request
// whose turn is not there to resume.
func (s *Supervisor) suspend(ctx context.Context, st turn.State, in protocol.Intent, tier protocol.RiskTier) (turn.State, protocol.ApprovalRequest, error) {
	ctx, span := startPhaseSpan(ctx, turn.PhaseAwaitingApproval, st)

	payload, err := json.Marshal(approvalPayload{Intent: in, Message: st.Message, RiskTier: tier})
	if err != nil {
		endSpan(span, nil, err)
		return st, protocol.ApprovalRequest{}, fmt.Errorf("encode approval payload: %w", err)
	}
	approvalID := uuid.NewString()
	st.Pending = &turn.PendingAction{Intent: in, RiskTier: tier, ApprovalID: approvalID, Payload: string(payload)}
	if err := s.turns.Save(ctx, st); err != nil {
		endSpan(span, nil, err)
		return st, protocol.ApprovalRequest{}, fmt.Errorf("persist suspended turn: %w", err)
	}

	req, err := s.gate.Create(ctx, approval.CreateParams{
		ID:         approvalID,
		UserID:     st.UserID,
		AgentType:  in.AgentType,
		ActionType: in.Action,
		Payload:    string(payload),
		TurnToken:  st.Token,
	})
	if err != nil {
		// No request means nothing can resume the turn; drop it.
		if _, cerr := s.turns.Claim(context.WithoutCancel(ctx), st.Token); cerr != nil {
			s.logger.Error("drop unrequested turn", zap.String("token", st.Token), zap.Error(cerr))
		}
		endSpan(span, nil, err)
		return st, protocol.ApprovalRequest{}, err
	}

	s.emit(ctx, st, in.AgentType, protocol.ActivityApprovalRequired,
		fmt.Sprintf("%s %s needs approval (%s)", in.AgentType, in.Action, req.ID))
	s.logger.Info("turn suspended",
		zap.String("token", st.Token),
		zap.String("approval", req.ID),
		zap.Time("expires_at", req.ExpiresAt))
	endSpan(span, map[string]string{"approval.id": req.ID}, nil)
	return st, req, nil
}

// reflect records the attempt and advances past it. A failed write is
// logged; the turn continues.
func (s *Supervisor) reflect(ctx context.Context, st turn.State, action turn.AgentAction) turn.State {
	st = st.WithPhase(turn.PhaseReflecting)
	ctx, span := startPhaseSpan(ctx, turn.PhaseReflecting, st)

	_, score, err := s.reflexion.Record(ctx, reflexion.Attempt{
		UserID:     st.UserID,
		AgentType:  action.AgentType,
		ActionType: action.ActionType,
		Outcome:    action.Outcome,
		ApprovalID: action.ApprovalID,
		TurnToken:  st.Token,
		Detail:     action.Error,
	})
	if err != nil {
		s.logger.Error("record reflexion", zap.String("token", st.Token), zap.Error(err))
	} else {
		span.SetAttributes(trustAttrs(score)...)
	}
	endSpan(span, map[string]string{"reflexion.outcome": string(action.Outcome)}, err)
	return st.Advance(action).WithPhase(turn.PhaseDispatching)
}

// DecideApproval resolves an approval and resumes its turn. A request that
// was already resolved is reported with approval.AlreadyResolved and no
// error.
func (s *Supervisor) DecideApproval(ctx context.Context, id string, approved bool, reason string) (Decision, error) {
	req, res, err := s.gate.Decide(ctx, id, approved, reason)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Approval: req, Resolution: res}
	if res == approval.AlreadyResolved {
		s.logger.Info("approval already resolved", zap.String("approval", id), zap.String("status", string(req.Status)))
		return d, nil
	}

	tr, err := s.resume(ctx, req)
	var notFound *protocol.TurnNotFoundError
	if errors.As(err, &notFound) {
		s.logger.Warn("no suspended turn for approval", zap.String("approval", id), zap.String("token", req.TurnToken))
		return d, nil
	}
	if tr.Token != "" {
		d.Turn = &tr
	}
	return d, err
}

// Resume continues the turn behind a terminal request: an expired one with a
// timeout outcome, or a decided one whose resume never ran. It is the
// sweeper's approval.Resumer.
func (s *Supervisor) Resume(ctx context.Context, req protocol.ApprovalRequest) error {
	_, err := s.resume(ctx, req)
	var notFound *protocol.TurnNotFoundError
	if errors.As(err, &notFound) {
		s.logger.Warn("no suspended turn for approval", zap.String("approval", req.ID),
			zap.String("status", string(req.Status)), zap.String("token", req.TurnToken))
		return nil
	}
	// An auth failure later in the plan belongs to the turn, not the sweep.
	var authErr *protocol.AuthError
	if errors.As(err, &authErr) {
		return nil
	}
	return err
}

// resume claims the turn suspended on req and continues it from the pending
// action.
func (s *Supervisor) resume(ctx context.Context, req protocol.ApprovalRequest) (TurnResult, error) {
	st, err := s.turns.Claim(ctx, req.TurnToken)
	if err != nil {
		return TurnResult{}, err
	}
	if st.Pending == nil || st.Pending.ApprovalID != req.ID {
		err := fmt.Errorf("turn %s is not waiting on approval %s", st.Token, req.ID)
		return s.finish(ctx, st.Fail(err.Error()), err)
	}
	in, tier := st.Pending.Intent, st.Pending.RiskTier

	var action turn.AgentAction
	switch req.Status {
	case protocol.ApprovalApproved:
		s.emit(ctx, st, in.AgentType, protocol.ActivityThinking, fmt.Sprintf("%s %s approved", in.AgentType, in.Action))
		action, err = s.execute(ctx, st, in, tier, protocol.OutcomeApproved, req.ID)
		if err != nil {
			return s.finish(ctx, st.Advance(action).Fail(err.Error()), err)
		}
	case protocol.ApprovalRejected:
		action = turn.AgentAction{AgentType: in.AgentType, ActionType: in.Action, RiskTier: tier,
			Outcome: protocol.OutcomeRejected, Error: req.Reason, ApprovalID: req.ID}
		s.emit(ctx, st, in.AgentType, protocol.ActivityCancelled, fmt.Sprintf("%s %s rejected", in.AgentType, in.Action))
	case protocol.ApprovalExpired:
		action = turn.AgentAction{AgentType: in.AgentType, ActionType: in.Action, RiskTier: tier,
			Outcome: protocol.OutcomeTimeout, Error: "approval timed out", ApprovalID: req.ID}
		s.emit(ctx, st, in.AgentType, protocol.ActivityCancelled, fmt.Sprintf("%s %s approval timed out", in.AgentType, in.Action))
	default:
		err := fmt.Errorf("approval %s is still %s", req.ID, req.Status)
		return s.finish(ctx, st.Fail(err.Error()), err)
	}

	return s.run(ctx, s.reflect(ctx, st, action))
}

// finish records the end of a turn and builds its result.
func (s *Supervisor) finish(ctx context.Context, st turn.State, err error) (TurnResult, error) {
	res := s.result(st, nil)
	if st.Phase == turn.PhaseError {
		s.emit(ctx, st, "", protocol.ActivityError, st.Err)
	}
	if herr := s.history.Append(ctx, st.ConversationID, st.UserID, protocol.RoleAssistant, res.Response); herr != nil {
		s.logger.Warn("append history", zap.String("conversation", st.ConversationID), zap.Error(herr))
	}
	s.logger.Info("turn finished",
		zap.String("token", st.Token),
		zap.Stringer("phase", st.Phase),
		zap.Int("actions", len(st.Results)),
		zap.Error(err))
	return res, err
}

func (s *Supervisor) result(st turn.State, pending []protocol.ApprovalRequest) TurnResult {
	if pending == nil {
		pending = []protocol.ApprovalRequest{}
	}
	actions := st.Results
	if actions == nil {
		actions = []turn.AgentAction{}
	}
	return TurnResult{
		Token:            st.Token,
		ConversationID:   st.ConversationID,
		Phase:            st.Phase.String(),
		Response:         render(st, pending),
		AgentActions:     actions,
		PendingApprovals: pending,
		Error:            st.Err,
	}
}

// emit writes an activity record. Failures are logged only: the turn does
// not depend on the activity log. The write outlives ctx so a caller that
// disconnects mid-turn still leaves a complete log.
func (s *Supervisor) emit(ctx context.Context, st turn.State, agentType protocol.AgentType, status protocol.ActivityStatus, detail string) {
	_, err := s.recorder.Record(context.WithoutCancel(ctx), protocol.ActivityRecord{
		UserID:    st.UserID,
		TurnToken: st.Token,
		AgentType: agentType,
		Status:    status,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("record activity", zap.String("token", st.Token), zap.String("status", string(status)), zap.Error(err))
	}
}

// ExpireSweep runs one expiry pass and returns how many requests expired.
func (s *Supervisor) ExpireSweep(ctx context.Context) (int, error) {
	return s.sweeper.SweepOnce(ctx)
}

// RunSweeper expires overdue approvals every SweepInterval until ctx ends.
func (s *Supervisor) RunSweeper(ctx context.Context) error {
	return s.sweeper.Run(ctx)
}

// PendingApprovals lists pending requests for user, or for everyone when
// user is empty.
func (s *Supervisor) PendingApprovals(ctx context.Context, user string) ([]protocol.ApprovalRequest, error) {
	return s.gate.ListPending(ctx, user)
}

// StreamActivity subscribes to user's live activity. It returns nil when
// the supervisor has no publisher.
func (s *Supervisor) StreamActivity(ctx context.Context, user string) *activity.Subscription {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Subscribe(ctx, user)
}

// TrustOverview lists user's trust scores.
func (s *Supervisor) TrustOverview(ctx context.Context, user string) ([]protocol.TrustScore, error) {
	return s.ledger.Overview(ctx, user)
}

// SetTrustLevel manually sets every action of agentType to level for user.
// The next recorded outcome for each pair clears the override without
// re-evaluating the level.
func (s *Supervisor) SetTrustLevel(ctx context.Context, user string, agentType protocol.AgentType, level protocol.TrustLevel) ([]protocol.TrustScore, error) {
	scores, err := s.ledger.SetLevel(ctx, user, agentType, level)
	if err != nil {
		return nil, err
	}
	s.logger.Info("trust level set", zap.String("user", user), zap.String("agent", string(agentType)), zap.Int("level", int(level)))
	return scores, nil
}
