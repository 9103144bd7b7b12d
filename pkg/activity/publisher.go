// Package activity distributes agent activity to live observers and keeps the
// durable activity log.
//
// The Publisher is best-effort: every user has one bounded FIFO queue, and a
// publish onto a full queue is dropped and counted rather than blocking the
// producer. The activities table, written by Recorder, is the source of
// truth.
//
// Queues live in process memory, are created lazily on first use and are
// never removed, so memory grows with the number of distinct users seen by
// this process. Fanning out across processes needs a shared pub/sub channel
// instead of these local queues.
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aide/pkg/protocol"
)

// Defaults for Options.
const (
	DefaultQueueCapacity = 100
	DefaultPingInterval  = 30 * time.Second
)

// Event is one item on a user's activity stream. Type is an ActivityStatus
// value, or EventConnected / EventPing, which are stream-only.
type Event struct {
	Type      string             `json:"type"`
	TurnToken string             `json:"turn_token,omitempty"`
	AgentType protocol.AgentType `json:"agent_type,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	At        time.Time          `json:"at"`
}

// Options configures a Publisher.
type Options struct {
	QueueCapacity int
	PingInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	return o
}

type queue struct {
	ch      chan Event
	dropped atomic.Int64
}

// Publisher owns the per-user queues.
type Publisher struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*queue

	dropped   atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once

	nowFunc func() time.Time
}

// NewPublisher creates a Publisher. A nil logger disables logging.
func NewPublisher(opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		opts:    opts.withDefaults(),
		logger:  logger.Named("activity"),
		queues:  make(map[string]*queue),
		closed:  make(chan struct{}),
		nowFunc: time.Now,
	}
}

func (p *Publisher) queueFor(user string) *queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[user]
	if !ok {
		q = &queue{ch: make(chan Event, p.opts.QueueCapacity)}
		p.queues[user] = q
	}
	return q
}

// Publish enqueues ev for user without blocking. It reports false when the
// queue was full and the event was dropped.
func (p *Publisher) Publish(user string, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = p.nowFunc()
	}
	q := p.queueFor(user)
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		total := p.dropped.Add(1)
		p.logger.Debug("activity queue full, event dropped",
			zap.String("user", user),
			zap.String("type", ev.Type),
			zap.Int64("dropped_total", total))
		return false
	}
}

// Len returns the number of events waiting in user's queue.
func (p *Publisher) Len(user string) int {
	p.mu.Lock()
	q, ok := p.queues[user]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return len(q.ch)
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Queues  int              `json:"queues"`
	Dropped int64            `json:"dropped"`
	PerUser map[string]int64 `json:"per_user_dropped,omitempty"`
}

// Stats reports queue count and drop counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Queues: len(p.queues), Dropped: p.dropped.Load()}
	for user, q := range p.queues {
		if n := q.dropped.Load(); n > 0 {
			if s.PerUser == nil {
				s.PerUser = make(map[string]int64)
			}
			s.PerUser[user] = n
		}
	}
	return s
}

// Close ends every open subscription. Publish keeps working afterwards but
// nothing consumes the queues.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Subscription is one consumer's view of a user's stream.
type Subscription struct {
	events chan Event
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

// Events returns the stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// Subscribe starts a stream for user. The first event is EventConnected;
// queued events follow in FIFO order, and EventPing is sent after every
// PingInterval without traffic. Events queued before Subscribe was called are
// discarded. The stream ends when ctx is cancelled, Close is called or the
// Publisher is closed.
//
// All subscriptions for one user read the same queue, so concurrent
// subscribers split the events between them.
func (p *Publisher) Subscribe(ctx context.Context, user string) *Subscription {
	q := p.queueFor(user)

	stale := 0
drain:
	for {
		select {
		case <-q.ch:
			stale++
		default:
			break drain
		}
	}
	if stale > 0 {
		p.logger.Debug("discarded stale activity", zap.String("user", user), zap.Int("count", stale))
	}

	s := &Subscription{
		events: make(chan Event),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.forward(ctx, q, s)
	return s
}

func (p *Publisher) forward(ctx context.Context, q *queue, s *Subscription) {
	defer close(s.done)
	defer close(s.events)

	send := func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
		case <-s.stop:
		case <-p.closed:
		}
		return false
	}

	if !send(Event{Type: protocol.EventConnected, At: p.nowFunc()}) {
		return
	}

	ticker := time.NewTicker(p.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-q.ch:
			if !send(ev) {
				return
			}
			ticker.Reset(p.opts.PingInterval)
		case <-ticker.C:
			if !send(Event{Type: protocol.EventPing, At: p.nowFunc()}) {
				return
			}
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-p.closed:
			return
		}
	}
}
