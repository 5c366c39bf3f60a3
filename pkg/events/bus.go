package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/skyhound/recongraph/pkg/metrics"
)

const (
	// DefaultRingSize is the per-mission replay buffer capacity.
	DefaultRingSize = 1000

	// DefaultSubscriberQueue bounds each subscriber's delivery queue. It
	// exceeds the ring size so a full replay always fits.
	DefaultSubscriberQueue = 1280
)

// BufferedEvent is an envelope with its monotonically increasing per-mission
// SSE id assigned at publish time.
type BufferedEvent struct {
	ID       int64    `json:"id"`
	Envelope Envelope `json:"envelope"`
}

// LogSink durably records published envelopes (the logs table). Sink errors
// never fail the publisher.
type LogSink interface {
	AppendEvent(ctx context.Context, missionID string, env Envelope) error
}

// Bus is the process-wide in-process event bus. Safe for concurrent use
// from all workers. Inject a *Bus handle into each component; no hidden
// globals.
type Bus struct {
	mu       sync.RWMutex
	missions map[string]*missionStream

	sink      LogSink // optional
	ringSize  int
	dedupSize int
	queueSize int
}

// missionStream is the per-mission partition: single-writer ring buffer,
// dedup window, and subscriber registry. The stream mutex serializes
// publishes, which is what guarantees producer-order delivery per mission.
type missionStream struct {
	mu     sync.Mutex
	ring   []BufferedEvent // oldest first, len ≤ ringSize
	nextID int64           // next SSE id to assign (ids start at 1)
	dedup  *dedupWindow
	subs   map[string]*Subscription
}

// Subscription is one subscriber's bounded live queue. Events beyond the
// queue capacity are dropped; the subscriber reconciles via reconnect
// replay.
type Subscription struct {
	ID        string
	MissionID string
	C         <-chan BufferedEvent

	ch   chan BufferedEvent
	bus  *Bus
	once sync.Once
}

// Option configures a Bus.
type Option func(*Bus)

// WithRingSize overrides the per-mission ring buffer capacity.
func WithRingSize(n int) Option { return func(b *Bus) { b.ringSize = n } }

// WithDedupWindow overrides the per-mission dedup window capacity.
func WithDedupWindow(n int) Option { return func(b *Bus) { b.dedupSize = n } }

// WithSubscriberQueue overrides the per-subscriber queue capacity.
func WithSubscriberQueue(n int) Option { return func(b *Bus) { b.queueSize = n } }

// WithSink attaches a durable log sink.
func WithSink(s LogSink) Option { return func(b *Bus) { b.sink = s } }

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		missions:  make(map[string]*missionStream),
		ringSize:  DefaultRingSize,
		dedupSize: DefaultDedupWindow,
		queueSize: DefaultSubscriberQueue,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) stream(missionID string) *missionStream {
	b.mu.RLock()
	s, ok := b.missions[missionID]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.missions[missionID]; ok {
		return s
	}
	s = &missionStream{
		ring:   make([]BufferedEvent, 0, b.ringSize),
		nextID: 1,
		dedup:  newDedupWindow(b.dedupSize),
		subs:   make(map[string]*Subscription),
	}
	b.missions[missionID] = s
	return s
}

// Publish delivers an envelope to the mission's subscribers and appends it
// to the replay ring. Publish never fails: duplicates are dropped silently,
// sink errors are logged, and slow subscribers lose events rather than
// blocking the publisher.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if env.MissionID == "" || env.EventID == "" {
		slog.Warn("Dropping envelope without mission_id or event_id",
			"event_type", env.EventType)
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		return
	}

	s := b.stream(env.MissionID)
	s.mu.Lock()
	if s.dedup.Seen(env.EventID) {
		s.mu.Unlock()
		metrics.EventsDropped.WithLabelValues("duplicate").Inc()
		return
	}

	buffered := BufferedEvent{ID: s.nextID, Envelope: env}
	s.nextID++
	if len(s.ring) == b.ringSize {
		s.ring = s.ring[1:]
	}
	s.ring = append(s.ring, buffered)

	for _, sub := range s.subs {
		select {
		case sub.ch <- buffered:
		default:
			// Queue full: drop, the subscriber recovers via replay.
			metrics.EventsDropped.WithLabelValues("slow_subscriber").Inc()
		}
	}
	s.mu.Unlock()
	metrics.EventsPublished.WithLabelValues(env.EventType).Inc()

	if b.sink != nil {
		if err := b.sink.AppendEvent(ctx, env.MissionID, env); err != nil {
			slog.Warn("Event sink append failed; event dropped from durable log",
				"mission_id", env.MissionID, "event_type", env.EventType, "error", err)
		}
	}
}

// Subscribe registers a subscriber for a mission's stream and returns the
// replay backlog plus the live subscription.
//
// lastEventID semantics: 0 means "no last id" (empty backlog, the caller
// sends a snapshot first). If lastEventID is still in the ring, the backlog
// is every buffered event with id strictly greater, in order. If it was
// already evicted (or is unknown), the entire ring is replayed and the
// caller is responsible for reconciling with a snapshot.
//
// The backlog snapshot and live registration happen under the stream lock,
// so no event published after Subscribe returns is missing from either.
func (b *Bus) Subscribe(missionID string, lastEventID int64) ([]BufferedEvent, *Subscription) {
	s := b.stream(missionID)

	sub := &Subscription{
		ID:        uuid.New().String(),
		MissionID: missionID,
		bus:       b,
		ch:        make(chan BufferedEvent, b.queueSize),
	}
	sub.C = sub.ch

	s.mu.Lock()
	defer s.mu.Unlock()

	var backlog []BufferedEvent
	switch {
	case lastEventID <= 0:
		// Fresh subscriber: snapshot-first contract, no backlog.
	case len(s.ring) > 0 && lastEventID >= s.ring[0].ID-1 && lastEventID < s.nextID:
		for _, ev := range s.ring {
			if ev.ID > lastEventID {
				backlog = append(backlog, ev)
			}
		}
	default:
		// Evicted or unknown id: full-buffer replay.
		backlog = append(backlog, s.ring...)
	}

	s.subs[sub.ID] = sub
	return backlog, sub
}

// Close removes the subscription and closes its channel. Safe to call more
// than once.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		s := sub.bus.stream(sub.MissionID)
		s.mu.Lock()
		delete(s.subs, sub.ID)
		s.mu.Unlock()
		close(sub.ch)
	})
}

// LatestID returns the most recently assigned SSE id for a mission, or 0.
func (b *Bus) LatestID(missionID string) int64 {
	b.mu.RLock()
	s, ok := b.missions[missionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID - 1
}

// SubscriberCount returns the number of live subscribers for a mission.
func (b *Bus) SubscriberCount(missionID string) int {
	b.mu.RLock()
	s, ok := b.missions[missionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// DropMission discards a mission's ring buffer, dedup window, and
// subscribers (used on mission deletion). Subscriber channels are closed.
func (b *Bus) DropMission(missionID string) {
	b.mu.Lock()
	s, ok := b.missions[missionID]
	delete(b.missions, missionID)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Shutdown closes every subscriber channel across all missions. Called
// during graceful shutdown after producers have stopped.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	streams := make([]*missionStream, 0, len(b.missions))
	for _, s := range b.missions {
		streams = append(streams, s)
	}
	b.missions = make(map[string]*missionStream)
	b.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		for _, sub := range s.subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		s.subs = make(map[string]*Subscription)
		s.mu.Unlock()
	}
}
