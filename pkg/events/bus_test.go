package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishN(t *testing.T, bus *Bus, missionID string, n int) []Envelope {
	t.Helper()
	envs := make([]Envelope, 0, n)
	for i := 0; i < n; i++ {
		env := New(EventLog, missionID, "test", LogPayload{Level: "info", Message: fmt.Sprintf("msg-%d", i)})
		bus.Publish(context.Background(), env)
		envs = append(envs, env)
	}
	return envs
}

func drain(sub *Subscription, n int, timeout time.Duration) []BufferedEvent {
	out := make([]BufferedEvent, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestBus_ProducerOrderDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	_, sub := bus.Subscribe("m1", 0)
	defer sub.Close()

	published := publishN(t, bus, "m1", 25)

	got := drain(sub, 25, time.Second)
	require.Len(t, got, 25)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.ID, "SSE ids are monotonic from 1")
		assert.Equal(t, published[i].EventID, ev.Envelope.EventID, "delivery preserves publish order")
	}
}

func TestBus_DuplicateEventIDDroppedAtMostOnce(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	_, sub := bus.Subscribe("m1", 0)
	defer sub.Close()

	env := New(EventNodeAdded, "m1", "test", nil)
	bus.Publish(context.Background(), env)
	// Producer retry re-publishes the identical envelope.
	bus.Publish(context.Background(), env)
	bus.Publish(context.Background(), env)

	got := drain(sub, 3, 200*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, env.EventID, got[0].Envelope.EventID)
	assert.Equal(t, int64(1), bus.LatestID("m1"), "duplicates consume no SSE ids")
}

func TestBus_ReplayStrictlyAfterLastEventID(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	publishN(t, bus, "m1", 10)

	backlog, sub := bus.Subscribe("m1", 4)
	defer sub.Close()

	require.Len(t, backlog, 6)
	for i, ev := range backlog {
		assert.Equal(t, int64(5+i), ev.ID)
	}
}

func TestBus_FreshSubscriberGetsNoBacklog(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	publishN(t, bus, "m1", 5)

	backlog, sub := bus.Subscribe("m1", 0)
	defer sub.Close()

	assert.Empty(t, backlog, "lastEventID 0 means snapshot-first, no replay")
}

func TestBus_EvictedIDTriggersFullBufferReplay(t *testing.T) {
	bus := NewBus(WithRingSize(5))
	defer bus.Shutdown()

	publishN(t, bus, "m1", 12)

	// Events 1..7 were evicted; lastEventID 2 is gone.
	backlog, sub := bus.Subscribe("m1", 2)
	defer sub.Close()

	require.Len(t, backlog, 5)
	assert.Equal(t, int64(8), backlog[0].ID)
	assert.Equal(t, int64(12), backlog[4].ID)
}

func TestBus_BacklogAndLiveHaveNoGap(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	publishN(t, bus, "m1", 3)

	backlog, sub := bus.Subscribe("m1", 1)
	defer sub.Close()

	publishN(t, bus, "m1", 2)

	require.Len(t, backlog, 2)
	live := drain(sub, 2, time.Second)
	require.Len(t, live, 2)

	ids := []int64{backlog[0].ID, backlog[1].ID, live[0].ID, live[1].ID}
	assert.Equal(t, []int64{2, 3, 4, 5}, ids)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(WithSubscriberQueue(2))
	defer bus.Shutdown()

	_, sub := bus.Subscribe("m1", 0)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		publishN(t, bus, "m1", 50)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}

	// Only the queue capacity survived; the rest were dropped, not queued.
	got := drain(sub, 50, 200*time.Millisecond)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(50), bus.LatestID("m1"))
}

func TestBus_MissionIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	_, subA := bus.Subscribe("m1", 0)
	defer subA.Close()
	_, subB := bus.Subscribe("m2", 0)
	defer subB.Close()

	publishN(t, bus, "m1", 3)
	publishN(t, bus, "m2", 1)

	gotA := drain(subA, 3, time.Second)
	gotB := drain(subB, 1, time.Second)
	require.Len(t, gotA, 3)
	require.Len(t, gotB, 1)
	assert.Equal(t, int64(1), gotB[0].ID, "SSE ids are per-mission")
	for _, ev := range gotA {
		assert.Equal(t, "m1", ev.Envelope.MissionID)
	}
}

func TestBus_DropMissionClosesSubscribers(t *testing.T) {
	bus := NewBus()
	_, sub := bus.Subscribe("m1", 0)

	bus.DropMission("m1")

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, int64(0), bus.LatestID("m1"))
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	_, sub := bus.Subscribe("m1", 0)
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount("m1"))
}

func TestBus_PublishWithoutMissionIDIsDropped(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	bus.Publish(context.Background(), Envelope{EventID: "x", EventType: EventLog})
	assert.Equal(t, int64(0), bus.LatestID(""))
}

type recordingSink struct {
	missions []string
	fail     bool
}

func (s *recordingSink) AppendEvent(_ context.Context, missionID string, _ Envelope) error {
	s.missions = append(s.missions, missionID)
	if s.fail {
		return fmt.Errorf("sink down")
	}
	return nil
}

func TestBus_SinkFailureNeverFailsPublish(t *testing.T) {
	sink := &recordingSink{fail: true}
	bus := NewBus(WithSink(sink))
	defer bus.Shutdown()

	_, sub := bus.Subscribe("m1", 0)
	defer sub.Close()

	publishN(t, bus, "m1", 2)

	got := drain(sub, 2, time.Second)
	assert.Len(t, got, 2, "subscribers still receive events when the sink fails")
	assert.Equal(t, []string{"m1", "m1"}, sink.missions)
}

func TestDedupWindow_EvictionReopensID(t *testing.T) {
	w := newDedupWindow(3)

	assert.False(t, w.Seen("a"))
	assert.False(t, w.Seen("b"))
	assert.False(t, w.Seen("c"))
	assert.True(t, w.Seen("a"), "recency refreshed")

	// "b" is now the oldest; pushing "d" evicts it.
	assert.False(t, w.Seen("d"))
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Seen("b"), "evicted id is treated as new again")
}

func TestTopicFor_Routing(t *testing.T) {
	assert.Equal(t, TopicGraph, TopicFor(EventNodeAdded))
	assert.Equal(t, TopicGraph, TopicFor(EventEdgesBatch))
	assert.Equal(t, TopicGraph, TopicFor(EventSnapshot))
	assert.Equal(t, TopicLogs, TopicFor(EventLog))
	assert.Equal(t, TopicLogs, TopicFor(EventToolCalled))
	assert.Equal(t, TopicLogs, TopicFor(EventMissionStatus))
	assert.Equal(t, TopicLogs, TopicFor("SOMETHING_NEW"))
}
