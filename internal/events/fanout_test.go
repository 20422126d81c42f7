package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures published events; it can be made to fail.
type recordingSink struct {
	name string
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink offline")
	}
	s.got = append(s.got, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.got))
	copy(out, s.got)
	return out
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	f := NewFanout(16, a, b)
	f.Start(context.Background())
	defer f.Close()

	e := New(FamilyTrade, TypeOrderPlaced, "paper:X", time.Now()).
		WithTag("side", "buy").
		WithField("lots", int64(2)).
		OnTopic(TopicOrdersSubmitted, "order-1")
	f.Publish(e)

	waitFor(t, func() bool { return len(a.events()) == 1 && len(b.events()) == 1 })
	assert.Equal(t, TypeOrderPlaced, a.events()[0].Type)
	assert.Equal(t, TopicOrdersSubmitted, b.events()[0].Topic)
}

func TestFanoutFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", fail: true}
	good := &recordingSink{name: "good"}
	f := NewFanout(16, bad, good)
	f.Start(context.Background())
	defer f.Close()

	for i := 0; i < 10; i++ {
		f.Publish(New(FamilyCandle, "", "x", time.Now()))
	}

	waitFor(t, func() bool { return len(good.events()) == 10 })

	waitFor(t, func() bool {
		for _, h := range f.Health() {
			if h.Name == "bad" {
				return !h.Healthy && h.Errors == 10
			}
		}
		return false
	})
	for _, h := range f.Health() {
		if h.Name == "good" {
			assert.True(t, h.Healthy)
			assert.Zero(t, h.Errors)
		}
	}
}

func TestFanoutSinkRecovers(t *testing.T) {
	s := &recordingSink{name: "flaky", fail: true}
	f := NewFanout(16, s)
	f.Start(context.Background())
	defer f.Close()

	f.Publish(New(FamilySystem, "", "", time.Now()))
	waitFor(t, func() bool {
		h := f.Health()[0]
		return !h.Healthy
	})

	s.setFail(false)
	f.Publish(New(FamilySystem, "", "", time.Now()))
	waitFor(t, func() bool { return f.Health()[0].Healthy })
}

func TestFanoutDropOldestOnOverflow(t *testing.T) {
	// No worker started: the queue fills and must shed oldest first.
	s := &recordingSink{name: "s"}
	f := NewFanout(4, s)

	for i := 0; i < 10; i++ {
		f.Publish(New(FamilyCandle, "", "x", time.Unix(int64(i), 0)))
	}

	h := f.Health()[0]
	assert.Equal(t, uint64(6), h.Drops)

	// Drain what is queued: the newest four survive.
	f.Start(context.Background())
	waitFor(t, func() bool { return len(s.events()) == 4 })
	got := s.events()
	assert.Equal(t, int64(6), got[0].Timestamp.Unix())
	assert.Equal(t, int64(9), got[3].Timestamp.Unix())
	f.Close()
}

func TestFanoutPublishAfterCloseIsNoop(t *testing.T) {
	s := &recordingSink{name: "s"}
	f := NewFanout(4, s)
	f.Start(context.Background())
	f.Close()

	require.NotPanics(t, func() {
		f.Publish(New(FamilyCandle, "", "x", time.Now()))
	})
}

func TestEventBuilders(t *testing.T) {
	e := New(FamilyTrade, TypeOrderFilled, "paper:X", time.Unix(1700000000, 0)).
		WithTag("venue", "paper").
		WithField("price", 101.5).
		OnTopic(TopicOrdersExecuted, "oid")

	assert.Equal(t, "paper", e.Tags["venue"])
	assert.Equal(t, 101.5, e.Fields["price"])
	assert.Equal(t, TopicOrdersExecuted, e.Topic)
	assert.Equal(t, "oid", e.Key)
}
