package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engagekit/campaign-engine/internal/repository"
)

type fakeOutbox struct {
	pending []repository.OutboxEvent
	marked  []int64
}

func (f *fakeOutbox) Insert(context.Context, *sqlx.Tx, string, string, string, []byte) error {
	return nil
}

func (f *fakeOutbox) FetchUnpublished(_ context.Context, limit int) ([]repository.OutboxEvent, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []int64) error {
	f.marked = append(f.marked, ids...)
	remaining := f.pending[:0]
	for _, ev := range f.pending {
		published := false
		for _, id := range ids {
			if ev.ID == id {
				published = true
				break
			}
		}
		if !published {
			remaining = append(remaining, ev)
		}
	}
	f.pending = remaining
	return nil
}

type fakePublisher struct {
	keys    []string
	failOn  string
	failErr error
}

func (f *fakePublisher) Publish(_ context.Context, key string, _ []byte) error {
	if key == f.failOn {
		return f.failErr
	}
	f.keys = append(f.keys, key)
	return nil
}

func event(id int64, aggregateID string) repository.OutboxEvent {
	return repository.OutboxEvent{
		ID:          id,
		Aggregate:   "campaign",
		AggregateID: aggregateID,
		Topic:       "campaign.events",
		Payload:     []byte(`{"status":"processing"}`),
		CreatedAt:   time.Now().UTC(),
	}
}

func testRelay(outbox *fakeOutbox, pub *fakePublisher) *Relay {
	return NewRelay(outbox, pub, zap.NewNop(), 10*time.Millisecond, 2)
}

func TestRelayDrainPublishesAndMarks(t *testing.T) {
	outbox := &fakeOutbox{pending: []repository.OutboxEvent{
		event(1, "c1"), event(2, "c2"), event(3, "c1"),
	}}
	pub := &fakePublisher{}
	r := testRelay(outbox, pub)

	require.NoError(t, r.drain(context.Background()))

	assert.Equal(t, []string{"c1", "c2", "c1"}, pub.keys, "events keyed by aggregate id, oldest first")
	assert.Equal(t, []int64{1, 2, 3}, outbox.marked)
	assert.Empty(t, outbox.pending)
}

func TestRelayDrainEmptyOutboxIsNoop(t *testing.T) {
	outbox := &fakeOutbox{}
	pub := &fakePublisher{}
	require.NoError(t, testRelay(outbox, pub).drain(context.Background()))
	assert.Empty(t, pub.keys)
	assert.Empty(t, outbox.marked)
}

func TestRelayPartialPublishKeepsRemainder(t *testing.T) {
	outbox := &fakeOutbox{pending: []repository.OutboxEvent{
		event(1, "c1"), event(2, "broken"),
	}}
	pub := &fakePublisher{failOn: "broken", failErr: errors.New("broker unreachable")}
	r := testRelay(outbox, pub)

	err := r.drain(context.Background())
	require.Error(t, err)

	// what made it out is marked, the failed event stays pending
	assert.Equal(t, []int64{1}, outbox.marked)
	require.Len(t, outbox.pending, 1)
	assert.EqualValues(t, 2, outbox.pending[0].ID)

	// next drain retries the remainder once the broker is back
	pub.failOn = ""
	require.NoError(t, r.drain(context.Background()))
	assert.Empty(t, outbox.pending)
}

func TestRelayRunStopsOnContextCancel(t *testing.T) {
	outbox := &fakeOutbox{}
	r := testRelay(outbox, &fakePublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}
