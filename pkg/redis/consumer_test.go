package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStream keeps a consumer group's view of one stream: new entries and this consumer's pending list.
type fakeStream struct {
	mu      sync.Mutex
	entries []redis.XMessage
	next    int
	pending []redis.XMessage
	reads   []string
	acked   []string
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) error { return nil }

func (f *fakeStream) XReadGroup(ctx context.Context, group, consumer, stream, lastID string, count int64, block time.Duration) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, lastID)

	if lastID == "0" {
		out := f.pending
		if int64(len(out)) > count {
			out = out[:count]
		}
		return append([]redis.XMessage(nil), out...), nil
	}
	if f.next >= len(f.entries) {
		return nil, redis.Nil
	}
	end := min(f.next+int(count), len(f.entries))
	out := f.entries[f.next:end]
	f.next = end
	f.pending = append(f.pending, out...)
	return append([]redis.XMessage(nil), out...), nil
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	keep := f.pending[:0]
	for _, p := range f.pending {
		if !contains(ids, p.ID) {
			keep = append(keep, p)
		}
	}
	f.pending = keep
	return int64(len(ids)), nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func entry(id, data string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": data}}
}

func newConsumer(t *testing.T, f *fakeStream) *StreamConsumer {
	t.Helper()
	sc, err := NewStreamConsumer(f, StreamConsumerConfig{
		Stream:        "rosca:events",
		Group:         "projector",
		Consumer:      "c1",
		Count:         2,
		Block:         time.Millisecond,
		RetryInterval: time.Millisecond,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return sc
}

func TestNewStreamConsumerValidates(t *testing.T) {
	_, err := NewStreamConsumer(nil, StreamConsumerConfig{Stream: "s", Group: "g", Consumer: "c"})
	assert.Error(t, err)
	_, err = NewStreamConsumer(&fakeStream{}, StreamConsumerConfig{Group: "g", Consumer: "c"})
	assert.Error(t, err)
	_, err = NewStreamConsumer(&fakeStream{}, StreamConsumerConfig{Stream: "s", Group: "g"})
	assert.Error(t, err)
}

func TestRunDrainsPendingFirstAndAcks(t *testing.T) {
	f := &fakeStream{
		pending: []redis.XMessage{entry("1-0", "old")},
		entries: []redis.XMessage{entry("2-0", "a"), entry("3-0", "b"), entry("4-0", "c")},
	}
	sc := newConsumer(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	err := sc.Run(ctx, func(ctx context.Context, msgs []Message) ([]string, error) {
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			seen = append(seen, string(m.GetData()))
			ids = append(ids, m.ID)
		}
		if len(seen) == 4 {
			cancel()
		}
		return ids, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"old", "a", "b", "c"}, seen)
	assert.Equal(t, "0", f.reads[0])
	assert.ElementsMatch(t, []string{"1-0", "2-0", "3-0", "4-0"}, f.acked)
}

func TestRunRereadsUnacknowledgedEntries(t *testing.T) {
	f := &fakeStream{entries: []redis.XMessage{entry("1-0", "a"), entry("2-0", "b")}}
	sc := newConsumer(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	err := sc.Run(ctx, func(ctx context.Context, msgs []Message) ([]string, error) {
		attempts++
		if attempts == 1 {
			// only the first entry succeeds
			return []string{msgs[0].ID}, nil
		}
		require.Len(t, msgs, 1)
		assert.Equal(t, "2-0", msgs[0].ID)
		cancel()
		return []string{msgs[0].ID}, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"1-0", "2-0"}, f.acked)
}

func TestRunReadsNothingNewWhileAnEntryIsHeld(t *testing.T) {
	f := &fakeStream{entries: []redis.XMessage{entry("1-0", "a"), entry("2-0", "b"), entry("3-0", "c")}}
	sc := newConsumer(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen [][]string
	err := sc.Run(ctx, func(ctx context.Context, msgs []Message) ([]string, error) {
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		seen = append(seen, ids)
		switch len(seen) {
		case 1:
			return []string{"2-0"}, nil
		case 2:
			return nil, nil
		case 3:
			return []string{"1-0"}, nil
		default:
			cancel()
			return ids, nil
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, [][]string{{"1-0", "2-0"}, {"1-0"}, {"1-0"}, {"3-0"}}, seen)
	assert.Equal(t, []string{"0", ">", "0", "0", "0", ">"}, f.reads)
}

func TestRunAcksTrimmedPendingEntries(t *testing.T) {
	f := &fakeStream{pending: []redis.XMessage{{ID: "1-0"}}}
	sc := newConsumer(t, f)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sc.Run(ctx, func(ctx context.Context, msgs []Message) ([]string, error) {
		t.Fatalf("handler called with %d trimmed entries", len(msgs))
		return nil, nil
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"1-0"}, f.acked)
}

func TestRunStopsOnHandlerError(t *testing.T) {
	f := &fakeStream{entries: []redis.XMessage{entry("1-0", "a")}}
	sc := newConsumer(t, f)

	boom := errors.New("boom")
	err := sc.Run(context.Background(), func(context.Context, []Message) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.acked)
}

func TestMessageGetData(t *testing.T) {
	m := Message{Values: map[string]interface{}{"data": []byte(`{"id":"x"}`)}}
	assert.Equal(t, `{"id":"x"}`, string(m.GetData()))

	s := Message{Values: map[string]interface{}{"data": `{"id":"y"}`}}
	assert.Equal(t, `{"id":"y"}`, string(s.GetData()))

	empty := Message{}
	assert.Nil(t, empty.GetData())
}
