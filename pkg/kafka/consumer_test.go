package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func record(offset int64, key, value string) kafka.Message {
	return kafka.Message{Topic: "rosca.events", Partition: 3, Offset: offset, Key: []byte(key), Value: []byte(value)}
}

func TestRunRetriesUntilSuccessThenCommits(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{record(10, "7", "a"), record(11, "7", "b")}}
	c := newConsumer(r, Config{Topic: "rosca.events", RetryInterval: time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []string
	failures := 2
	err := c.Run(ctx, func(ctx context.Context, msg Message) error {
		if msg.Offset == 10 && failures > 0 {
			failures--
			return errors.New("store unavailable")
		}
		handled = append(handled, msg.ID)
		assert.Equal(t, "7", msg.Key)
		if len(handled) == 2 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"rosca.events/3/10", "rosca.events/3/11"}, handled)
	assert.Equal(t, []int64{10, 11}, r.committed)
	assert.Zero(t, failures)
}

func TestRunStopsWhileRetrying(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{record(1, "1", "x")}}
	c := newConsumer(r, Config{RetryInterval: time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, func(context.Context, Message) error { return errors.New("nope") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, r.committed)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(Config{Topic: "t", GroupID: "g"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	r := &fakeReader{}
	c := newConsumer(r, Config{}, zaptest.NewLogger(t))
	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}
