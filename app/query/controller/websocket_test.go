package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/roscax/pkg/projection"
	"github.com/canopy-network/roscax/pkg/redis"
)

func updateMessage(t testing.TB, channelCircle string, u projection.Update) *goredis.Message {
	raw, err := json.Marshal(u)
	require.NoError(t, err)
	return &goredis.Message{
		Channel: redis.CircleChannel(channelCircle),
		Pattern: redis.CircleUpdatesPattern,
		Payload: string(raw),
	}
}

func TestCircleFilter(t *testing.T) {
	t.Run("single circle", func(t *testing.T) {
		f := newCircleFilter()
		f.add("1")
		assert.True(t, f.matches("1"))
		assert.False(t, f.matches("2"))

		f.remove("1")
		assert.False(t, f.matches("1"))
	})

	t.Run("every circle", func(t *testing.T) {
		f := newCircleFilter()
		f.add(allCircles)
		assert.True(t, f.matches("1"))
		assert.True(t, f.matches("4294967295"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		f := newCircleFilter()
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				f.add("1")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				f.remove("1")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = f.matches("1")
			}
		}()
		wg.Wait()
	})
}

func TestHandleClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      ClientMessage
		wantType string
		follows  bool
	}{
		{name: "subscribe to one circle", msg: ClientMessage{Action: "subscribe", CircleID: "7"}, wantType: msgSubscribed, follows: true},
		{name: "subscribe to every circle", msg: ClientMessage{Action: "subscribe", CircleID: "*"}, wantType: msgSubscribed, follows: true},
		{name: "largest chain id", msg: ClientMessage{Action: "subscribe", CircleID: "4294967295"}, wantType: msgSubscribed},
		{name: "chain id out of range", msg: ClientMessage{Action: "subscribe", CircleID: "4294967296"}, wantType: msgError},
		{name: "not a chain id", msg: ClientMessage{Action: "subscribe", CircleID: "seven"}, wantType: msgError},
		{name: "missing circle", msg: ClientMessage{Action: "subscribe"}, wantType: msgError},
		{name: "unknown action", msg: ClientMessage{Action: "follow", CircleID: "7"}, wantType: msgError},
		{name: "unsubscribe", msg: ClientMessage{Action: "unsubscribe", CircleID: "7"}, wantType: msgUnsubscribed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCircleFilter()
			reply := handleClientMessage(zaptest.NewLogger(t), f, tt.msg)
			assert.Equal(t, tt.wantType, reply.Type)
			assert.Equal(t, tt.follows, f.matches("7"))
			if tt.wantType == msgError {
				e, ok := reply.Payload.(relayError)
				require.True(t, ok)
				assert.True(t, e.Recoverable)
			}
		})
	}
}

func TestForwardCircleUpdatesFiltersOnPayload(t *testing.T) {
	f := newCircleFilter()
	f.add("7")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wanted := projection.Update{CircleID: "7", Kind: "ContributionMade", EventID: "e-1", AppliedAt: at}
	// the channel name is not trusted; the payload decides which circle an update belongs to
	misrouted := projection.Update{CircleID: "7", Kind: "RoscaComplete", EventID: "e-4", AppliedAt: at}

	msgs := make(chan *goredis.Message, 8)
	msgs <- updateMessage(t, "7", wanted)
	msgs <- updateMessage(t, "8", projection.Update{CircleID: "8", Kind: "ContributionMade", EventID: "e-2"})
	msgs <- &goredis.Message{Channel: redis.CircleChannel("7"), Payload: "not json"}
	msgs <- &goredis.Message{Channel: redis.CircleChannel("7"), Payload: `{"kind":"ContributionMade","eventId":"e-3"}`}
	msgs <- updateMessage(t, "9", misrouted)
	close(msgs)

	send := make(chan ServerMessage, 8)
	forwardCircleUpdates(context.Background(), zaptest.NewLogger(t), msgs, send, f)
	close(send)

	var got []ServerMessage
	for m := range send {
		got = append(got, m)
	}
	assert.Equal(t, []ServerMessage{
		{Type: msgCircleUpdated, Payload: wanted},
		{Type: msgCircleUpdated, Payload: misrouted},
	}, got)
}

func TestForwardCircleUpdatesStopsWithContext(t *testing.T) {
	f := newCircleFilter()
	f.add(allCircles)

	msgs := make(chan *goredis.Message, 1)
	msgs <- updateMessage(t, "1", projection.Update{CircleID: "1", Kind: "RoscaCreated", EventID: "e-1"})
	// nobody drains send, so the forwarder blocks until the context ends
	send := make(chan ServerMessage)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		forwardCircleUpdates(ctx, zaptest.NewLogger(t), msgs, send, f)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop after cancel")
	}
}

func TestDecodeUpdate(t *testing.T) {
	u, err := decodeUpdate(`{"circleId":"3","kind":"NewRoundStarted","eventId":"e","appliedAt":"2025-03-01T12:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "3", u.CircleID)
	assert.Equal(t, "NewRoundStarted", u.Kind)

	_, err = decodeUpdate(`{"kind":"NewRoundStarted"}`)
	assert.ErrorIs(t, err, errNoCircleID)

	_, err = decodeUpdate(`[]`)
	assert.Error(t, err)
}

func TestCircleUpdatedMessageShape(t *testing.T) {
	u := projection.Update{CircleID: "7", Kind: "ContributionMade", EventID: "e-1", AppliedAt: time.Unix(0, 0).UTC()}
	raw, err := json.Marshal(ServerMessage{Type: msgCircleUpdated, Payload: u})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"circle.updated","payload":{"circleId":"7","kind":"ContributionMade","eventId":"e-1","appliedAt":"1970-01-01T00:00:00Z"}}`, string(raw))

	raw, err = json.Marshal(ServerMessage{Type: msgError, Payload: relayError{Message: "circle updates unavailable"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","payload":{"message":"circle updates unavailable","recoverable":false}}`, string(raw))
}

func BenchmarkDecodeUpdate(b *testing.B) {
	msg := updateMessage(b, "7", projection.Update{CircleID: "7", Kind: "ContributionMade", EventID: "e-1"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = decodeUpdate(msg.Payload)
	}
}
