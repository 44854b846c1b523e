package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/projection"
	"github.com/canopy-network/roscax/pkg/redis"
	"github.com/canopy-network/roscax/pkg/retry"
)

const (
	allCircles = "*"

	msgCircleUpdated = "circle.updated"
	msgSubscribed    = "subscribed"
	msgUnsubscribed  = "unsubscribed"
	msgRelayUp       = "relay.up"
	msgError         = "error"

	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	confirmWait  = 5 * time.Second
)

// relayRetry bounds how long one connection waits for the update channel to come back.
// When it runs out the socket is closed and the client reconnects on its own schedule.
var relayRetry = retry.Config{
	MaxRetries:    8,
	InitialDelay:  time.Second,
	MaxDelay:      30 * time.Second,
	Multiplier:    2.0,
	JitterEnabled: true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API is read-only and public
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientMessage is a subscription request.
type ClientMessage struct {
	Action   string `json:"action"`   // "subscribe" or "unsubscribe"
	CircleID string `json:"circleId"` // chain id of the circle, or "*" for every circle
}

// ServerMessage is everything the server writes to a socket.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type circleRef struct {
	CircleID string `json:"circleId"`
}

type relayError struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// circleFilter is the set of circles one socket follows.
type circleFilter struct {
	mu      sync.RWMutex
	circles map[string]struct{}
}

func newCircleFilter() *circleFilter {
	return &circleFilter{circles: make(map[string]struct{})}
}

func (f *circleFilter) add(circleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.circles[circleID] = struct{}{}
}

func (f *circleFilter) remove(circleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.circles, circleID)
}

func (f *circleFilter) matches(circleID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.circles[allCircles]; ok {
		return true
	}
	_, ok := f.circles[circleID]
	return ok
}

// validCircleRef accepts "*" or a circle chain id.
func validCircleRef(id string) bool {
	if id == allCircles {
		return true
	}
	_, err := strconv.ParseUint(id, 10, 32)
	return err == nil
}

// HandleWebSocket streams circle updates to clients that subscribe to them.
//
// Client sends:
//
//	{"action": "subscribe", "circleId": "7"}
//	{"action": "subscribe", "circleId": "*"}
//	{"action": "unsubscribe", "circleId": "7"}
//
// Server sends:
//
//	{"type": "circle.updated", "payload": {"circleId": "7", "kind": "ContributionMade", "eventId": "...", "appliedAt": "..."}}
//	{"type": "subscribed", "payload": {"circleId": "7"}}
//	{"type": "unsubscribed", "payload": {"circleId": "7"}}
//	{"type": "relay.up", "payload": null}
//	{"type": "error", "payload": {"message": "...", "recoverable": true}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time updates not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	logger := c.App.Logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	filter := newCircleFilter()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic in WebSocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())))
					cancel()
				}
			}()
			fn()
		}()
	}

	spawn("relay", func() {
		c.relayCircleUpdates(ctx, logger, send, filter)
		// a relay that gave up leaves nothing to stream
		cancel()
		_ = conn.SetReadDeadline(time.Now())
	})
	spawn("ping", func() { sendPings(ctx, logger, conn) })
	spawn("writer", func() {
		writeMessages(ctx, logger, conn, send)
		cancel()
	})

	c.readClientMessages(ctx, logger, conn, filter, send)
	cancel()
	wg.Wait()
	logger.Info("WebSocket client disconnected")
}

// relayCircleUpdates subscribes to the update channel of every circle and forwards the updates the
// filter accepts. A dropped subscription is reopened with backoff; the relay returns when ctx ends
// or the retry budget runs out.
func (c *Controller) relayCircleUpdates(ctx context.Context, logger *zap.Logger, send chan<- ServerMessage, filter *circleFilter) {
	for ctx.Err() == nil {
		var pubsub *goredis.PubSub
		err := retry.WithBackoff(ctx, relayRetry, logger, "subscribe to circle updates", func() error {
			ps, err := subscribeCircleUpdates(ctx, c.App.RedisClient)
			if err != nil {
				push(ctx, send, ServerMessage{Type: msgError, Payload: relayError{
					Message:     "circle updates unavailable, reconnecting",
					Recoverable: true,
				}})
				return err
			}
			pubsub = ps
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Giving up on circle updates", zap.Error(err))
				push(ctx, send, ServerMessage{Type: msgError, Payload: relayError{Message: "circle updates unavailable"}})
			}
			return
		}

		push(ctx, send, ServerMessage{Type: msgRelayUp})
		forwardCircleUpdates(ctx, logger, pubsub.Channel(), send, filter)
		if err := pubsub.Close(); err != nil {
			logger.Debug("Failed to close circle update subscription", zap.Error(err))
		}
		if ctx.Err() == nil {
			logger.Warn("Circle update subscription dropped, resubscribing")
		}
	}
}

// subscribeCircleUpdates opens the pattern subscription and waits for Redis to confirm it.
func subscribeCircleUpdates(ctx context.Context, client *redis.Client) (*goredis.PubSub, error) {
	pubsub := client.PSubscribe(ctx, redis.CircleUpdatesPattern)

	confirmCtx, cancel := context.WithTimeout(ctx, confirmWait)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("confirm subscription to %s: %w", redis.CircleUpdatesPattern, err)
	}
	return pubsub, nil
}

// forwardCircleUpdates decodes every published update and passes on the ones the filter accepts.
// It returns when msgs closes or ctx ends.
func forwardCircleUpdates(ctx context.Context, logger *zap.Logger, msgs <-chan *goredis.Message, send chan<- ServerMessage, filter *circleFilter) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			u, err := decodeUpdate(msg.Payload)
			if err != nil {
				logger.Warn("Dropping unreadable circle update", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if !filter.matches(u.CircleID) {
				continue
			}
			if !push(ctx, send, ServerMessage{Type: msgCircleUpdated, Payload: u}) {
				return
			}
		}
	}
}

var errNoCircleID = errors.New("update has no circle id")

func decodeUpdate(payload string) (projection.Update, error) {
	var u projection.Update
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return projection.Update{}, err
	}
	if u.CircleID == "" {
		return projection.Update{}, errNoCircleID
	}
	return u, nil
}

// push hands msg to the writer unless ctx ended first.
func push(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) bool {
	select {
	case send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendPings keeps the connection alive; the client's pong resets the read deadline.
func sendPings(ctx context.Context, logger *zap.Logger, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages owns every data write on conn. send is never closed; the writer stops with ctx.
func writeMessages(ctx context.Context, logger *zap.Logger, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages applies subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, logger *zap.Logger, conn *websocket.Conn, filter *circleFilter, send chan<- ServerMessage) {
	resetDeadline := func() error { return conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	if err := resetDeadline(); err != nil {
		logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error { return resetDeadline() })

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		if err := resetDeadline(); err != nil {
			logger.Error("Failed to reset read deadline", zap.Error(err))
			return
		}
		push(ctx, send, handleClientMessage(logger, filter, msg))
	}
}

// handleClientMessage applies one request to the filter and returns the reply.
func handleClientMessage(logger *zap.Logger, filter *circleFilter, msg ClientMessage) ServerMessage {
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return ServerMessage{Type: msgError, Payload: relayError{Message: "unknown action: " + msg.Action, Recoverable: true}}
	}
	if !validCircleRef(msg.CircleID) {
		return ServerMessage{Type: msgError, Payload: relayError{Message: "circleId must be a circle chain id or *", Recoverable: true}}
	}

	if msg.Action == "subscribe" {
		filter.add(msg.CircleID)
		logger.Debug("Client subscribed", zap.String("circle_id", msg.CircleID))
		return ServerMessage{Type: msgSubscribed, Payload: circleRef{CircleID: msg.CircleID}}
	}
	filter.remove(msg.CircleID)
	logger.Debug("Client unsubscribed", zap.String("circle_id", msg.CircleID))
	return ServerMessage{Type: msgUnsubscribed, Payload: circleRef{CircleID: msg.CircleID}}
}
