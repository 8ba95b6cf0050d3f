package websocket

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/follow-notifier/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTrigger records synthetic event requests.
type stubTrigger struct {
	calls int
}

func (s *stubTrigger) TriggerTest() domain.FollowerEvent {
	s.calls++
	return domain.NewTestEvent()
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func registerClient(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()
	want := hub.ClientCount() + 1
	client := NewClient(hub, nil, id, nil, testLogger())
	hub.Register <- client
	waitClientCount(t, hub, func(n int) bool { return n >= want })
	return client
}

func waitClientCount(t *testing.T, hub *Hub, ok func(int) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ok(hub.ClientCount()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never satisfied condition, last %d", hub.ClientCount())
}

func receive(t *testing.T, c *Client) domain.Message {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return domain.Message{}
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s unexpectedly received %q", c.ID, msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_FollowerEventsRespectSubscriptions(t *testing.T) {
	hub := startHub(t)

	subscribed := registerClient(t, hub, "subscribed")
	other := registerClient(t, hub, "other")
	other.setSubscriptions([]string{"chat"})

	follower := domain.FollowerEvent{ID: "u1", DisplayName: "viewer", Source: domain.SourceReal}
	require.NoError(t, hub.Broadcast(domain.NewFollowerMessage(follower)))

	msg := receive(t, subscribed)
	assert.Equal(t, domain.MessageNewFollower, msg.Type)
	require.NotNil(t, msg.Follower)
	assert.Equal(t, "u1", msg.Follower.ID)

	assertNoMessage(t, other)
}

func TestHub_SettingsUpdatesReachEveryClient(t *testing.T) {
	hub := startHub(t)

	a := registerClient(t, hub, "a")
	b := registerClient(t, hub, "b")
	b.setSubscriptions([]string{"chat"}) // not followers, still gets settings

	require.NoError(t, hub.Broadcast(domain.SettingsUpdatedMessage([]byte(`{"volume":0.8}`))))

	assert.Equal(t, domain.MessageSettingsUpdated, receive(t, a).Type)
	assert.Equal(t, domain.MessageSettingsUpdated, receive(t, b).Type)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	client := registerClient(t, hub, "c1")

	hub.Unregister <- client
	waitClientCount(t, hub, func(n int) bool { return n == 0 })

	_, open := <-client.Send
	assert.False(t, open)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := startHub(t)

	// A client with no send buffer and no reader cannot accept anything.
	slow := &Client{
		Hub:           hub,
		Send:          make(chan domain.Message),
		ID:            "slow",
		subscriptions: map[string]bool{domain.TopicFollowers: true},
		logger:        testLogger(),
	}
	hub.Register <- slow
	waitClientCount(t, hub, func(n int) bool { return n == 1 })

	require.NoError(t, hub.Broadcast(domain.NewFollowerMessage(domain.FollowerEvent{ID: "u1"})))

	waitClientCount(t, hub, func(n int) bool { return n == 0 })
}

func TestHub_StopClosesAllClients(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := NewClient(hub, nil, "c1", nil, testLogger())
	hub.Register <- client
	waitClientCount(t, hub, func(n int) bool { return n == 1 })

	cancel()
	waitClientCount(t, hub, func(n int) bool { return n == 0 })

	_, open := <-client.Send
	assert.False(t, open)
}

func TestClient_HandleIncomingSubscribe(t *testing.T) {
	client := NewClient(nil, nil, "c1", nil, testLogger())
	require.True(t, client.Subscribed(domain.TopicFollowers))

	client.handleIncomingMessage([]byte(`{"type":"subscribe","topics":["chat"]}`))

	assert.False(t, client.Subscribed(domain.TopicFollowers))
	assert.True(t, client.Subscribed("chat"))
}

func TestClient_HandleIncomingPing(t *testing.T) {
	client := NewClient(nil, nil, "c1", nil, testLogger())

	client.handleIncomingMessage([]byte(`{"type":"ping"}`))

	msg := receive(t, client)
	assert.Equal(t, domain.MessagePong, msg.Type)
}

func TestClient_HandleIncomingTestFollower(t *testing.T) {
	trigger := &stubTrigger{}
	client := NewClient(nil, nil, "c1", trigger, testLogger())

	client.handleIncomingMessage([]byte(`{"type":"test_follower"}`))

	assert.Equal(t, 1, trigger.calls)
}

func TestClient_HandleIncomingMalformed(t *testing.T) {
	client := NewClient(nil, nil, "c1", nil, testLogger())

	client.handleIncomingMessage([]byte(`{broken`))

	msg := receive(t, client)
	assert.Equal(t, domain.MessageError, msg.Type)
}
