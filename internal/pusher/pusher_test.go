package pusher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/config"
	"event-pipeline/internal/model"
)

func pushConfig() config.PushConfig {
	return config.PushConfig{
		MaxDeliveries: 3,
		BlockTimeout:  10 * time.Millisecond,
		BatchSize:     10,
		RetryBackoff:  time.Millisecond,
	}
}

func publishTestEvent(t *testing.T, brk *broker.MemoryBroker, id string) {
	t.Helper()
	e := &model.CanonicalEvent{
		EventID:       id,
		EventType:     model.EventOrderCreated,
		SchemaVersion: 2,
		OccurredAt:    time.Now().UTC(),
		TenantID:      "acme",
		AggregateType: model.AggregateOrder,
		AggregateID:   "ord-1",
		Sequence:      1,
		Payload:       json.RawMessage(`{"symbol":"AAPL","side":"buy","qty":1,"price":1,"currency":"USD"}`),
	}
	env, err := model.WrapEvent(e)
	require.NoError(t, err)
	_, err = brk.Publish(context.Background(), env)
	require.NoError(t, err)
}

func consumeOne(t *testing.T, brk *broker.MemoryBroker, group string) *broker.Delivery {
	t.Helper()
	require.NoError(t, brk.EnsureGroup(context.Background(), group))
	ds, err := brk.Consume(context.Background(), group, "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	return ds[0]
}

func TestDeliver_AcksOn200(t *testing.T) {
	var received model.BrokerEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")
	p.deliver(context.Background(), d)

	assert.Equal(t, "evt-1", received.MessageID)
	assert.Equal(t, 1, received.Deliveries)

	pending, err := brk.PendingCount(context.Background(), "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending, "acked message must leave pending")
}

func TestDeliver_DeadLettersOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")
	p.deliver(context.Background(), d)

	dead := brk.DeadLettered()
	require.Len(t, dead, 1)
	assert.Equal(t, "evt-1", dead[0].MessageID)
}

func TestDeliver_AuthRejectionLeavesPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")
	p.deliver(context.Background(), d)

	pending, err := brk.PendingCount(context.Background(), "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "auth rejection keeps the message pending for redelivery")
	assert.Empty(t, brk.DeadLettered(), "credential failures must not drain the topic to the DLQ")
}

func TestDeliver_LeavesPendingOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")
	p.deliver(context.Background(), d)

	pending, err := brk.PendingCount(context.Background(), "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending, "5xx keeps the message pending for reclaim")
	assert.Empty(t, brk.DeadLettered())
}

func TestDeliver_MaxDeliveriesDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("endpoint must not be called for exhausted messages")
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")
	d.Deliveries = 4 // 超过上限 3

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")
	p.deliver(context.Background(), d)

	require.Len(t, brk.DeadLettered(), 1)
}

func TestDeliver_SendsAuthToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	d := consumeOne(t, brk, "g1")

	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "push-secret")
	p.deliver(context.Background(), d)

	assert.Contains(t, gotAuth, "Bearer ")
}

func TestRun_PumpsUntilCancelled(t *testing.T) {
	var mu = make(chan string, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env model.BrokerEnvelope
		json.NewDecoder(r.Body).Decode(&env)
		mu <- env.MessageID
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	brk := broker.NewMemoryBroker()
	publishTestEvent(t, brk, "evt-1")
	publishTestEvent(t, brk, "evt-2")

	ctx, cancel := context.WithCancel(context.Background())
	p := New(brk, pushConfig(), "g1", "c1", srv.URL, "")

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-mu:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
	assert.True(t, got["evt-1"] && got["evt-2"])

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pusher did not stop on cancel")
	}
}
