package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/model"
)

func makeEvent(eventType string, version int, payload string) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		EventID:       "evt-1",
		EventType:     eventType,
		SchemaVersion: version,
		OccurredAt:    time.Now().UTC(),
		TenantID:      "acme",
		AggregateType: model.AggregateOrder,
		AggregateID:   "ord-1",
		Payload:       json.RawMessage(payload),
	}
}

func TestRegistry_KnownRoutes(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Known(model.EventOrderCreated, 1))
	assert.True(t, r.Known(model.EventOrderCreated, 2))
	assert.True(t, r.Known(model.EventOrderUpdated, 1))
	assert.True(t, r.Known(model.EventOrderClosed, 1))
	assert.False(t, r.Known(model.EventOrderCreated, 3))
	assert.False(t, r.Known("order.deleted", 1))

	assert.Equal(t, 2, r.CurrentVersion(model.EventOrderCreated))
	assert.Equal(t, 1, r.CurrentVersion(model.EventOrderClosed))
	assert.Equal(t, 0, r.CurrentVersion("order.deleted"))
}

func TestRegistry_UpcastCreatedV1(t *testing.T) {
	r := NewRegistry()
	e := makeEvent(model.EventOrderCreated, 1, `{"symbol":"AAPL","side":"buy","qty":10,"price":180.5}`)

	payload, err := r.Decode(e)
	require.NoError(t, err)

	v2, ok := payload.(model.OrderCreatedV2)
	require.True(t, ok, "v1 must be upcast to the current shape")
	assert.Equal(t, "AAPL", v2.Symbol)
	assert.Equal(t, "USD", v2.Currency, "missing currency defaults to USD")
}

func TestRegistry_DecodeCreatedV2(t *testing.T) {
	r := NewRegistry()
	e := makeEvent(model.EventOrderCreated, 2, `{"symbol":"AAPL","side":"buy","qty":10,"price":180.5,"currency":"EUR"}`)

	payload, err := r.Decode(e)
	require.NoError(t, err)
	assert.Equal(t, "EUR", payload.(model.OrderCreatedV2).Currency)
}

func TestRegistry_UnknownRoute(t *testing.T) {
	r := NewRegistry()
	e := makeEvent(model.EventOrderCreated, 99, `{}`)

	_, err := r.Decode(e)
	assert.ErrorIs(t, err, ErrUnknownRoute)
}

func TestRegistry_BadPayload(t *testing.T) {
	r := NewRegistry()

	// v1 payload 里出现 v2 字段：形状与声明的版本不符
	e := makeEvent(model.EventOrderCreated, 1, `{"symbol":"AAPL","side":"buy","qty":10,"price":180.5,"currency":"USD"}`)
	_, err := r.Decode(e)
	assert.ErrorIs(t, err, ErrBadPayload)

	e = makeEvent(model.EventOrderUpdated, 1, `{"qty":"not a number"}`)
	_, err = r.Decode(e)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestRegistry_PartialUpdate(t *testing.T) {
	r := NewRegistry()
	e := makeEvent(model.EventOrderUpdated, 1, `{"qty":15}`)

	payload, err := r.Decode(e)
	require.NoError(t, err)

	upd := payload.(model.OrderUpdatedV1)
	require.NotNil(t, upd.Qty)
	assert.Equal(t, 15.0, *upd.Qty)
	assert.Nil(t, upd.Price, "absent field stays nil")
}
