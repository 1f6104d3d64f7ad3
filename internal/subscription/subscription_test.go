package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus(4)
	sink := bus.Subscribe("odoo://res.partner/7", "client-1")

	bus.Publish(Event{URI: "odoo://res.partner/7", Method: "write"})

	select {
	case ev := <-sink.Events:
		assert.Equal(t, "odoo://res.partner/7", ev.URI)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestBus_PublishToUnsubscribedURIIsNoop(t *testing.T) {
	bus := NewBus(4)
	bus.Subscribe("odoo://res.partner/7", "client-1")

	bus.Publish(Event{URI: "odoo://res.partner/8"})

	assert.Equal(t, 1, bus.SubscriberCount("odoo://res.partner/7"))
	assert.Equal(t, 0, bus.SubscriberCount("odoo://res.partner/8"))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(4)
	bus.Subscribe("odoo://res.partner/7", "client-1")
	bus.Unsubscribe("odoo://res.partner/7", "client-1")
	assert.Equal(t, 0, bus.SubscriberCount("odoo://res.partner/7"))
}

func TestBus_UnsubscribeAll(t *testing.T) {
	bus := NewBus(4)
	bus.Subscribe("odoo://res.partner/7", "client-1")
	bus.Subscribe("odoo://res.partner/8", "client-1")
	bus.UnsubscribeAll("client-1")
	assert.Equal(t, 0, bus.SubscriberCount("odoo://res.partner/7"))
	assert.Equal(t, 0, bus.SubscriberCount("odoo://res.partner/8"))
}

func TestBus_DropsSlowSinkOnOverflow(t *testing.T) {
	bus := NewBus(1)
	sink := bus.Subscribe("odoo://res.partner/7", "slow-client")

	bus.Publish(Event{URI: "odoo://res.partner/7"})
	bus.Publish(Event{URI: "odoo://res.partner/7"})

	require.Equal(t, 0, bus.SubscriberCount("odoo://res.partner/7"))
	<-sink.Events
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	bus := NewBus(4)
	s1 := bus.Subscribe("odoo://res.partner/7", "a")
	s2 := bus.Subscribe("odoo://res.partner/7", "b")

	bus.Publish(Event{URI: "odoo://res.partner/7"})

	<-s1.Events
	<-s2.Events
}
