package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventAlertChanged, TenantID: "t1"})

	for _, sub := range []Subscriber{s1, s2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventAlertChanged, ev.Type)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub
	require.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventRecordInserted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "board", EventBoardPollFailed.Category())
	assert.Equal(t, "record", EventRecordDeleted.Category())
	assert.Equal(t, "custom", EventType("custom").Category())
}

func TestFilters(t *testing.T) {
	order := &Event{Type: EventBoardRecord, TenantID: "t1", Kind: "order"}
	raw := &Event{Type: EventRecordInserted, TenantID: "t1", Kind: "order"}
	other := &Event{Type: EventAlertChanged, TenantID: "t2", Kind: "order"}

	tests := []struct {
		name   string
		filter Filter
		ev     *Event
		want   bool
	}{
		{"tenant match", ForTenant("t1"), order, true},
		{"tenant mismatch", ForTenant("t1"), other, false},
		{"board match", ForBoard("t1", "order"), order, true},
		{"board other kind", ForBoard("t1", "reservation"), order, false},
		{"board any kind", ForBoard("t1", ""), order, true},
		{"category", InCategory("record"), raw, true},
		{"category list", InCategory("alert", "board"), order, true},
		{"not category", Not(InCategory("record")), raw, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(tt.ev))
		})
	}
}

func TestSubscribeWithFilters(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	boardSub := b.Subscribe(ForBoard("t1", "order"), Not(InCategory("record")))
	all := b.Subscribe()

	b.Publish(&Event{Type: EventRecordInserted, TenantID: "t1", Kind: "order"})
	b.Publish(&Event{Type: EventAlertChanged, TenantID: "t2", Kind: "order"})
	b.Publish(&Event{Type: EventBoardRecord, TenantID: "t1", Kind: "order"})

	select {
	case ev := <-boardSub:
		assert.Equal(t, EventBoardRecord, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("matching event not delivered")
	}
	select {
	case ev := <-boardSub:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatal("unfiltered subscriber missed an event")
		}
	}
}
