package broker

import (
	"context"
	"reflect"
	"testing"
)

func TestMemoryBrokerDeliversMatchingWildcardSubscription(t *testing.T) {
	hub := NewMemoryBroker()

	var got []Message
	sub := hub.NewClient("sub", Options{OnMessage: func(m Message) { got = append(got, m) }})
	if err := sub.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := sub.Subscribe("acks/+", QoS0); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pub := hub.NewClient("pub", Options{})
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := pub.Publish("acks/SID1", QoS0, false, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := pub.Publish("payment_requests/SID1", QoS0, false, []byte("nope")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(got) != 1 || got[0].Topic != "acks/SID1" || string(got[0].Payload) != "hello" {
		t.Fatalf("got = %+v, want a single acks/SID1 delivery", got)
	}
}

func TestMemoryBrokerRetainedMessageDeliveredOnLateSubscribe(t *testing.T) {
	hub := NewMemoryBroker()

	pub := hub.NewClient("pub", Options{})
	pub.Connect(context.Background())
	pub.Publish("certificate", QoS0, true, []byte("PEM"))

	var got []Message
	sub := hub.NewClient("sub", Options{OnMessage: func(m Message) { got = append(got, m) }})
	sub.Connect(context.Background())
	sub.Subscribe("certificate", QoS0)

	if len(got) != 1 || string(got[0].Payload) != "PEM" || !got[0].Retained {
		t.Fatalf("got = %+v, want a retained certificate delivery", got)
	}
}

func TestMemoryBrokerDisconnectedClientReceivesNothing(t *testing.T) {
	hub := NewMemoryBroker()

	var got []Message
	sub := hub.NewClient("sub", Options{OnMessage: func(m Message) { got = append(got, m) }})
	sub.Connect(context.Background())
	sub.Subscribe("acks/+", QoS0)
	sub.Disconnect()

	pub := hub.NewClient("pub", Options{})
	pub.Connect(context.Background())
	pub.Publish("acks/SID1", QoS0, false, []byte("hello"))

	if got != nil {
		t.Fatalf("got = %v, want no deliveries after disconnect", got)
	}
}

func TestMemoryBrokerUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewMemoryBroker()

	var got []string
	sub := hub.NewClient("sub", Options{OnMessage: func(m Message) { got = append(got, m.Topic) }})
	sub.Connect(context.Background())
	sub.Subscribe("acks/+", QoS0)
	sub.Unsubscribe("acks/+")

	pub := hub.NewClient("pub", Options{})
	pub.Connect(context.Background())
	pub.Publish("acks/SID1", QoS0, false, nil)

	if !reflect.DeepEqual(got, []string(nil)) {
		t.Fatalf("got = %v, want none after unsubscribe", got)
	}
}
