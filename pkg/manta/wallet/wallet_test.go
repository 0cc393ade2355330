package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/CedrosPay/manta/internal/broker"
	"github.com/CedrosPay/manta/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Broker.AwaitTimeout.Duration = 200 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, mb *broker.MemoryBroker, url string) *Client {
	t.Helper()
	factory := func(opts broker.Options) broker.Client { return mb.NewClient(opts.ClientID, opts) }
	c, err := Factory(testConfig(t), url, WithBrokerFactory(factory))
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	mb := broker.NewMemoryBroker()
	c := newTestClient(t, mb, "manta://broker.example/SID1")
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
}

func TestGetCertificateAwaitsRetainedPublication(t *testing.T) {
	mb := broker.NewMemoryBroker()
	pubFactory := func(opts broker.Options) broker.Client { return mb.NewClient(opts.ClientID, opts) }
	publisher := pubFactory(broker.Options{ClientID: "pp"})
	if err := publisher.Connect(context.Background()); err != nil {
		t.Fatalf("publisher Connect() error = %v", err)
	}
	if err := publisher.Publish("certificate", broker.QoS0, true, []byte("PEM-DATA")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	c := newTestClient(t, mb, "manta://broker.example/SID1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cert, err := c.GetCertificate(ctx)
	// The retained payload here is not a real certificate, so parsing fails,
	// but the await itself must not time out: it should reach the parse step.
	if err == nil {
		t.Fatal("GetCertificate() error = nil, want PEM parse failure")
	}
	if cert != nil {
		t.Errorf("GetCertificate() cert = %+v, want nil on parse failure", cert)
	}
}

func TestGetPaymentRequestTimesOutWithoutResponse(t *testing.T) {
	mb := broker.NewMemoryBroker()
	c := newTestClient(t, mb, "manta://broker.example/SID1")

	ctx := context.Background()
	_, err := c.GetPaymentRequest(ctx, "")
	if err != ErrTimeout {
		t.Fatalf("GetPaymentRequest() error = %v, want ErrTimeout", err)
	}
}

func TestGetPaymentRequestDefaultsCryptoToAll(t *testing.T) {
	mb := broker.NewMemoryBroker()
	c := newTestClient(t, mb, "manta://broker.example/SID1")

	var seenTopic string
	mon := (func(opts broker.Options) broker.Client { return mb.NewClient(opts.ClientID, opts) })(broker.Options{
		ClientID: "monitor",
		OnMessage: func(msg broker.Message) {
			seenTopic = msg.Topic
		},
	})
	if err := mon.Connect(context.Background()); err != nil {
		t.Fatalf("monitor Connect() error = %v", err)
	}
	if err := mon.Subscribe("payment_requests/+/+", broker.QoS0); err != nil {
		t.Fatalf("monitor Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	c.GetPaymentRequest(ctx, "")

	if seenTopic != "payment_requests/SID1/all" {
		t.Errorf("published topic = %q, want payment_requests/SID1/all", seenTopic)
	}
}

func TestSendPaymentPublishesAtQoS1(t *testing.T) {
	mb := broker.NewMemoryBroker()
	c := newTestClient(t, mb, "manta://broker.example/SID1")

	var gotQoS byte = 255
	var gotTopic string
	mon := (func(opts broker.Options) broker.Client { return mb.NewClient(opts.ClientID, opts) })(broker.Options{
		ClientID: "monitor",
		OnMessage: func(msg broker.Message) {
			gotQoS = msg.QoS
			gotTopic = msg.Topic
		},
	})
	if err := mon.Connect(context.Background()); err != nil {
		t.Fatalf("monitor Connect() error = %v", err)
	}
	if err := mon.Subscribe("payments/+", broker.QoS1); err != nil {
		t.Fatalf("monitor Subscribe() error = %v", err)
	}

	if err := c.SendPayment(context.Background(), "0xabc", "btc"); err != nil {
		t.Fatalf("SendPayment() error = %v", err)
	}

	if gotTopic != "payments/SID1" {
		t.Errorf("topic = %q, want payments/SID1", gotTopic)
	}
	if gotQoS != broker.QoS1 {
		t.Errorf("qos = %d, want QoS1", gotQoS)
	}
}
