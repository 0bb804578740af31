//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectBroker(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	c, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegration_Connect(t *testing.T) {
	c := connectBroker(t, "graymon-int-connect")

	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_ConnectCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := Connect(ctx, cfg); err == nil {
		t.Fatal("Connect() to a closed port should fail")
	}
}

func TestIntegration_PublishSubscribeRoundtrip(t *testing.T) {
	c := connectBroker(t, "graymon-int-roundtrip")

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 1)

	err := c.Subscribe(Topics{}.AllAcquisitionValues(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		got = append(got, topic)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(Topics{}.AllAcquisitionValues()) {
		t.Error("subscription not tracked")
	}

	topic := Topics{}.AcquisitionValues("int-test")
	if err := c.PublishJSON(topic, []map[string]any{{"tag_id": 1, "value": 1.5}}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != topic {
		t.Errorf("received on %q, want %q", got[0], topic)
	}

	if err := c.Unsubscribe(Topics{}.AllAcquisitionValues()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", c.SubscriptionCount())
	}
}
