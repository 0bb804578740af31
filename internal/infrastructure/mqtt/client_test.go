package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graymon-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"AcquisitionValues", Topics{}.AcquisitionValues("plant-a"), "graymon/acquisition/plant-a/values"},
		{"AcquisitionCommands", Topics{}.AcquisitionCommands("plant-a"), "graymon/acquisition/plant-a/commands"},
		{"AcquisitionReports", Topics{}.AcquisitionReports("plant-a"), "graymon/acquisition/plant-a/reports"},
		{"CoreTag", Topics{}.CoreTag(42), "graymon/core/tag/42"},
		{"CoreSupervision", Topics{}.CoreSupervision("equipment", 10), "graymon/core/supervision/equipment/10"},
		{"SystemStatus", Topics{}.SystemStatus(), "graymon/system/status"},
		{"AllAcquisitionValues", Topics{}.AllAcquisitionValues(), "graymon/acquisition/+/values"},
		{"AllAcquisitionReports", Topics{}.AllAcquisitionReports(), "graymon/acquisition/+/reports"},
		{"AllCoreTags", Topics{}.AllCoreTags(), "graymon/core/tag/+"},
		{"AllTopics", Topics{}.AllTopics(), "graymon/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestProcessOf(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graymon/acquisition/plant-a/values", "plant-a", true},
		{"graymon/acquisition/plant-a/reports", "plant-a", true},
		{"graymon/acquisition//values", "", false},
		{"graymon/acquisition/plant-a", "", false},
		{"graymon/core/tag/1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := ProcessOf(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ProcessOf(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "monitor"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graymon-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "monitor" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect must be enabled")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum not configured")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graymon-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "graymon/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p StatusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != reasonUnexpected || p.ClientID != "graymon-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestStatusPayload_OmitsEmptyReason(t *testing.T) {
	b := statusPayload("online", "graymon", "")
	if strings.Contains(string(b), "reason") {
		t.Errorf("payload %s should not carry a reason", b)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "graymon/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "graymon/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "graymon/x", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_EncodingError(t *testing.T) {
	c := &Client{cfg: testConfig()}
	err := c.PublishJSON("graymon/x", map[string]any{"ch": make(chan int)}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("graymon/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("graymon/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("graymon/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if err := c.Unsubscribe("graymon/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unsubscribe disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("graymon/#") {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestCloseAndHealthCheck_Unconnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}

	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on empty client error = %v", err)
	}
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

type recordingLogger struct {
	errors, warns []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestDispatch_RecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "graymon/x", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "graymon/x", nil)
	c.dispatch(func(string, []byte) error { return nil }, "graymon/x", nil)

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors=%v warns=%v, want one of each", logger.errors, logger.warns)
	}
}
