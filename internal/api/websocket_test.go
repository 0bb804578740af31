package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-monitor/internal/cache"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-monitor/internal/monitor"
	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
	"github.com/nerrad567/gray-logic-monitor/internal/tag"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, id string, sub WSSubscribePayload) WSMessage {
	t.Helper()
	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: id, Payload: sub}))
	var resp WSMessage
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

// testClient registers a client without a connection whose frames can be
// read straight from its send channel.
func testClient(t *testing.T, hub *Hub, channel string, sub WSSubscribePayload) *WSClient {
	t.Helper()
	f, err := newFilter(sub)
	require.NoError(t, err)
	client := &WSClient{hub: hub, send: make(chan []byte, 8), subs: map[string]*filter{channel: f}}
	hub.Register(client)
	return client
}

func TestWebSocket_RelaysTagUpdates(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	resp := subscribe(t, conn, "1", WSSubscribePayload{Channels: []string{ChannelTagUpdated}})
	require.Equal(t, WSTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)

	ok, err := env.monitor.SubmitValue(context.Background(), monitor.SourceValue{TagID: 1, Value: 4.0, SourceTimestamp: t0})
	require.NoError(t, err)
	require.True(t, ok)

	// The rule tag follows; wait for the data tag itself.
	for {
		var raw struct {
			Type      string   `json:"type"`
			EventType string   `json:"event_type"`
			Payload   TagEvent `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&raw))
		if raw.Type != WSTypeEvent || raw.Payload.ID != 1 {
			continue
		}
		assert.Equal(t, ChannelTagUpdated, raw.EventType)
		require.NotNil(t, raw.Payload.Tag)
		assert.Equal(t, 4.0, raw.Payload.Tag.Value)
		break
	}
}

func TestWebSocket_TagFilter(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	resp := subscribe(t, conn, "1", WSSubscribePayload{Channels: []string{ChannelTagUpdated}, TagIDs: []int64{10}})
	require.Equal(t, WSTypeResponse, resp.Type)

	_, err := env.monitor.SubmitValue(context.Background(), monitor.SourceValue{TagID: 1, Value: 4.0, SourceTimestamp: t0})
	require.NoError(t, err)

	// Only the rule tag reading tag 1 passes the filter.
	var raw struct {
		Type    string   `json:"type"`
		Payload TagEvent `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, WSTypeEvent, raw.Type)
	assert.Equal(t, int64(10), raw.Payload.ID)
}

func TestWebSocket_RejectsBadSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	tests := []struct {
		name string
		sub  WSSubscribePayload
	}{
		{"unknown channel", WSSubscribePayload{Channels: []string{"device.state_changed"}}},
		{"unknown family", WSSubscribePayload{Channels: []string{ChannelSupervisionChanged}, Families: []supervision.Family{"building"}}},
		{"no channels", WSSubscribePayload{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := subscribe(t, conn, "7", tt.sub)
			assert.Equal(t, WSTypeError, resp.Type)
			assert.Equal(t, "7", resp.ID)
		})
	}

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "8"}))
	var resp WSMessage
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, WSTypePong, resp.Type)
	assert.Equal(t, "8", resp.ID)
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	subscribe(t, conn, "1", WSSubscribePayload{Channels: []string{ChannelTagUpdated}})
	require.NoError(t, conn.WriteJSON(WSMessage{
		Type: WSTypeUnsubscribe, ID: "2",
		Payload: WSSubscribePayload{Channels: []string{ChannelTagUpdated}},
	}))
	var resp WSMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, WSTypeResponse, resp.Type)

	require.Eventually(t, func() bool { return env.srv.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	env.srv.hub.mu.RLock()
	defer env.srv.hub.mu.RUnlock()
	for client := range env.srv.hub.clients {
		assert.False(t, client.wants(ChannelTagUpdated, eventKey{tagID: 1}))
	}
}

func TestHub_RelaysEntityChanges(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	client := testClient(t, hub, ChannelSupervisionChanged, WSSubscribePayload{Channels: []string{ChannelSupervisionChanged}})

	hub.relayEntities(supervision.FamilyEquipment)([]cache.Event[*supervision.Entity]{
		{Kind: cache.EventRemoved, Key: 10},
	})

	select {
	case data := <-client.send:
		var msg struct {
			EventType string      `json:"event_type"`
			Payload   EntityEvent `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, ChannelSupervisionChanged, msg.EventType)
		assert.Equal(t, supervision.FamilyEquipment, msg.Payload.Family)
		assert.True(t, msg.Payload.Removed)
	default:
		t.Fatal("no broadcast queued")
	}

	hub.relayTags([]cache.Event[*tag.Tag]{{Kind: cache.EventUpdated, Key: 1, Value: &tag.Tag{ID: 1}}})
	assert.Empty(t, client.send, "client is not subscribed to tag.updated")
}

func TestHub_FamilyFilter(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	client := testClient(t, hub, ChannelSupervisionChanged, WSSubscribePayload{
		Channels: []string{ChannelSupervisionChanged},
		Families: []supervision.Family{supervision.FamilyProcess},
	})

	hub.relayEntities(supervision.FamilyEquipment)([]cache.Event[*supervision.Entity]{{Kind: cache.EventRemoved, Key: 10}})
	assert.Empty(t, client.send)

	hub.relayEntities(supervision.FamilyProcess)([]cache.Event[*supervision.Entity]{{Kind: cache.EventRemoved, Key: 1}})
	assert.Len(t, client.send, 1)
}

func TestHub_CountsDroppedEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), reg)
	f, err := newFilter(WSSubscribePayload{Channels: []string{ChannelTagUpdated}})
	require.NoError(t, err)
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subs: map[string]*filter{ChannelTagUpdated: f}}
	hub.Register(client)

	hub.Broadcast(ChannelTagUpdated, eventKey{tagID: 1}, TagEvent{ID: 1})
	hub.Broadcast(ChannelTagUpdated, eventKey{tagID: 1}, TagEvent{ID: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(hub.messages.WithLabelValues(ChannelTagUpdated, "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hub.messages.WithLabelValues(ChannelTagUpdated, "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hub.connected))

	hub.Unregister(client)
	assert.Equal(t, 0.0, testutil.ToFloat64(hub.connected))
	assert.False(t, client.trySend([]byte("{}")), "send on a closed client reports a drop")
}

func TestFilter_Match(t *testing.T) {
	f, err := newFilter(WSSubscribePayload{
		Channels: []string{ChannelTagUpdated, ChannelSupervisionChanged},
		TagIDs:   []int64{1, 2},
		Families: []supervision.Family{supervision.FamilySubEquipment},
	})
	require.NoError(t, err)

	assert.True(t, f.match(eventKey{tagID: 2}))
	assert.False(t, f.match(eventKey{tagID: 3}))
	assert.True(t, f.match(eventKey{family: supervision.FamilySubEquipment}))
	assert.False(t, f.match(eventKey{family: supervision.FamilyProcess}))

	all, err := newFilter(WSSubscribePayload{Channels: []string{ChannelTagUpdated}})
	require.NoError(t, err)
	assert.True(t, all.match(eventKey{tagID: 99}))
	assert.True(t, all.match(eventKey{family: supervision.FamilyEquipment}))
}

func TestServer_WSPath(t *testing.T) {
	for path, want := range map[string]string{
		"":      "/ws",
		"/":     "/ws",
		"feed":  "/ws",
		"/feed": "/feed",
	} {
		s := &Server{wsCfg: config.WebSocketConfig{Path: path}}
		assert.Equal(t, want, s.wsPath(), "path %q", path)
	}
}
