package api

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/dali-center/internal/flow"
	"github.com/nerrad567/dali-center/internal/host"
	"github.com/nerrad567/dali-center/internal/infrastructure/config"
	"github.com/nerrad567/dali-center/internal/infrastructure/logging"
	"github.com/nerrad567/dali-center/internal/inventory"
	"github.com/nerrad567/dali-center/internal/runtime"
)

func testClient(h *Hub) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, 8),
		subscriptions: make(map[string]struct{}),
		gateways:      make(map[string]struct{}),
	}
	h.Register(c)
	return c
}

// received drains the client's queue and returns the event types.
func received(t *testing.T, c *WSClient) []WSMessage {
	t.Helper()
	var out []WSMessage
	for {
		select {
		case data := <-c.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("invalid message %s: %v", data, err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func subscribe(c *WSClient, id string, channels, gateways []string) {
	raw, _ := json.Marshal(WSMessage{ //nolint:errcheck // static value
		Type: WSTypeSubscribe, ID: id,
		Payload: WSSubscribePayload{Channels: channels, Gateways: gateways},
	})
	c.handleMessage(raw)
}

func TestHub_GatewayFilter(t *testing.T) {
	h := NewHub(config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 8192}, logging.Discard())
	all := testClient(h)
	gw1 := testClient(h)

	subscribe(all, "a", []string{ChannelFlowChanged, ChannelNotification}, nil)
	subscribe(gw1, "b", []string{ChannelFlowChanged, ChannelEntitiesChanged}, []string{"GW1"})
	for _, c := range []*WSClient{all, gw1} {
		if acks := received(t, c); len(acks) != 1 || acks[0].Type != WSTypeResponse {
			t.Fatalf("acks = %+v", acks)
		}
	}

	h.Broadcast(ChannelFlowChanged, flow.Snapshot{ID: "f1", State: flow.StateScanningGateways})
	h.Broadcast(ChannelFlowChanged, flow.Snapshot{ID: "f2", GatewaySerial: "GW2"})
	h.Broadcast(ChannelEntitiesChanged, host.ChangeEvent{GatewaySerial: "GW1"})
	h.Broadcast(ChannelNotification, runtime.Notification{
		Key: inventory.Key{GatewaySerial: "GW1", Kind: inventory.KindDevice, ID: "1"}, Event: runtime.EventOnlineStatus,
	})

	if got := received(t, all); len(got) != 3 {
		t.Errorf("unfiltered client got %d events, want 3", len(got))
	}
	got := received(t, gw1)
	if len(got) != 2 {
		t.Fatalf("filtered client got %+v, want scan flow and GW1 entities", got)
	}
	if got[0].EventType != ChannelFlowChanged || got[1].EventType != ChannelEntitiesChanged {
		t.Errorf("filtered client events = %s, %s", got[0].EventType, got[1].EventType)
	}
}

func TestHub_SubscribeErrors(t *testing.T) {
	h := NewHub(config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 8192}, logging.Discard())
	c := testClient(h)

	subscribe(c, "1", []string{"device.state"}, nil)
	subscribe(c, "2", nil, nil)
	c.handleMessage([]byte("{"))
	c.handleMessage([]byte(`{"type":"shout","id":"3"}`))

	msgs := received(t, c)
	if len(msgs) != 4 {
		t.Fatalf("messages = %+v", msgs)
	}
	for _, m := range msgs {
		if m.Type != WSTypeError {
			t.Errorf("message %+v, want error", m)
		}
	}
	if c.wants(ChannelFlowChanged, "") {
		t.Error("rejected subscribe must not register channels")
	}
}

func TestHub_UnsubscribeClearsFilter(t *testing.T) {
	h := NewHub(config.WebSocketConfig{PingInterval: 30, PongTimeout: 10, MaxMessageSize: 8192}, logging.Discard())
	c := testClient(h)

	subscribe(c, "1", []string{ChannelFlowChanged}, []string{"GW1"})
	raw, _ := json.Marshal(WSMessage{Type: WSTypeUnsubscribe, ID: "2", Payload: WSSubscribePayload{Channels: []string{ChannelFlowChanged}}}) //nolint:errcheck // static value
	c.handleMessage(raw)
	subscribe(c, "3", []string{ChannelFlowChanged}, nil)

	if !c.wants(ChannelFlowChanged, "GW2") {
		t.Error("filter survived unsubscribing from every channel")
	}

	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after Unregister", h.ClientCount())
	}
}
