// Package gatewaytest simulates DALI gateways on an mqtttest.Broker.
package gatewaytest

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dali-center/internal/gateway"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt"
	"github.com/nerrad567/dali-center/internal/infrastructure/mqtt/mqtttest"
	"github.com/nerrad567/dali-center/internal/inventory"
)

// Gateway is one simulated gateway.
type Gateway struct {
	Announcement gateway.Announcement
	Items        []inventory.Item

	// Silent gateways do not answer scan requests.
	Silent bool
	// RejectConnect makes connect requests fail.
	RejectConnect bool
	// RejectInventory makes inventory requests fail.
	RejectInventory bool
	// NoReply gateways never answer requests.
	NoReply bool
}

// Simulator answers scan requests and requests published on a broker.
type Simulator struct {
	mu       sync.Mutex
	gateways map[string]*Gateway
	requests map[string][]string
	topics   mqtt.Topics
}

// Attach installs a simulator as the broker's OnPublish hook.
func Attach(b *mqtttest.Broker) *Simulator {
	s := &Simulator{
		gateways: make(map[string]*Gateway),
		requests: make(map[string][]string),
	}
	b.OnPublish = s.handle
	return s
}

// Add registers or replaces a gateway.
func (s *Simulator) Add(g Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateways[g.Announcement.Serial] = &g
}

// Update changes a registered gateway in place.
func (s *Simulator) Update(serial string, fn func(g *Gateway)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gateways[serial]; ok {
		fn(g)
	}
}

// Actions returns the request actions a gateway received, in order.
func (s *Simulator) Actions(serial string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests[serial]...)
}

func (s *Simulator) handle(b *mqtttest.Broker, msg mqtttest.Message) {
	if msg.Topic == s.topics.DiscoveryScan() {
		s.answerScan(b, msg.Payload)
		return
	}

	parts := strings.Split(msg.Topic, "/")
	if len(parts) == 4 && parts[0] == mqtt.TopicPrefix && parts[1] == "request" {
		s.answerRequest(b, parts[2], msg.Payload)
	}
}

func (s *Simulator) answerScan(b *mqtttest.Broker, payload []byte) {
	var req gateway.ScanRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	want := make(map[string]bool, len(req.Serials))
	for _, sn := range req.Serials {
		want[sn] = true
	}

	s.mu.Lock()
	var answers [][]byte
	for sn, g := range s.gateways {
		if g.Silent || (len(want) > 0 && !want[sn]) {
			continue
		}
		raw, _ := json.Marshal(g.Announcement) //nolint:errchkjson // plain struct
		answers = append(answers, raw)
	}
	s.mu.Unlock()

	for _, raw := range answers {
		b.Deliver(s.topics.DiscoveryAnnounce(), raw)
	}
}

func (s *Simulator) answerRequest(b *mqtttest.Broker, serial string, payload []byte) {
	var req gateway.RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	s.mu.Lock()
	s.requests[serial] = append(s.requests[serial], req.Action)
	g, ok := s.gateways[serial]
	var snapshot Gateway
	if ok {
		snapshot = *g
	}
	s.mu.Unlock()

	if !ok || snapshot.NoReply {
		return
	}

	resp := gateway.ResponseMessage{RequestID: req.RequestID, Timestamp: time.Now().UTC(), Success: true}
	switch req.Action {
	case gateway.ActionConnect:
		if snapshot.RejectConnect {
			resp = reject(resp, "connection_refused", "gateway refused the connection")
		}
	case gateway.ActionInventory:
		if snapshot.RejectInventory {
			resp = reject(resp, "inventory_failed", "inventory read failed")
			break
		}
		data, err := inventory.Encode(serial, snapshot.Items)
		if err != nil {
			resp = reject(resp, "encode_failed", err.Error())
			break
		}
		resp.Data = data
	case gateway.ActionDisconnect:
	default:
		resp = reject(resp, "unknown_action", req.Action)
	}

	raw, _ := json.Marshal(resp) //nolint:errchkjson // plain struct
	b.Deliver(s.topics.GatewayResponse(serial, req.RequestID), raw)
}

func reject(resp gateway.ResponseMessage, code, message string) gateway.ResponseMessage {
	resp.Success = false
	resp.Error = &gateway.ResponseError{Code: code, Message: message}
	return resp
}
