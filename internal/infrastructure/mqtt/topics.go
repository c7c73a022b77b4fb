package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the DALI Center topic hierarchy.
const (
	TopicPrefix       = "dalicenter"
	TopicPrefixCore   = "dalicenter/core"
	TopicPrefixSystem = "dalicenter/system"
)

// Gateway push notification events, the last segment of a gateway
// notification topic.
const (
	EventOnlineStatus = "online_status"
	EventDevStatus    = "dev_status"
	EventReportEnergy = "report_energy"
	EventSensorOnOff  = "sensor_on_off"
)

// Topics provides builders for DALI Center MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.GatewayRequest("GW0012", "req-1")
//	// "dalicenter/request/GW0012/req-1"
type Topics struct{}

// DiscoveryScan is published to ask gateways in pairing mode to announce
// themselves.
//
// Example: dalicenter/discovery/scan
func (Topics) DiscoveryScan() string {
	return TopicPrefix + "/discovery/scan"
}

// DiscoveryAnnounce carries gateway announcements answering a scan request.
//
// Example: dalicenter/discovery/announce
func (Topics) DiscoveryAnnounce() string {
	return TopicPrefix + "/discovery/announce"
}

// GatewayRequest returns the topic for a request to one gateway.
//
// Example: dalicenter/request/GW0012/3f1c...
func (Topics) GatewayRequest(serial, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, serial, requestID)
}

// GatewayResponse returns the topic a gateway answers a request on.
//
// Example: dalicenter/response/GW0012/3f1c...
func (Topics) GatewayResponse(serial, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, serial, requestID)
}

// GatewayEvent returns the topic for one push notification type from a gateway.
//
// Example: dalicenter/gateway/GW0012/online_status
func (Topics) GatewayEvent(serial, event string) string {
	return fmt.Sprintf("%s/gateway/%s/%s", TopicPrefix, serial, event)
}

// CoreEntities returns the retained entity manifest topic for a gateway.
//
// Example: dalicenter/core/entities/GW0012
func (Topics) CoreEntities(serial string) string {
	return fmt.Sprintf("%s/entities/%s", TopicPrefixCore, serial)
}

// CoreEvent returns the topic for core events.
//
// Example: dalicenter/core/event/entities_changed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the retained system status topic (also the LWT topic).
//
// Example: dalicenter/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllResponses matches every response from every gateway.
//
// Pattern: dalicenter/response/+/+
func (Topics) AllResponses() string {
	return TopicPrefix + "/response/+/+"
}

// AllGatewayEvents matches every push notification from one gateway.
//
// Pattern: dalicenter/gateway/GW0012/+
func (Topics) AllGatewayEvents(serial string) string {
	return fmt.Sprintf("%s/gateway/%s/+", TopicPrefix, serial)
}

// ParseGatewayEvent splits a gateway notification topic into its serial and
// event. ok is false for any other topic.
func ParseGatewayEvent(topic string) (serial, event string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "gateway" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// ParseGatewayResponse splits a response topic into its serial and request
// id. ok is false for any other topic.
func ParseGatewayResponse(topic string) (serial, requestID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "response" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// Match reports whether topic matches the subscription filter, honouring
// the + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
