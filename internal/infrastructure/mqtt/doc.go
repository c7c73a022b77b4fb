// Package mqtt provides MQTT client connectivity for DALI Center.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament on dalicenter/system/status
//
// DALI gateways are reached through the broker: discovery scans and
// announcements, request/response exchanges keyed by request id, and
// per-gateway push notifications all travel as JSON over the topics built
// by Topics.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllGatewayEvents("GW0012"), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Package mqtttest provides an in-process broker with the same method set
// for tests.
package mqtt
