// Package runtime relays gateway push notifications to the host.
//
// A Bridge subscribes to the notification topics of every configured
// gateway and forwards each notification to the handlers subscribed to the
// item it concerns. Only items in the gateway's persisted selection are
// forwarded; the selection is read when the gateway is activated and again
// whenever a flow re-materialises it.
//
// Notifications carry the gateway's payload verbatim. Telemetry (energy
// reports, availability) is additionally written to InfluxDB and every
// forwarded notification is broadcast to WebSocket clients when those sinks
// are configured.
package runtime
