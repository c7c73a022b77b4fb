// Package host materialises persisted selections as host entities.
//
// For every configured gateway a retained entity manifest is published on
// dalicenter/core/entities/{serial}, so the host rebuilds its entities from
// the broker after a restart. Each update also publishes an entities_changed
// event listing what was created, updated and removed, and relays the same
// event to WebSocket clients.
package host
