// Package api implements the operator REST API and WebSocket server for
// DALI Center.
//
// This package provides:
//   - Endpoints to run discovery and refresh flows step by step
//   - Endpoints to inspect and remove configured gateways
//   - The audit log of flow outcomes
//   - A WebSocket hub relaying flow transitions, host entity changes and
//     gateway notifications
//   - Prometheus metrics on /api/v1/metrics
//
// # Flows
//
// Flow operations return immediately with 202 Accepted and the flow
// snapshot. Network stages (scan, connect, fetch) continue in the
// background; clients poll GET /api/v1/flows/{id} or subscribe to the
// "flow.changed" WebSocket channel.
//
// # Security
//
// When security.jwt.enabled is set every route except /health requires a
// bearer token signed with the configured secret. The token's role decides
// which routes are allowed. WebSocket clients pass the token in the
// "token" query parameter.
package api
