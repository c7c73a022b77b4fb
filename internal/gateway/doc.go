// Package gateway talks to DALI gateways over the MQTT bus.
//
// Client implements the scanner and connector collaborators of the flow
// package. Gateways in pairing mode answer a scan request on
// dalicenter/discovery/scan with an Announcement on
// dalicenter/discovery/announce. Requests go to
// dalicenter/request/{serial}/{request_id} and are answered on
// dalicenter/response/{serial}/{request_id}; the request id is a UUID used
// for correlation.
//
// Client subscribes to the announcement and response topics once, in
// Start, and fans messages out to the scans and requests in progress, so
// any number of flows can use it concurrently.
package gateway
