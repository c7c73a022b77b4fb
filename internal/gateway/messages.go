package gateway

import (
	"encoding/json"
	"time"
)

// Request actions.
const (
	ActionConnect    = "connect"
	ActionInventory  = "inventory"
	ActionDisconnect = "disconnect"
)

// ScanRequest asks gateways in pairing mode to announce themselves.
type ScanRequest struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Serials limits which gateways should answer. Empty means all.
	Serials []string `json:"serials,omitempty"`
}

// Announcement is a gateway's answer to a scan request.
type Announcement struct {
	Serial string `json:"gw_sn"`
	Name   string `json:"name"`
	Host   string `json:"gw_ip"`
	Port   int    `json:"port"`
	TLS    bool   `json:"is_tls"`
	Model  string `json:"model,omitempty"`
}

// RequestMessage is sent to one gateway.
type RequestMessage struct {
	RequestID  string          `json:"request_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ConnectParameters are sent with a connect request.
type ConnectParameters struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	TLS  bool   `json:"tls"`
}

// ResponseMessage is a gateway's answer to a request.
type ResponseMessage struct {
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
}

// ResponseError describes why a gateway rejected a request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
