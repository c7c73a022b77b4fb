// Package audit records the outcome of configuration flows and gateway
// removals in the audit_logs table, and serves them back for the operator
// API.
package audit
