// Package auth provides bearer-token authentication and role-based
// authorisation for the DALI Center operator API.
//
// Access tokens are HS256 JWTs carrying the operator's role. Tokens are
// validated by signature and expiry only; there is no user database.
// Roles map statically to permissions:
//
//   - viewer: read gateways, flows and the audit log
//   - operator: viewer plus running discovery and refresh flows
//   - admin: operator plus removing configured gateways
package auth
