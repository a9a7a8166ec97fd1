// Package server exposes the mail gateway over HTTP.
//
// # Routes
//
//	GET  /api/v1/health        liveness with app name and version
//	GET  /api/v1/user          signed-in user's profile
//	GET  /api/v1/emails/inbox  most recent inbox messages (?limit=1..100, default 50)
//	POST /api/v1/emails/send   send one message
//	GET  /api/v1/auth/token    token metadata, never the token itself
//	GET  /healthz, /readyz     Kubernetes probes
//
// Failures are written as {"error": kind, "detail": message, "status_code": n}
// using the status mapping of package mailerr.
//
// When an API key is configured every /api/v1 route except health requires
// "Authorization: Bearer <key>". Every response carries an X-Request-ID.
//
// MetricsServer serves Prometheus metrics on a separate listener.
package server
