// Package graph is the mail gateway client: it performs the profile, inbox
// and send operations against Microsoft Graph using the process session and
// translates every upstream failure into a mailerr kind.
//
// Upstream status mapping:
//
//	401, 403                    -> Unauthorized
//	400, 413, 422               -> ValidationError
//	transport errors, 429, 5xx  -> UpstreamUnavailable
//
// There are no retries. Each call is bounded by the configured timeout and
// the caller's context.
package graph
