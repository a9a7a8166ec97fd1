// Package credential owns the single authenticated session of the process.
//
// A Holder is created from configuration and initialized once at startup:
// it runs the OAuth 2.0 device authorization grant against the identity
// provider (or reuses a cached token), then publishes an immutable Session.
// Request handlers only ever read that Session; none of them can start a
// sign-in. Access tokens are refreshed transparently by the session's
// token source; a refresh that fails surfaces as *TokenError on the next
// upstream call.
package credential
