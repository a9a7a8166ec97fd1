// Package mailerr defines the small error taxonomy shared by the credential
// holder, the mail gateway client and the HTTP boundary.
//
// Every failure surfaced to a caller is an *Error carrying one Kind. The
// HTTP layer translates kinds to status codes with HTTPStatus:
//
//	NotAuthenticated    -> 401
//	Unauthorized        -> 401
//	ValidationError     -> 400
//	InvalidArgument     -> 400
//	UpstreamUnavailable -> 502
package mailerr
