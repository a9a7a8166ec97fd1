package instrumentation

import "strings"

// ExtractUserDomain returns the domain part of an email address, or
// "unknown". Use it instead of the full address in metric labels and
// non-audit logs.
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "unknown"
	}
	return strings.ToLower(email[at+1:])
}

// Upstream operation names used as metric labels and span names.
const (
	OperationGet  = "get_profile"
	OperationList = "list_inbox"
	OperationSend = "send"
)
