// Package redirect builds the handoff URLs used when the bouncer
// authenticates a user on behalf of another service: after a successful
// login or verification the client is sent to "{base}/auth/{session}" on
// the requesting service.
package redirect

import (
	"fmt"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// handoffTemplate expands to the session handoff endpoint on the target
// service. The base is substituted verbatim; the session id is
// percent-encoded.
var handoffTemplate = uritemplate.MustNew("{+base}/auth/{session}")

// HandoffURL returns the URL the client should be redirected to so the
// target service can adopt the session.
func HandoffURL(base, sessionID string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("empty redirect base")
	}
	url, err := handoffTemplate.Expand(uritemplate.Values{
		"base":    uritemplate.String(strings.TrimSuffix(base, "/")),
		"session": uritemplate.String(sessionID),
	})
	if err != nil {
		return "", fmt.Errorf("expanding handoff url: %w", err)
	}
	return url, nil
}
