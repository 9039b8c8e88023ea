// Package notify delivers one-time codes out-of-band. The SMTP notifier is
// the production channel; the log notifier redirects codes to the
// operational log for development and debugging.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Notifier delivers a one-time code to a recipient. Implementations apply
// their own bounded retry policy; a returned error means delivery has
// definitively failed.
type Notifier interface {
	Deliver(ctx context.Context, recipient, code string) error
}

// emailPattern validates recipient address syntax.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9.+_-]+@[A-Za-z0-9._-]+\.[a-zA-Z]*$`)

// splitRecipients splits a comma-separated recipient list and validates
// every address.
func splitRecipients(recipient string) ([]string, error) {
	if recipient == "" {
		return nil, fmt.Errorf("empty recipient")
	}
	list := strings.Split(recipient, ",")
	for _, addr := range list {
		if !emailPattern.MatchString(addr) {
			return nil, fmt.Errorf("invalid recipient address %q", addr)
		}
	}
	return list, nil
}

// message renders the code message, prefixed with branding when configured.
func message(branding, code string) string {
	if branding != "" {
		return fmt.Sprintf("%s security code: %s", branding, code)
	}
	return fmt.Sprintf("Security code: %s", code)
}

// LogNotifier writes codes to the operational log instead of delivering
// them. Debug/no-delivery mode only.
type LogNotifier struct{}

// Deliver logs the code.
func (LogNotifier) Deliver(_ context.Context, recipient, code string) error {
	slog.Info("security code issued", "recipient", recipient, "code", code)
	return nil
}

// Verify interface compliance.
var _ Notifier = LogNotifier{}
