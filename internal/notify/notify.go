// Package notify delivers passenger-facing notifications. All sends are
// best-effort: callers log failures and never let them affect the outcome
// of the triggering operation.
package notify

import "context"

// Recipient is the narrow passenger view the notifier needs. DeviceToken
// may be empty for passengers without a registered device.
type Recipient struct {
	ID          string
	Name        string
	Email       string
	DeviceToken string
}

type Notifier interface {
	Notify(ctx context.Context, to Recipient, title, body string, data map[string]string) error
}

// Nop discards every notification. Used in tests and when push is not configured.
type Nop struct{}

func (Nop) Notify(context.Context, Recipient, string, string, map[string]string) error {
	return nil
}

// Multi fans a notification out to every backend, returning the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, to Recipient, title, body string, data map[string]string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, to, title, body, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}
