// Package payment abstracts the external payment provider. The engine only
// needs capture and refund; everything else (checkout UX, webhooks) lives
// outside this service.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrDeclined means the provider rejected the capture. The caller
	// surfaces it and aborts with no state change.
	ErrDeclined = errors.New("payment declined")
	// ErrRefundFailed means the provider could not refund a capture.
	ErrRefundFailed = errors.New("refund failed")
)

type Provider interface {
	// Capture charges the given amount and returns a capture reference.
	Capture(ctx context.Context, amountCents int64, currency string) (string, error)
	// Refund returns part of a captured amount and returns a refund reference.
	Refund(ctx context.Context, captureRef string, amountCents int64, currency string) (string, error)
}
