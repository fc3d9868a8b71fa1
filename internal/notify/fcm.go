package notify

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/messaging"
)

var errNoDeviceToken = errors.New("recipient has no device token")

// FCM sends push notifications through Firebase Cloud Messaging.
type FCM struct {
	client *messaging.Client
}

func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

func (f *FCM) Notify(ctx context.Context, to Recipient, title, body string, data map[string]string) error {
	if to.DeviceToken == "" {
		return errNoDeviceToken
	}
	_, err := f.client.Send(ctx, &messaging.Message{
		Token: to.DeviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	return err
}
