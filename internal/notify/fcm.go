// README: Push notifications: new-booking alerts to the matched provider over FCM.
package notify

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

// Sender is the slice of the FCM client the notifier uses.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// TokenSource resolves a user's registered device token.
type TokenSource interface {
	DeviceToken(ctx context.Context, uid types.ID) (string, error)
}

type FCMNotifier struct {
	sender Sender
	tokens TokenSource
	log    logrus.FieldLogger
}

func NewFCMNotifier(sender Sender, tokens TokenSource, log logrus.FieldLogger) *FCMNotifier {
	return &FCMNotifier{sender: sender, tokens: tokens, log: logging.Component(log, "notify")}
}

// NewFCMNotifierFromApp builds the notifier on the app's messaging client.
func NewFCMNotifierFromApp(ctx context.Context, app *firebase.App, tokens TokenSource, log logrus.FieldLogger) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return NewFCMNotifier(client, tokens, log), nil
}

// NotifyNewBooking pushes the new job to its provider. Providers without a
// device token are skipped.
func (n *FCMNotifier) NotifyNewBooking(ctx context.Context, b *booking.Booking) error {
	token, err := n.tokens.DeviceToken(ctx, b.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve device token for %s: %w", b.ProviderID, err)
	}
	if token == "" {
		n.log.WithField("provider_id", b.ProviderID).Debug("provider has no device token, push skipped")
		return nil
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":        "new_booking",
			"booking_id":  string(b.ID),
			"service_id":  strconv.FormatInt(b.ServiceID, 10),
			"latitude":    strconv.FormatFloat(b.Location.Lat, 'f', 6, 64),
			"longitude":   strconv.FormatFloat(b.Location.Lng, 'f', 6, 64),
			"distance_km": strconv.FormatFloat(b.DistanceKm, 'f', 2, 64),
		},
		Notification: &messaging.Notification{
			Title: "New job request",
			Body:  fmt.Sprintf("A customer %.1f km away needs your help", b.DistanceKm),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for booking %s: %w", b.ID, err)
	}
	n.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"provider_id": b.ProviderID,
		"message_id":  messageID,
	}).Info("new booking push sent")
	return nil
}

// LogNotifier records notifications instead of sending them. Used when no
// Firebase project is configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) NotifyNewBooking(_ context.Context, b *booking.Booking) error {
	n.Log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"provider_id": b.ProviderID,
	}).Info("new booking (push disabled)")
	return nil
}
