package notify

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

type captureSender struct {
	sent []*messaging.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg *messaging.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.sent = append(c.sent, msg)
	return "projects/qa/messages/1", nil
}

type tokens map[types.ID]string

func (t tokens) DeviceToken(_ context.Context, uid types.ID) (string, error) {
	tok, ok := t[uid]
	if !ok {
		return "", errors.New("user not registered")
	}
	return tok, nil
}

func newBooking() *booking.Booking {
	return &booking.Booking{
		ID:         "b1",
		CustomerID: "c1",
		ProviderID: "p1",
		ServiceID:  3,
		Location:   types.Point{Lat: -1.2921, Lng: 36.8219},
		DistanceKm: 2.24,
	}
}

func TestNotifyNewBooking(t *testing.T) {
	sender := &captureSender{}
	n := NewFCMNotifier(sender, tokens{"p1": "device-abc"}, nil)

	if err := n.NotifyNewBooking(context.Background(), newBooking()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one push, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Token != "device-abc" {
		t.Fatalf("unexpected token %q", msg.Token)
	}
	if msg.Data["type"] != "new_booking" || msg.Data["booking_id"] != "b1" || msg.Data["service_id"] != "3" {
		t.Fatalf("unexpected data %+v", msg.Data)
	}
	if msg.Data["latitude"] != "-1.292100" || msg.Data["distance_km"] != "2.24" {
		t.Fatalf("unexpected coordinates %+v", msg.Data)
	}
}

func TestNotifySkipsMissingToken(t *testing.T) {
	sender := &captureSender{}
	n := NewFCMNotifier(sender, tokens{"p1": ""}, nil)
	if err := n.NotifyNewBooking(context.Background(), newBooking()); err != nil {
		t.Fatalf("missing token should not fail: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestNotifyErrors(t *testing.T) {
	n := NewFCMNotifier(&captureSender{}, tokens{}, nil)
	if err := n.NotifyNewBooking(context.Background(), newBooking()); err == nil {
		t.Fatalf("expected token lookup error")
	}
	n = NewFCMNotifier(&captureSender{err: errors.New("unregistered")}, tokens{"p1": "tok"}, nil)
	if err := n.NotifyNewBooking(context.Background(), newBooking()); err == nil {
		t.Fatalf("expected send error")
	}
}
