// README: Push notification senders. FCMNotifier targets a per-user topic
// so devices subscribe themselves; LogNotifier is the no-credentials
// fallback used in dev and tests.
package notify

import (
	"context"
	"fmt"
	"log"

	"firebase.google.com/go/v4/messaging"

	"carpool/internal/types"
)

// FCMNotifier delivers trip events over Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

// topicFor maps a user to the FCM topic their devices subscribe to.
func topicFor(userID types.ID) string {
	return "user-" + string(userID)
}

func titleFor(eventType string) string {
	switch eventType {
	case "trip_posted":
		return "New trip nearby"
	case "trip_accepted":
		return "Your trip was accepted"
	case "trip_joined":
		return "A passenger joined your trip"
	case "trip_paid":
		return "Payment received"
	case "trip_started":
		return "Trip started"
	case "trip_completed":
		return "Trip completed"
	case "trip_cancelled":
		return "Trip cancelled"
	default:
		return "Trip update"
	}
}

func (n *FCMNotifier) NotifyTransition(ctx context.Context, recipientID types.ID, eventType string, tripID types.ID, summary string) error {
	msg := &messaging.Message{
		Topic: topicFor(recipientID),
		Data: map[string]string{
			"type":    eventType,
			"trip_id": string(tripID),
		},
		Notification: &messaging.Notification{
			Title: titleFor(eventType),
			Body:  summary,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := n.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for trip %s: %w", tripID, err)
	}
	log.Printf("[notify] FCM sent trip=%s event=%s message_id=%s", tripID, eventType, messageID)
	return nil
}

// LogNotifier writes notifications to the process log instead of pushing
// them. Wired when no Firebase credentials are configured.
type LogNotifier struct{}

func (LogNotifier) NotifyTransition(_ context.Context, recipientID types.ID, eventType string, tripID types.ID, summary string) error {
	log.Printf("[notify] to=%s event=%s trip=%s summary=%q", recipientID, eventType, tripID, summary)
	return nil
}
