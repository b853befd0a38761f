package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"fleettrack-backend/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(credentialsFile string) (*FCMService, error) {
	return newFCMService(option.WithCredentialsFile(credentialsFile))
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials.
// Used on hosts where the service account file can't be mounted.
func NewFCMServiceFromBase64(credentialsBase64 string) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(option.WithCredentialsJSON(credentialsJSON))
}

func newFCMService(opt option.ClientOption) (*FCMService, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client}, nil
}

// SendMulticast sends the same message to multiple tokens
func (s *FCMService) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("✅ Multicast sent: %d success, %d failures", response.SuccessCount, response.FailureCount)
	return nil
}

// MulticastSender is the push transport used by PushNotifier
type MulticastSender interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// PushNotifier delivers notification events to every registered device of the recipient
type PushNotifier struct {
	tokens  TokenStore
	sender  MulticastSender
	timeout time.Duration
}

// NewPushNotifier creates a notifier backed by the admin's FCM tokens
func NewPushNotifier(tokens TokenStore, sender MulticastSender) *PushNotifier {
	return &PushNotifier{tokens: tokens, sender: sender, timeout: 10 * time.Second}
}

// Notify sends in the background; failures are logged and never reach the caller
func (n *PushNotifier) Notify(event models.NotificationEvent, recipient string) {
	if recipient == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.deliver(ctx, event, recipient); err != nil {
			log.Printf("⚠️  Notification %s for %s not delivered: %v", event.Type, recipient, err)
		}
	}()
}

func (n *PushNotifier) deliver(ctx context.Context, event models.NotificationEvent, recipient string) error {
	tokens, err := n.tokens.GetFCMTokens(ctx, recipient)
	if err != nil {
		return fmt.Errorf("load fcm tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	title, body := notificationText(event)
	data := map[string]string{
		"type":         event.Type,
		"driver_id":    event.DriverID,
		"display_name": event.DisplayName,
		"fleet_code":   event.FleetCode,
	}
	return n.sender.SendMulticast(ctx, tokens, title, body, data)
}

func notificationText(event models.NotificationEvent) (string, string) {
	switch event.Type {
	case models.NotificationDriverJoined:
		device := event.DeviceName
		if device == "" {
			device = event.FleetCode
		}
		return "New driver connected", fmt.Sprintf("%s joined %s", event.DisplayName, device)
	default:
		return "Fleet update", event.DisplayName
	}
}
