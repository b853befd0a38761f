package testutil

import (
	"context"
	"sync"

	"fleettrack-backend/internal/models"
)

// RecordingPublisher captures change-feed events
type RecordingPublisher struct {
	mu        sync.Mutex
	locations []models.LocationUpdateEvent
	statuses  []models.StatusUpdateEvent
}

func (p *RecordingPublisher) PublishLocation(ctx context.Context, ev models.LocationUpdateEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locations = append(p.locations, ev)
}

func (p *RecordingPublisher) PublishStatus(ctx context.Context, ev models.StatusUpdateEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)
}

func (p *RecordingPublisher) Locations() []models.LocationUpdateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.LocationUpdateEvent(nil), p.locations...)
}

func (p *RecordingPublisher) Statuses() []models.StatusUpdateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatusUpdateEvent(nil), p.statuses...)
}

// Notification is one captured Notify call
type Notification struct {
	Event     models.NotificationEvent
	Recipient string
}

// RecordingNotifier captures notifications synchronously
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *RecordingNotifier) Notify(event models.NotificationEvent, recipient string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Event: event, Recipient: recipient})
}

func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
