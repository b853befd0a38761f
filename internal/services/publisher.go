package services

import (
	"context"

	"fleettrack-backend/internal/models"
)

// Publisher pushes change-feed events. Delivery is best-effort: implementations log
// failures instead of returning them so a slow feed never fails a write.
type Publisher interface {
	PublishLocation(ctx context.Context, ev models.LocationUpdateEvent)
	PublishStatus(ctx context.Context, ev models.StatusUpdateEvent)
}

// Publishers fans every event out to each publisher in order
type Publishers []Publisher

func (p Publishers) PublishLocation(ctx context.Context, ev models.LocationUpdateEvent) {
	for _, pub := range p {
		pub.PublishLocation(ctx, ev)
	}
}

func (p Publishers) PublishStatus(ctx context.Context, ev models.StatusUpdateEvent) {
	for _, pub := range p {
		pub.PublishStatus(ctx, ev)
	}
}

// Notifier is the fire-and-forget notification collaborator
type Notifier interface {
	Notify(event models.NotificationEvent, recipient string)
}

// NopNotifier drops every notification (push disabled)
type NopNotifier struct{}

func (NopNotifier) Notify(models.NotificationEvent, string) {}

func statusEvent(d *models.Driver) models.StatusUpdateEvent {
	return models.StatusUpdateEvent{
		DriverID:     d.ID,
		DisplayName:  d.DisplayName,
		FleetCode:    d.FleetCode,
		AdminID:      d.AdminID,
		Status:       d.Status,
		LastSeen:     d.LastSeen,
		DeviceStatus: d.DeviceStatus,
		UpdatedAt:    d.UpdatedAt,
	}
}
