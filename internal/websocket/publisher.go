package websocket

import (
	"context"

	"fleettrack-backend/internal/models"
)

// FeedPublisher delivers change-feed events to the dispatchers that own the driver.
// Location events pass through the throttle; status events are always sent.
type FeedPublisher struct {
	hub      *Hub
	throttle *FeedThrottle
}

func NewFeedPublisher(hub *Hub, throttle *FeedThrottle) *FeedPublisher {
	return &FeedPublisher{hub: hub, throttle: throttle}
}

func (p *FeedPublisher) PublishLocation(_ context.Context, ev models.LocationUpdateEvent) {
	if ev.AdminID == "" {
		return
	}
	if p.throttle != nil && !p.throttle.Allow(ev.DriverID, ev.Latitude, ev.Longitude) {
		return
	}
	p.hub.BroadcastToUser(ev.AdminID, models.FeedMessage{
		Type: models.EventDriverLocationUpdate,
		Data: ev,
	})
}

func (p *FeedPublisher) PublishStatus(_ context.Context, ev models.StatusUpdateEvent) {
	if p.throttle != nil && ev.Status.IsExplicitlyOffline() {
		p.throttle.ClearDriver(ev.DriverID)
	}
	if ev.AdminID == "" {
		return
	}
	p.hub.BroadcastToUser(ev.AdminID, models.FeedMessage{
		Type: models.EventDriverStatusUpdate,
		Data: ev,
	})
}
