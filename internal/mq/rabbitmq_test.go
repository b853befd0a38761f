package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"fleettrack-backend/internal/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	exchanges map[string]string
	published []published
	err       error
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchanges == nil {
		f.exchanges = map[string]string{}
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestFanoutPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewFanoutPublisher(ch)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		LocationExchange: amqp091.ExchangeFanout,
		StatusExchange:   amqp091.ExchangeFanout,
	}, ch.exchanges)

	ctx := context.Background()
	p.PublishLocation(ctx, models.LocationUpdateEvent{DriverID: "d1", AdminID: "admin-1", Latitude: 1.5, Longitude: 2.5})
	p.PublishStatus(ctx, models.StatusUpdateEvent{DriverID: "d1", AdminID: "admin-1", Status: models.DriverStatusOffline})

	require.Len(t, ch.published, 2)
	assert.Equal(t, LocationExchange, ch.published[0].exchange)
	assert.Equal(t, StatusExchange, ch.published[1].exchange)
	assert.Equal(t, "application/json", ch.published[0].msg.ContentType)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &body))
	assert.Equal(t, "d1", body["driver_id"])
	assert.Equal(t, "admin-1", body["admin_id"])
	assert.Equal(t, 1.5, body["latitude"])

	require.NoError(t, json.Unmarshal(ch.published[1].msg.Body, &body))
	assert.Equal(t, "offline", body["status"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestFanoutPublisherSwallowsErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p, err := NewFanoutPublisher(ch)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		p.PublishLocation(context.Background(), models.LocationUpdateEvent{DriverID: "d1"})
	})
	assert.Error(t, p.PublishFanout(context.Background(), LocationExchange, map[string]string{"a": "b"}))
}
