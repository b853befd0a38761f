package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"fleettrack-backend/internal/models"

	"github.com/rabbitmq/amqp091-go"
)

// Fanout exchanges read by downstream consumers (geofencing, SOS, analytics)
const (
	LocationExchange = "location_fanout"
	StatusExchange   = "driver_status_fanout"
)

const publishTimeout = 5 * time.Second

// Channel is the subset of *amqp091.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// FanoutPublisher mirrors change-feed events onto RabbitMQ fanout exchanges
type FanoutPublisher struct {
	mu   sync.RWMutex
	conn *amqp091.Connection
	ch   Channel
	url  string
	done chan struct{}
}

// ConnectToRMQ dials url with retries and declares the fanout exchanges.
// A monitor goroutine redials with backoff if the connection drops.
func ConnectToRMQ(url string) (*FanoutPublisher, error) {
	var conn *amqp091.Connection
	var ch *amqp091.Channel
	var err error

	for i := 0; i < 10; i++ {
		conn, ch, err = dial(url)
		if err == nil {
			break
		}
		log.Printf("⚠️  RabbitMQ not ready, retrying... (%d/10)", i+1)
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	p := &FanoutPublisher{conn: conn, ch: ch, url: url, done: make(chan struct{})}
	go p.monitorConnection(conn)
	log.Println("✅ RabbitMQ connected, publishing to", LocationExchange, "and", StatusExchange)
	return p, nil
}

// NewFanoutPublisher wraps an already-open channel and declares the exchanges
func NewFanoutPublisher(ch Channel) (*FanoutPublisher, error) {
	if err := declareExchanges(ch); err != nil {
		return nil, err
	}
	return &FanoutPublisher{ch: ch, done: make(chan struct{})}, nil
}

func dial(url string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := declareExchanges(ch); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func declareExchanges(ch Channel) error {
	for _, name := range []string{LocationExchange, StatusExchange} {
		if err := ch.ExchangeDeclare(name, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// monitorConnection swaps in a fresh connection and channel after an unclean close
func (p *FanoutPublisher) monitorConnection(conn *amqp091.Connection) {
	for {
		notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case <-p.done:
			return
		case err := <-notifyClose:
			if err == nil {
				return
			}
			log.Printf("⚠️  RabbitMQ connection lost: %v. Attempting to reconnect...", err)
		}

		backoff := 5 * time.Second
		maxBackoff := 60 * time.Second
		for {
			select {
			case <-p.done:
				return
			case <-time.After(backoff):
			}

			newConn, newCh, err := dial(p.url)
			if err != nil {
				log.Printf("❌ Reconnection failed: %v. Retrying in %v...", err, backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			p.mu.Lock()
			p.conn = newConn
			p.ch = newCh
			p.mu.Unlock()
			conn = newConn
			log.Println("✅ Successfully reconnected to RabbitMQ")
			break
		}
	}
}

// PublishFanout marshals data and publishes it to exchange
func (p *FanoutPublisher) PublishFanout(ctx context.Context, exchange string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()

	return ch.PublishWithContext(ctx,
		exchange, // exchange
		"",       // routing key (empty for fanout)
		false,    // mandatory
		false,    // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		})
}

// fanoutLocation carries the owning admin so consumers can scope events
type fanoutLocation struct {
	models.LocationUpdateEvent
	AdminID string `json:"admin_id"`
}

type fanoutStatus struct {
	models.StatusUpdateEvent
	AdminID string `json:"admin_id"`
}

func (p *FanoutPublisher) PublishLocation(ctx context.Context, ev models.LocationUpdateEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.PublishFanout(ctx, LocationExchange, fanoutLocation{ev, ev.AdminID}); err != nil {
		log.Printf("⚠️  Failed to publish location for driver %s: %v", ev.DriverID, err)
	}
}

func (p *FanoutPublisher) PublishStatus(ctx context.Context, ev models.StatusUpdateEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.PublishFanout(ctx, StatusExchange, fanoutStatus{ev, ev.AdminID}); err != nil {
		log.Printf("⚠️  Failed to publish status for driver %s: %v", ev.DriverID, err)
	}
}

// Close stops the reconnect monitor and closes the channel and connection
func (p *FanoutPublisher) Close() error {
	close(p.done)

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
