package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ride-dispatch/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConnected = errors.New("rabbitmq: not connected")

// Publish sends a persistent JSON message and waits for the broker confirm.
func (client *Client) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	// marshal payload
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal payload: %w", err)
	}

	// snapshot the current publishing channel
	client.mu.RLock()
	ch := client.pubChan
	client.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	// serialize publishes so confirms match their message
	client.pubMu.Lock()
	defer client.pubMu.Unlock()

	confirms := client.pubConfirms
	if confirms == nil {
		return ErrNotConnected
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s/%s: %w", exchange, routingKey, err)
	}

	// wait for the broker ack
	select {
	case <-ctx.Done():
		return ctx.Err()
	case confirmation, ok := <-confirms:
		if !ok {
			return ErrNotConnected
		}
		if !confirmation.Ack {
			return fmt.Errorf("rabbitmq: broker nacked publish %s/%s", exchange, routingKey)
		}
	}

	return nil
}

// PublishTripStatus emits a trip status transition on the topic exchange.
func (client *Client) PublishTripStatus(ctx context.Context, msg contracts.TripStatusMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	routingKey := contracts.RouteTripStatusPrefix + msg.Status
	return client.Publish(ctx, contracts.ExchangeTripTopic, routingKey, msg)
}

// PublishLocation fans out a captain position ping.
func (client *Client) PublishLocation(ctx context.Context, msg contracts.LocationMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return client.Publish(ctx, contracts.ExchangeLocationFanout, "", msg)
}
