package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. Returning an error nacks the message with
// requeue=false (topology should route rejects to a DLQ when one is bound).
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume opens a dedicated channel and processes the queue until ctx is
// cancelled. It survives channel/connection drops by waiting for the client's
// reconnect watcher and reopening.
func (client *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.closed:
			return ErrNotConnected
		default:
		}

		err := client.consumeOnce(ctx, queue, handler)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		client.logger.Error(client.logCtx, "rabbitmq_consume_restart",
			fmt.Sprintf("Consumer for queue %s stopped, restarting", queue), err, nil)

		// give the reconnect watcher a beat before reopening
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (client *Client) consumeOnce(ctx context.Context, queue string, handler Handler) error {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}
	defer ch.Close()

	// one unacked message at a time keeps handlers strictly ordered
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq: delivery stream for %s closed", queue)
			}

			if err := handler(ctx, d); err != nil {
				client.logger.Error(ctx, "rabbitmq_handler_failed",
					fmt.Sprintf("Handler for queue %s failed", queue), err, map[string]any{
						"routingKey": d.RoutingKey,
					})
				_ = d.Nack(false, false)
				continue
			}

			_ = d.Ack(false)
		}
	}
}
