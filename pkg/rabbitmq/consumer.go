package rabbitmq

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one wallet event body. Returning false re-queues the delivery.
type Handler func(body []byte) bool

// Consumer subscribes a durable queue to wallet events on the events exchange.
// The scheduler uses it to bind wallet.balance.credited on THRESHOLD_QUEUE so that
// threshold schedules settle as soon as a deposit lands instead of on the next sweep.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// sanitizeURL cleans the URL like the producer and adds the default vhost slash.
func sanitizeURL(raw string) (string, error) {
	clean, err := sanitizeAMQPURL(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	return clean, nil
}

// NewConsumer dials RabbitMQ and opens a channel that holds at most ten unacked
// wallet events, so a slow settlement run does not pull the whole queue.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// ConsumeWithBindings declares the topic exchange and queueName, binds one routing key
// per handler and starts delivering in the background. Wallet events are re-queued when
// their handler fails, so handlers must be idempotent per event.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no wallet event bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go func() {
		for d := range msgs {
			dispatch(handlers, d, c.logger.With("component", "rabbitmq_consumer", "queue", q.Name))
		}
	}()
	return nil
}

// dispatch acks events nobody handles and re-queues events whose handler failed.
func dispatch(handlers map[string]Handler, d amqp.Delivery, logger *slog.Logger) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		logger.Warn("no handler for wallet event; dropping", "routing_key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	if handler(d.Body) {
		_ = d.Ack(false)
		return
	}
	if d.Redelivered {
		logger.Error("wallet event failed again after redelivery; re-queuing", "routing_key", d.RoutingKey, "message_id", d.MessageId)
	} else {
		logger.Warn("wallet event handler failed; re-queuing", "routing_key", d.RoutingKey, "message_id", d.MessageId)
	}
	_ = d.Nack(false, true)
}

// Close stops deliveries and drops the connection. Unacked events return to the queue.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
