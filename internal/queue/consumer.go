package queue

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StartEmailConsumer connects to RabbitMQ, declares the email.requested
// queue (durable), and starts consuming messages. Each event is handed to
// the mail worker, which in this deployment records the delivery request;
// actual SMTP dispatch happens in the separate notification system. The
// function runs a reconnect loop with capped backoff and keeps the server
// operating through broker outages.
func StartEmailConsumer(log *zap.Logger) error {
	url := brokerURL()

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("email-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, log); err != nil {
			log.Warn("email-consumer: consume loop ended, reconnecting", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func consumeLoop(conn *amqp.Connection, log *zap.Logger) error {
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(emailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(emailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for msg := range msgs {
		var event EmailRequestedEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			log.Warn("email-consumer: bad payload, dropping", zap.Error(err))
			_ = msg.Nack(false, false)
			continue
		}
		log.Info("email delivery requested",
			zap.String("to", event.To),
			zap.String("template", event.Template),
			zap.String("requested_at", event.RequestedAt))
		_ = msg.Ack(false)
	}
	return fmt.Errorf("delivery channel closed")
}
