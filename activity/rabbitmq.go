package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the part of *amqp.Channel the publisher needs.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Publisher = (*RabbitPublisher)(nil)

// RabbitPublisher sends entries to a durable queue as persistent JSON messages.
type RabbitPublisher struct {
	channel AMQPChannel
	queue   string
	timeout time.Duration
}

// NewRabbitPublisher declares queue on channel and returns a publisher for it.
func NewRabbitPublisher(channel AMQPChannel, queue string) (*RabbitPublisher, error) {
	if _, err := channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		return nil, errors.Wrap(err, "[NewRabbitPublisher] queue declare")
	}
	return &RabbitPublisher{channel: channel, queue: queue, timeout: 5 * time.Second}, nil
}

// DialRabbit opens a connection and channel to url.
func DialRabbit(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[DialRabbit] dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "[DialRabbit] open channel")
	}
	return conn, ch, nil
}

func (rp *RabbitPublisher) Publish(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "[RabbitPublisher Publish] marshal")
	}
	ctx, cancel := context.WithTimeout(ctx, rp.timeout)
	defer cancel()

	return errors.Wrap(rp.channel.PublishWithContext(ctx,
		"",       // default exchange
		rp.queue, // routing key = queue name
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    entry.ID,
			Timestamp:    entry.Timestamp.UTC(),
			Type:         entry.Action,
			Body:         body,
		},
	), "[RabbitPublisher Publish]")
}
