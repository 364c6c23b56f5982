package ingesttransport

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPTransport consumes model packages from a RabbitMQ queue, adapted
// from the teacher's RabbitMQQueue: the same connection/channel setup
// and ack/nack discipline, but feeding a channel instead of invoking a
// handler inline.
type AMQPTransport struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
	out     chan []byte
}

// NewAMQPTransport dials url and declares no topology of its own — the
// queue named by queueName is expected to already exist, declared by
// whatever deploys the ingest broker.
func NewAMQPTransport(url, queueName string, logger *zap.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ingesttransport: connecting to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingesttransport: opening channel: %w", err)
	}

	return &AMQPTransport{
		conn:    conn,
		channel: ch,
		queue:   queueName,
		logger:  logger,
		out:     make(chan []byte, 64),
	}, nil
}

func (t *AMQPTransport) Packages() <-chan []byte { return t.out }

func (t *AMQPTransport) Run(ctx context.Context) error {
	msgs, err := t.channel.Consume(t.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("ingesttransport: registering consumer: %w", err)
	}

	defer close(t.out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			select {
			case t.out <- msg.Body:
				msg.Ack(false)
			case <-ctx.Done():
				msg.Nack(false, true)
				return nil
			}
		}
	}
}

func (t *AMQPTransport) Close() error {
	if err := t.channel.Close(); err != nil {
		return fmt.Errorf("ingesttransport: closing channel: %w", err)
	}
	return t.conn.Close()
}
