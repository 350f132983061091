package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"warimas-pos/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the part of *amqp.Channel the relay uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPRelay republishes bus messages to a topic exchange so displays on other
// devices can follow a cart. The routing key is the context key.
type AMQPRelay struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
}

// DialAMQPRelay connects to the broker and declares the exchange.
func DialAMQPRelay(url, exchange string) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	r, err := NewAMQPRelay(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.conn = conn
	return r, nil
}

func NewAMQPRelay(ch Channel, exchange string) (*AMQPRelay, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPRelay{ch: ch, exchange: exchange}, nil
}

// Publish sends one message. Failures are logged and the message dropped,
// the same as a bus message with no listener.
func (r *AMQPRelay) Publish(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	err = r.ch.PublishWithContext(ctx, r.exchange, m.ContextKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    m.ID,
		Timestamp:    m.SentAt,
		Type:         string(m.Kind),
		Body:         body,
	})
	if err != nil {
		logger.FromCtx(ctx).Warn("amqp relay publish failed",
			zap.String("layer", "broadcast"),
			zap.String("context_key", m.ContextKey),
			zap.String("kind", string(m.Kind)),
			zap.Error(err),
		)
	}
	return err
}

// Run relays every message of sub until it closes or ctx is done.
func (r *AMQPRelay) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			_ = r.Publish(ctx, m)
		}
	}
}

func (r *AMQPRelay) Close() error {
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
