package rabbitmq

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/quantonganh/bulletin"
)

var _ bulletin.QueueService = (*QueueService)(nil)

// QueueService consumes and publishes dispatch commands over AMQP
type QueueService struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewQueueService dials url and opens a channel
func NewQueueService(url string) (*QueueService, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp.Dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "conn.Channel")
	}

	return &QueueService{
		conn: conn,
		ch:   ch,
	}, nil
}

func (s *QueueService) declare(topic string) (amqp.Queue, error) {
	q, err := s.ch.QueueDeclare(
		topic,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return q, errors.Wrapf(err, "failed to declare queue %s", topic)
	}
	return q, nil
}

// Consume delivers message bodies published to topic until ctx is done
func (s *QueueService) Consume(ctx context.Context, topic string) (<-chan []byte, error) {
	q, err := s.declare(topic)
	if err != nil {
		return nil, err
	}

	deliveries, err := s.ch.Consume(
		q.Name,
		"",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to consume queue %s", topic)
	}

	messages := make(chan []byte)

	go func() {
		defer close(messages)

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Str("queue", q.Name).Msg("Delivery channel closed")
					return
				}
				select {
				case messages <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

// Publish sends body to topic
func (s *QueueService) Publish(ctx context.Context, topic string, body []byte) error {
	q, err := s.declare(topic)
	if err != nil {
		return err
	}

	err = s.ch.PublishWithContext(ctx,
		"",
		q.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}

	return nil
}

// Close closes the channel and the connection
func (s *QueueService) Close() error {
	if err := s.ch.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing AMQP channel")
	}
	return s.conn.Close()
}
