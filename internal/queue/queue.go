package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

const (
	TestQueueName = "validate_tests"
	ExchangeName  = "testmatrix"
)

// TestMessage is the body of one dispatched test
type TestMessage struct {
	RunID string          `json:"run_id"`
	Test  models.TestSpec `json:"test"`
}

// Queue dispatches generated tests to runners
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
}

// New creates a new queue client
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		TestQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": int32(MaxPriority)},
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		TestQueueName,
		TestQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Queue{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// MaxPriority is the highest message priority
const MaxPriority = 10

// priorityFor orders cheap tests first: media checks, then plain launches,
// then tests needing a companion server or an encoder.
func priorityFor(spec *models.TestSpec) uint8 {
	switch spec.Kind {
	case models.TestKindMediaCheck:
		return MaxPriority
	case models.TestKindLaunch, models.TestKindSimple:
		return 5
	default:
		return 1
	}
}

func newPublishing(msg *TestMessage, headers amqp.Table) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal test: %w", err)
	}

	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-run-id"] = msg.RunID
	headers["x-classname"] = msg.Test.Classname

	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		Priority:     priorityFor(&msg.Test),
		Headers:      headers,
	}, nil
}

func decodeMessage(body []byte) (*TestMessage, error) {
	var msg TestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test: %w", err)
	}
	if msg.Test.Classname == "" {
		return nil, fmt.Errorf("message has no test classname")
	}
	return &msg, nil
}

// PublishTest publishes one test to the queue
func (q *Queue) PublishTest(ctx context.Context, msg *TestMessage) error {
	publishing, err := newPublishing(msg, nil)
	if err != nil {
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		TestQueueName,
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("failed to publish test: %w", err)
	}

	return nil
}

// PublishRun publishes every runnable test of a manifest in order and
// returns how many were dispatched. Skipped tests are never dispatched.
func (q *Queue) PublishRun(ctx context.Context, manifest *models.Manifest) (int, error) {
	published := 0
	for _, spec := range manifest.Tests {
		if spec.Skip {
			continue
		}
		if err := q.PublishTest(ctx, &TestMessage{RunID: manifest.RunID, Test: spec}); err != nil {
			return published, fmt.Errorf("%s: %w", spec.Classname, err)
		}
		published++
	}

	q.logger.WithRunID(manifest.RunID).Infof("Dispatched %d tests", published)
	return published, nil
}

// ConsumeTests starts consuming tests from the queue
func (q *Queue) ConsumeTests(ctx context.Context, handler func(*TestMessage) error) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		TestQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				test, err := decodeMessage(msg.Body)
				if err != nil {
					q.logger.WithError(err).Warn("Dropping malformed test message")
					msg.Nack(false, false)
					continue
				}

				if err := handler(test); err != nil {
					retries := retryCount(msg.Headers)
					if err := q.PublishToRetryQueue(ctx, test, retries); err != nil {
						q.logger.WithTest(test.Test.Classname).WithError(err).Error("Failed to requeue test")
						msg.Nack(false, true)
						continue
					}
				}
				msg.Ack(false)
			}
		}
	}()

	return nil
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(TestQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
