package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultAMQPQueue = "litshelf.notifications"

// AMQP publishes intents as persistent JSON messages to a durable RabbitMQ
// queue for an external delivery worker. The connection is opened lazily
// and re-dialled after a failure.
type AMQP struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP builds a publisher. queue defaults to DefaultAMQPQueue.
func NewAMQP(url, queue string) (*AMQP, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultAMQPQueue
	}
	return &AMQP{url: url, queue: queue}, nil
}

func (a *AMQP) Notify(ctx context.Context, intent Intent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channelLocked()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    intent.ID,
		Type:         string(intent.Kind),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", a.queue, false, false, pub); err != nil {
		a.resetLocked()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close shuts the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.ch != nil {
		err = a.ch.Close()
	}
	if a.conn != nil {
		if cerr := a.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.ch, a.conn = nil, nil
	return err
}

func (a *AMQP) channelLocked() (*amqp.Channel, error) {
	if a.ch != nil && !a.ch.IsClosed() {
		return a.ch, nil
	}
	a.resetLocked()
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	a.conn, a.ch = conn, ch
	return ch, nil
}

func (a *AMQP) resetLocked() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.ch, a.conn = nil, nil
}
