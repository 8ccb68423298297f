package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

// amqpChannel часть *amqp.Channel, нужная очереди.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitEnrichmentQueue публикует задачи в durable-очередь RabbitMQ через default exchange.
// Дедупликацию выполняет dedup: публикуются только впервые поставленные треки.
type RabbitEnrichmentQueue struct {
	conn  *amqp.Connection
	queue string
	dedup domain.EnrichmentQueue

	mu sync.Mutex
	ch amqpChannel
}

var _ domain.EnrichmentQueue = (*RabbitEnrichmentQueue)(nil)

// NewRabbitEnrichmentQueue подключается к брокеру и объявляет очередь.
func NewRabbitEnrichmentQueue(amqpURL, queue string, dedup domain.EnrichmentQueue) (*RabbitEnrichmentQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := newRabbitQueue(ch, queue, dedup)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newRabbitQueue(ch amqpChannel, queue string, dedup domain.EnrichmentQueue) (*RabbitEnrichmentQueue, error) {
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if dedup == nil {
		return nil, errors.New("dedup store is nil")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitEnrichmentQueue{queue: queue, dedup: dedup, ch: ch}, nil
}

// EnqueueIfAbsent публикует задачу, если dedup видит трек впервые.
func (q *RabbitEnrichmentQueue) EnqueueIfAbsent(ctx context.Context, platform, platformID string) (bool, error) {
	fresh, err := q.dedup.EnqueueIfAbsent(ctx, platform, platformID)
	if err != nil || !fresh {
		return false, err
	}
	job := domain.EnrichmentJob{
		ID:         uuid.NewString(),
		Platform:   platform,
		PlatformID: platformID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, job); err != nil {
		return true, err
	}
	return true, nil
}

func (q *RabbitEnrichmentQueue) publish(ctx context.Context, job domain.EnrichmentJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         payload,
	}
	start := time.Now()
	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitEnrichmentQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.Close()
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
	}
	return err
}
