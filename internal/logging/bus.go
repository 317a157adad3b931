package logging

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Publisher delivers one encoded log entry to an event bus.
type Publisher interface {
	Publish(ctx context.Context, entry []byte) error
	Close() error
}

// Bus forwards log entries to a Publisher from its own goroutine. Entries
// are dropped when the queue is full or a publish fails; nothing is ever
// reported back to the logging call site.
type Bus struct {
	pub     Publisher
	timeout time.Duration
	queue   chan []byte
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus starts a bus subscriber. timeout bounds each publish acknowledgement.
func NewBus(pub Publisher, queueSize int, timeout time.Duration) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	b := &Bus{
		pub:     pub,
		timeout: timeout,
		queue:   make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Offer queues entry for publishing without blocking.
func (b *Bus) Offer(entry []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.queue <- bytes.TrimRight(entry, "\n"):
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for entry := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.pub.Publish(ctx, entry); err != nil {
			b.dropped.Add(1)
		} else {
			b.published.Add(1)
		}
		cancel()
	}
}

// Close publishes what is already queued and closes the publisher.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
	return b.pub.Close()
}

// BusStats is a point-in-time summary of bus delivery.
type BusStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns delivery counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// NewPublisher creates a publisher for the given bus type ("amqp" or "redis").
func NewPublisher(kind, url, topic, exchange string) (Publisher, error) {
	switch kind {
	case "amqp":
		return NewAMQPPublisher(url, exchange, topic), nil
	case "redis":
		return NewRedisPublisher(url, topic)
	default:
		return nil, fmt.Errorf("logging: unknown bus type %q", kind)
	}
}

const amqpDialTimeout = 30 * time.Second

// AMQPPublisher publishes entries to an exchange with publisher confirms.
// The connection is dialed lazily and re-dialed after a failed publish.
type AMQPPublisher struct {
	url        string
	exchange   string
	routingKey string

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewAMQPPublisher creates an AMQP publisher. No connection is made yet.
func NewAMQPPublisher(url, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// Publish sends entry and waits for the broker acknowledgement until ctx ends.
func (p *AMQPPublisher) Publish(ctx context.Context, entry []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.dial(ctx); err != nil {
			return err
		}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        entry,
		},
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("amqp: publish failed: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp: confirm failed: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp: message nacked")
	}
	return nil
}

// dial connects within ctx's deadline, covering both the TCP connect and
// the AMQP handshake.
func (p *AMQPPublisher) dial(ctx context.Context) error {
	p.reset()

	timeout := amqpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return fmt.Errorf("amqp: connect failed: %w", context.DeadlineExceeded)
	}

	conn, err := amqp091.DialConfig(p.url, amqp091.Config{
		Locale: "en_US",
		Dial:   amqp091.DefaultDial(timeout),
	})
	if err != nil {
		return fmt.Errorf("amqp: connect failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: channel failed: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: confirm mode failed: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close shuts down the AMQP connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// RedisPublisher publishes entries on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher from a redis:// URL.
func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	return &RedisPublisher{
		client:  redis.NewClient(opts),
		channel: channel,
	}, nil
}

// Publish sends entry to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, entry []byte) error {
	return p.client.Publish(ctx, p.channel, entry).Err()
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
