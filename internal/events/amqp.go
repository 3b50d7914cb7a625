package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	publishTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// AMQPPublisher publishes events to a durable topic exchange. When the broker
// closes the connection or channel it reconnects in the background; publishes
// fail fast with ErrNotConnected until it is back.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *logrus.Logger
	dial     func(url string) (*amqp.Connection, error)
	delay    time.Duration

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewAMQPPublisher(url, exchange string, log *logrus.Logger) (*AMQPPublisher, error) {
	p := newPublisher(url, exchange, log)
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func newPublisher(url, exchange string, log *logrus.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		log:      log,
		dial:     amqp.Dial,
		delay:    reconnectDelay,
		done:     make(chan struct{}),
	}
}

func (p *AMQPPublisher) connect() error {
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	if p.closed() {
		p.mu.Unlock()
		ch.Close()
		conn.Close()
		return ErrNotConnected
	}
	p.conn = conn
	p.channel = ch
	p.wg.Add(1)
	p.mu.Unlock()

	p.log.WithField("exchange", p.exchange).Info("connected to RabbitMQ")
	go p.monitor(conn, ch)
	return nil
}

func (p *AMQPPublisher) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// monitor waits for the broker to drop conn or ch, then reconnects.
func (p *AMQPPublisher) monitor(conn *amqp.Connection, ch *amqp.Channel) {
	defer p.wg.Done()
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var amqpErr *amqp.Error
	select {
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	case <-p.done:
		return
	}
	if p.closed() {
		return
	}
	entry := p.log.WithField("exchange", p.exchange)
	if amqpErr != nil {
		entry = entry.WithError(amqpErr)
	}
	entry.Error("RabbitMQ connection lost")

	p.mu.Lock()
	if p.channel == ch {
		p.channel = nil
		p.conn = nil
	}
	p.mu.Unlock()
	ch.Close()
	conn.Close()

	p.reconnect()
}

// reconnect retries connect every delay until it succeeds or the publisher is closed.
func (p *AMQPPublisher) reconnect() {
	for attempt := 1; ; attempt++ {
		select {
		case <-p.done:
			return
		case <-time.After(p.delay):
		}
		if err := p.connect(); err != nil {
			if p.closed() {
				return
			}
			p.log.WithError(err).WithField("attempt", attempt).Warn("RabbitMQ reconnect failed")
			continue
		}
		p.log.WithField("attempt", attempt).Info("reconnected to RabbitMQ")
		return
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("publish %s: %w", e.Type, ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close stops reconnecting and closes the broker connection.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	ch, conn := p.channel, p.conn
	p.channel, p.conn = nil, nil
	p.mu.Unlock()

	var err error
	if ch != nil {
		if cerr := ch.Close(); cerr != nil {
			p.log.WithError(cerr).Warn("failed to close channel")
		}
	}
	if conn != nil {
		err = conn.Close()
	}
	p.wg.Wait()
	return err
}

func encode(e Event) (amqp.Publishing, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Timestamp,
		Type:         e.Type,
		Body:         body,
	}, nil
}
