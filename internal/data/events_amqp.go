package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/biz/domain"
	"github.com/reviewharvest/review-bridge/internal/biz/repo"
)

const (
	eventProducer     = "review-bridge"
	runCompletedKey   = "campaign.run.completed"
	maxDialBackoff    = 30 * time.Second
	defaultPubTimeout = 5 * time.Second
	transitionKeyStem = "customer.status."
	transitionType    = "customer.status.changed.v1"
	runCompletedType  = "campaign.run.completed.v1"
)

// AMQPOptions configures the event publisher
type AMQPOptions struct {
	URL            string
	Exchange       string
	DialAttempts   int
	DialBaseDelay  time.Duration
	PublishTimeout time.Duration // Bounds one publish including the wait for the broker confirm
}

// EventMeta is the envelope header of every published event
type EventMeta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
}

// EventEnvelope wraps an event payload
type EventEnvelope struct {
	Meta EventMeta `json:"meta"`
	Data any       `json:"data"`
}

// TransitionEvent is the payload of a committed status change
type TransitionEvent struct {
	CustomerID int64            `json:"customer_id"`
	Name       string           `json:"name"`
	From       domain.Status    `json:"from"`
	To         domain.Status    `json:"to"`
	Sentiment  domain.Sentiment `json:"sentiment,omitempty"`
	Version    int64            `json:"version"`
	LastError  string           `json:"last_error,omitempty"`
	At         time.Time        `json:"at"`
}

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// amqpPublisher publishes campaign events to a topic exchange with publisher confirms
type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	log      *zap.Logger

	sem chan struct{} // one publish at a time; amqp channels are not safe for concurrent publishing
	ch  amqpChannel
}

func newAMQPPublisher(conn *amqp.Connection, ch amqpChannel, exchange string, timeout time.Duration, log *zap.Logger) *amqpPublisher {
	if timeout <= 0 {
		timeout = defaultPubTimeout
	}
	return &amqpPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		timeout:  timeout,
		log:      log,
		sem:      make(chan struct{}, 1),
	}
}

// NewAMQPPublisher connects, declares the exchange and enables confirms
func NewAMQPPublisher(ctx context.Context, opts AMQPOptions, log *zap.Logger) (repo.EventPublisher, error) {
	if opts.Exchange == "" {
		opts.Exchange = "review.campaign"
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("events")

	conn, err := dialWithRetry(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	log.Info("event publisher ready", zap.String("exchange", opts.Exchange))
	return newAMQPPublisher(conn, ch, opts.Exchange, opts.PublishTimeout, log), nil
}

// dialWithRetry dials with exponential backoff until the attempts run out or ctx ends
func dialWithRetry(ctx context.Context, opts AMQPOptions, log *zap.Logger) (*amqp.Connection, error) {
	attempts := opts.DialAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := opts.DialBaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info("amqp connected", zap.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := backoff(delay, i)
		log.Warn("amqp dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to amqp after %d attempts: %w", attempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > maxDialBackoff {
		return maxDialBackoff
	}
	return d
}

// PublishTransition implements repo.EventPublisher
func (p *amqpPublisher) PublishTransition(ctx context.Context, c *domain.Customer, from domain.Status) error {
	env := transitionEnvelope(c, from, time.Now().UTC())
	return p.publish(ctx, transitionRoutingKey(c.Status), env)
}

// PublishRunSummary implements repo.EventPublisher
func (p *amqpPublisher) PublishRunSummary(ctx context.Context, s *domain.RunSummary) error {
	env := summaryEnvelope(s, time.Now().UTC())
	return p.publish(ctx, runCompletedKey, env)
}

func (p *amqpPublisher) publish(ctx context.Context, key string, env EventEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("publish %s: waiting for channel: %w", key, ctx.Err())
	}
	defer func() { <-p.sem }()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         eventProducer,
		Body:          body,
	})
	if err != nil {
		p.log.Warn("publish failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", key, err)
	}
	if dc != nil {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			p.log.Warn("no broker confirm", zap.String("key", key), zap.Duration("timeout", p.timeout), zap.Error(err))
			return fmt.Errorf("confirm %s: %w", key, err)
		}
		if !acked {
			return fmt.Errorf("publish %s: broker nacked message", key)
		}
	}

	p.log.Debug("published", zap.String("key", key), zap.String("id", env.Meta.ID))
	return nil
}

// Close implements repo.EventPublisher
func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func transitionRoutingKey(status domain.Status) string {
	return transitionKeyStem + string(status)
}

func transitionEnvelope(c *domain.Customer, from domain.Status, now time.Time) EventEnvelope {
	return EventEnvelope{
		Meta: EventMeta{
			ID:            uuid.NewString(),
			CorrelationID: fmt.Sprintf("customer-%d", c.ID),
			Producer:      eventProducer,
			Type:          transitionType,
			Time:          now,
		},
		Data: TransitionEvent{
			CustomerID: c.ID,
			Name:       c.Name,
			From:       from,
			To:         c.Status,
			Sentiment:  c.Sentiment,
			Version:    c.Version,
			LastError:  c.LastError,
			At:         c.UpdatedAt,
		},
	}
}

func summaryEnvelope(s *domain.RunSummary, now time.Time) EventEnvelope {
	return EventEnvelope{
		Meta: EventMeta{
			ID:            uuid.NewString(),
			CorrelationID: s.RunID,
			Producer:      eventProducer,
			Type:          runCompletedType,
			Time:          now,
		},
		Data: s,
	}
}
