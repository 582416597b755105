package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// EventSink persists consumed lock events.
type EventSink interface {
	Insert(ctx context.Context, ev model.LockEvent) error
}

// Consumer reads the lock event queue and writes each event to the sink.
// Messages that fail to decode or persist are rejected without requeue so
// a poison message cannot spin the loop.
type Consumer struct {
	cfg  config.RabbitMQConfig
	dial DialFunc
	sink EventSink
	log  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(cfg config.RabbitMQConfig, dial DialFunc, sink EventSink, log *slog.Logger) *Consumer {
	if dial == nil {
		dial = Dial
	}
	return &Consumer{cfg: cfg, dial: dial, sink: sink, log: log}
}

func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *Consumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	backoff := minBackoff
	for {
		ch, conn, err := c.dial(c.cfg.URL)
		if err != nil {
			c.log.Warn("event consumer: broker unavailable", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		err = c.consume(ctx, ch)
		_ = ch.Close()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("event consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*minBackoff) {
			return
		}
	}
}

func (c *Consumer) consume(ctx context.Context, ch Channel) error {
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.log.Warn("event consumer: set QoS failed", "error", err)
	}
	if err := declare(ch, c.cfg.Queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.cfg.Queue)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	if err := c.handleMessage(ctx, d.Body); err != nil {
		c.log.Error("event consumer: handle message failed", "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	ev, err := decodeEvent(body)
	if err != nil {
		return err
	}
	if err := c.sink.Insert(ctx, ev); err != nil {
		return errors.Wrapf(err, "persist %s event for %s/%s", ev.Kind, ev.EventID, ev.SeatID)
	}
	return nil
}
