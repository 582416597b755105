package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// ErrBufferFull is returned by Publish when the outbound buffer is full and
// the event was dropped.
var ErrBufferFull = errors.New("lock event buffer full")

// Publisher sends lock events to RabbitMQ from a single background
// goroutine.  Publish only enqueues into a bounded buffer so the lock path
// never waits on the broker; events are dropped, and counted, when the
// broker falls behind.
type Publisher struct {
	cfg     config.RabbitMQConfig
	dial    DialFunc
	metrics *metrics.Metrics
	log     *slog.Logger

	buf   chan model.LockEvent
	retry *amqp.Publishing

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPublisher(cfg config.RabbitMQConfig, dial DialFunc, m *metrics.Metrics, log *slog.Logger) *Publisher {
	if dial == nil {
		dial = Dial
	}
	size := cfg.Buffer
	if size <= 0 {
		size = 1024
	}
	return &Publisher{
		cfg:     cfg,
		dial:    dial,
		metrics: m,
		log:     log,
		buf:     make(chan model.LockEvent, size),
	}
}

// Publish queues ev for delivery.
func (p *Publisher) Publish(_ context.Context, ev model.LockEvent) error {
	select {
	case p.buf <- ev:
		return nil
	default:
		p.metrics.PublishDropped.Inc()
		return errors.Wrapf(ErrBufferFull, "drop %s event for %s/%s", ev.Kind, ev.EventID, ev.SeatID)
	}
}

// Start launches the delivery loop.
func (p *Publisher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop ends the delivery loop.  Events still buffered are discarded.
func (p *Publisher) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	if n := len(p.buf); n > 0 {
		p.log.Warn("lock events discarded on shutdown", "count", n)
	}
}

func (p *Publisher) run(ctx context.Context) {
	backoff := minBackoff
	for {
		ch, conn, err := p.dial(p.cfg.URL)
		if err != nil {
			p.log.Warn("event publisher: broker unavailable", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		err = p.pump(ctx, ch)
		_ = ch.Close()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("event publisher: channel lost, reconnecting", "error", err)
		if !sleep(ctx, 2*minBackoff) {
			return
		}
	}
}

// pump publishes buffered events until ctx ends or the channel fails.  A
// message that failed to publish is kept and sent first after reconnect.
func (p *Publisher) pump(ctx context.Context, ch Channel) error {
	if err := declare(ch, p.cfg.Queue); err != nil {
		return err
	}
	if p.retry != nil {
		if err := p.send(ctx, ch, *p.retry); err != nil {
			return err
		}
		p.retry = nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.buf:
			msg, err := encodeEvent(ev)
			if err != nil {
				p.log.Error("event publisher: encode failed", "kind", ev.Kind, "error", err)
				continue
			}
			if err := p.send(ctx, ch, msg); err != nil {
				p.retry = &msg
				return err
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, ch Channel, msg amqp.Publishing) error {
	err := ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, msg)
	return errors.Wrapf(err, "publish to %s", p.cfg.Queue)
}
