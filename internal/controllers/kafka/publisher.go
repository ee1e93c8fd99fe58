package kafkactrl

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

type Config struct {
	DeviceID string
	Brokers  []string
	Topic    string

	// Every publishes one tick out of Every.
	Every int
	// QueueSize bounds the ticks waiting for the writer. Ticks beyond it are dropped.
	QueueSize    int
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams tick results to a Kafka topic. It is a simulator.TickSink;
// OnTick never blocks the simulation.
type Publisher struct {
	cfg    Config
	w      messageWriter
	queue  chan simulator.TickResult
	seen   atomic.Uint64
	drops  atomic.Uint64
	writes atomic.Uint64
}

func New(cfg Config) (*Publisher, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("kafka: DeviceID is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "pvmocktat.ticks"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(cfg, w), nil
}

func newPublisher(cfg Config, w messageWriter) *Publisher {
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Publisher{cfg: cfg, w: w, queue: make(chan simulator.TickResult, cfg.QueueSize)}
}

func (p *Publisher) OnTick(r simulator.TickResult) {
	if n := p.seen.Add(1); (n-1)%uint64(p.cfg.Every) != 0 {
		return
	}
	select {
	case p.queue <- r:
	default:
		if d := p.drops.Add(1); d == 1 || d%100 == 0 {
			klog.InfoS("Kafka queue full, dropping ticks", "topic", p.cfg.Topic, "dropped", d)
		}
	}
}

// Dropped is the number of ticks discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.drops.Load() }

// Written is the number of ticks successfully delivered.
func (p *Publisher) Written() uint64 { return p.writes.Load() }

// Run drains the queue until ctx is cancelled, then closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.w.Close(); err != nil {
			klog.ErrorS(err, "Failed to close kafka writer")
		}
	}()
	klog.InfoS("Kafka publisher started", "brokers", p.cfg.Brokers, "topic", p.cfg.Topic, "every", p.cfg.Every)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-p.queue:
			if err := p.publish(ctx, r); err != nil && ctx.Err() == nil {
				klog.ErrorS(err, "Kafka write failed", "topic", p.cfg.Topic, "seq", r.Seq)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, r simulator.TickResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	err = p.w.WriteMessages(wctx, kafka.Message{Key: []byte(p.cfg.DeviceID), Value: b, Time: r.Time})
	if err != nil {
		return err
	}
	p.writes.Add(1)
	klog.V(3).InfoS("Published tick", "seq", r.Seq, "topic", p.cfg.Topic)
	return nil
}
