// Package ingest is the stream-consumption layer: one consumer per
// transaction-event stream (created/updated/deleted), each pulling
// entries from its Redis Stream consumer group, invoking the matching use
// case, and acknowledging on Success or Ignored. Error results stay in
// the pending list for redelivery (at-least-once).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"position-ledger/internal/metrics"
	"position-ledger/internal/model"
	"position-ledger/internal/processor"
)

// State is the lifecycle state of one stream consumer.
type State int32

const (
	StateUninitialized State = iota
	StateGroupReady
	StateConsuming
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateGroupReady:
		return "group-ready"
	case StateConsuming:
		return "consuming"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

const (
	readBatchSize     = 100
	readBlock         = 2 * time.Second
	bootstrapAttempts = 3
	maxReadFailures   = 8
)

// Consumer consumes one event stream. Entries from the same stream are
// processed serially; sibling streams run concurrently.
type Consumer struct {
	Stream string
	Group  string
	Name   string

	broker  model.StreamBroker
	handler Handler
	prom    *metrics.Metrics
	state   atomic.Int32
	backoff func(retry int) time.Duration
}

// NewConsumer creates a consumer for one stream. prom may be nil in tests.
func NewConsumer(stream, group, name string, broker model.StreamBroker, handler Handler, prom *metrics.Metrics) *Consumer {
	return &Consumer{
		Stream:  stream,
		Group:   group,
		Name:    name,
		broker:  broker,
		handler: handler,
		prom:    prom,
		backoff: calculateBackoff,
	}
}

// State returns the consumer's current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	if c.prom != nil {
		c.prom.ConsumerState.WithLabelValues(c.Stream).Set(float64(s))
	}
}

// Bootstrap idempotently ensures the stream's consumer group exists.
// "Already exists" is success; any other failure after bounded retries
// faults the consumer without touching its siblings.
func (c *Consumer) Bootstrap(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < bootstrapAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		res, err := c.broker.EnsureGroup(ctx, c.Stream, c.Group)
		if err != nil {
			lastErr = err
			log.Printf("[ingest] ensure group %s/%s attempt %d: %v", c.Stream, c.Group, attempt+1, err)
			continue
		}

		switch res {
		case model.GroupCreated:
			log.Printf("[ingest] created consumer group %s on %s", c.Group, c.Stream)
		case model.GroupAlreadyExists:
			log.Printf("[ingest] consumer group %s already exists on %s", c.Group, c.Stream)
		}
		c.setState(StateGroupReady)
		return nil
	}

	c.setState(StateFaulted)
	return fmt.Errorf("bootstrap %s: %w", c.Stream, lastErr)
}

// Run consumes entries until ctx is cancelled. An in-flight entry always
// finishes its process-persist-acknowledge cycle before the consumer
// stops; only the pull of new entries observes cancellation. Consecutive
// transient read failures beyond the ceiling escalate to Faulted.
func (c *Consumer) Run(ctx context.Context) error {
	if c.State() != StateGroupReady {
		return fmt.Errorf("consumer %s not bootstrapped (state %s)", c.Stream, c.State())
	}
	c.setState(StateConsuming)

	workCtx := context.WithoutCancel(ctx)
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entries, err := c.broker.ReadNext(ctx, c.Stream, c.Group, c.Name, readBatchSize, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if c.prom != nil {
				c.prom.ReadErrors.WithLabelValues(c.Stream).Inc()
			}
			if failures > maxReadFailures {
				c.setState(StateFaulted)
				return fmt.Errorf("consumer %s: read failures exceeded ceiling: %w", c.Stream, err)
			}
			log.Printf("[ingest] %s read error (attempt %d): %v", c.Stream, failures, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff(failures - 1)):
			}
			continue
		}
		failures = 0

		for _, entry := range entries {
			c.processEntry(workCtx, entry)
		}
	}
}

func (c *Consumer) processEntry(ctx context.Context, entry model.StreamEntry) {
	if c.prom != nil {
		c.prom.EventsConsumed.WithLabelValues(c.Stream).Inc()
	}

	if len(entry.Payload) == 0 {
		c.ackPoison(ctx, entry, "empty payload")
		return
	}

	start := time.Now()
	res := c.handler(ctx, entry.Payload)
	if c.prom != nil {
		c.prom.ProcessDur.Observe(time.Since(start).Seconds())
		c.prom.EventOutcomes.WithLabelValues(c.Stream, res.Outcome.String()).Inc()
	}

	switch {
	case res.Ackable():
		if err := c.broker.Ack(ctx, c.Stream, c.Group, entry.ID); err != nil {
			// entry stays pending and will be redelivered; the
			// idempotency guard absorbs the replay
			log.Printf("[ingest] %s ack %s failed: %v", c.Stream, entry.ID, err)
			return
		}
		if c.prom != nil {
			c.prom.AcksTotal.WithLabelValues(c.Stream).Inc()
		}
		if res.Outcome == processor.OutcomeSuccess && res.Position != nil {
			c.publishUpdate(ctx, res.Position)
		}

	case errors.Is(res.Err, ErrUndecodable):
		c.ackPoison(ctx, entry, res.Message)

	default:
		if c.prom != nil {
			c.prom.PendingRetained.WithLabelValues(c.Stream).Inc()
			c.prom.EventErrors.WithLabelValues(c.Stream, string(res.Kind)).Inc()
		}
		log.Printf("[ingest] %s entry %s failed (%s): %s, left pending for redelivery",
			c.Stream, entry.ID, res.Kind, res.Message)
	}
}

// ackPoison acknowledges an entry that can never be processed so it does
// not clog the pending list forever.
func (c *Consumer) ackPoison(ctx context.Context, entry model.StreamEntry, reason string) {
	log.Printf("[ingest] %s entry %s is poison (%s), acking away", c.Stream, entry.ID, reason)
	if c.prom != nil {
		c.prom.PoisonEntries.Inc()
	}
	if err := c.broker.Ack(ctx, c.Stream, c.Group, entry.ID); err != nil {
		log.Printf("[ingest] %s poison ack %s failed: %v", c.Stream, entry.ID, err)
	}
}

// publishUpdate pushes the new position snapshot to live subscribers.
// Best effort: a publish failure never blocks event processing.
func (c *Consumer) publishUpdate(ctx context.Context, p *model.Position) {
	channel := PositionChannel(p.Ticker)
	if err := c.broker.Publish(ctx, channel, p.JSON()); err != nil {
		log.Printf("[ingest] publish %s failed: %v", channel, err)
	}
}

// PositionChannel is the Pub/Sub channel carrying live updates for one
// ticker's position.
func PositionChannel(ticker string) string {
	return "pub:position:" + ticker
}
