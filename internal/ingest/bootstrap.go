package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrNoConsumers is returned when every stream's bootstrap failed.
var ErrNoConsumers = errors.New("no stream consumer bootstrapped")

// Orchestrator bootstraps all stream consumers and runs the ones whose
// bootstrap succeeded. One stream failing its group creation does not
// stop its siblings: a partially degraded position feed beats a dead one.
// Only the total absence of consumers is surfaced as an error.
type Orchestrator struct {
	consumers []*Consumer
}

// NewOrchestrator creates an orchestrator over the given consumers.
func NewOrchestrator(consumers ...*Consumer) *Orchestrator {
	return &Orchestrator{consumers: consumers}
}

// Run bootstraps every consumer, starts the successful ones, and blocks
// until ctx is cancelled and all consumers have returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	var started []*Consumer
	for _, c := range o.consumers {
		if err := c.Bootstrap(ctx); err != nil {
			log.Printf("[ingest] stream %s bootstrap failed, continuing with siblings: %v", c.Stream, err)
			continue
		}
		started = append(started, c)
	}

	if len(started) == 0 {
		return ErrNoConsumers
	}
	log.Printf("[ingest] starting %d/%d stream consumers", len(started), len(o.consumers))

	var wg sync.WaitGroup
	for _, c := range started {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Printf("[ingest] consumer %s stopped: %v", c.Stream, err)
			}
		}(c)
	}
	wg.Wait()
	return nil
}

// States returns the current state of every managed consumer, keyed by
// stream name. Used by health endpoints.
func (o *Orchestrator) States() map[string]State {
	states := make(map[string]State, len(o.consumers))
	for _, c := range o.consumers {
		states[c.Stream] = c.State()
	}
	return states
}
