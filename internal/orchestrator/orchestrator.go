// Package orchestrator manages the set of live stream runners.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantevo/vortexbot/internal/config"
	"github.com/quantevo/vortexbot/internal/runner"
)

// Stream is the lifecycle surface of one stream runner.
// *runner.StreamRunner is the production implementation.
type Stream interface {
	Key() string
	Start() error
	Stop()
	Status() runner.Status
	Subscribe(chan runner.Update)
	Unsubscribe(chan runner.Update)
}

// Factory builds a stream runner for a (symbol, timeframe) pair.
type Factory func(symbol, timeframe string) Stream

// Orchestrator keys runners by symbol|timeframe and fans global subscribers
// out to every current and future runner.
type Orchestrator struct {
	factory Factory

	mu          sync.RWMutex
	runners     map[string]Stream
	subscribers map[chan runner.Update]struct{}
}

// New creates an orchestrator using factory to build runners on demand.
func New(factory Factory) *Orchestrator {
	return &Orchestrator{
		factory:     factory,
		runners:     make(map[string]Stream),
		subscribers: make(map[chan runner.Update]struct{}),
	}
}

func streamKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// StartStream creates (or reuses) and starts the runner for symbol/timeframe.
func (o *Orchestrator) StartStream(symbol, timeframe string) error {
	key := streamKey(symbol, timeframe)

	o.mu.Lock()
	s, ok := o.runners[key]
	if !ok {
		s = o.factory(symbol, timeframe)
		o.runners[key] = s
		for ch := range o.subscribers {
			s.Subscribe(ch)
		}
	}
	o.mu.Unlock()

	if err := s.Start(); err != nil {
		return fmt.Errorf("start stream %s: %w", key, err)
	}
	return nil
}

// StopStream stops and removes the runner for symbol/timeframe.
func (o *Orchestrator) StopStream(symbol, timeframe string) error {
	key := streamKey(symbol, timeframe)

	o.mu.Lock()
	s, ok := o.runners[key]
	if ok {
		delete(o.runners, key)
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("stream %s not running", key)
	}
	s.Stop()
	return nil
}

// StartAll starts every stream in the matrix. A failing stream is logged and
// skipped; siblings keep starting. Returns the number of streams running.
func (o *Orchestrator) StartAll(streams []config.Stream) int {
	started := 0
	for _, st := range streams {
		if err := o.StartStream(st.Symbol, st.Timeframe); err != nil {
			log.Error().Err(err).
				Str("symbol", st.Symbol).
				Str("timeframe", st.Timeframe).
				Msg("stream failed to start")
			continue
		}
		started++
	}
	log.Info().Int("started", started).Int("configured", len(streams)).Msg("🎛️ Streams started")
	return started
}

// StopAll stops every runner in parallel and clears the registry.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	stopping := make([]Stream, 0, len(o.runners))
	for _, s := range o.runners {
		stopping = append(stopping, s)
	}
	o.runners = make(map[string]Stream)
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range stopping {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()

	log.Info().Int("stopped", len(stopping)).Msg("🎛️ All streams stopped")
}

// Runner returns the live runner for symbol/timeframe, if any.
func (o *Orchestrator) Runner(symbol, timeframe string) (Stream, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.runners[streamKey(symbol, timeframe)]
	return s, ok
}

// Statuses snapshots every live runner.
func (o *Orchestrator) Statuses() []runner.Status {
	o.mu.RLock()
	streams := make([]Stream, 0, len(o.runners))
	for _, s := range o.runners {
		streams = append(streams, s)
	}
	o.mu.RUnlock()

	out := make([]runner.Status, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Status())
	}
	return out
}

// Subscribe attaches ch to every current runner and to runners created
// later.
func (o *Orchestrator) Subscribe(ch chan runner.Update) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers[ch] = struct{}{}
	for _, s := range o.runners {
		s.Subscribe(ch)
	}
}

// Unsubscribe detaches ch everywhere.
func (o *Orchestrator) Unsubscribe(ch chan runner.Update) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subscribers, ch)
	for _, s := range o.runners {
		s.Unsubscribe(ch)
	}
}
