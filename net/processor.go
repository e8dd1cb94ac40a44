package net

import (
	"context"
	"math"
	"time"

	"github.com/d4xyjen/jedi/log"
	"github.com/d4xyjen/jedi/metrics"
)

const processorIdleDelay = 10 * time.Millisecond

// SessionEventProcessor is the single consumer of the event queue. It runs every
// handler dispatch, so per-session order is the order the receive loop saw.
type SessionEventProcessor struct {
	factory    *SessionFactory
	dispatcher *Dispatcher
	events     *SessionEventQueue
}

func NewSessionEventProcessor(factory *SessionFactory, dispatcher *Dispatcher) *SessionEventProcessor {
	return &SessionEventProcessor{
		factory:    factory,
		dispatcher: dispatcher,
		events:     factory.Events(),
	}
}

// Run drains the queue in batches until ctx ends, then drops what is left.
func (p *SessionEventProcessor) Run(ctx context.Context) error {
	log.Info().Msg("session event processor started")
	defer func() {
		p.events.Clear()
		log.Info().Msg("session event processor stopped")
	}()

	timer := time.NewTimer(processorIdleDelay)
	defer timer.Stop()
	for {
		n := p.ProcessBatch(ctx)
		metrics.UpdateGaugeWithGroup("net", "event_queue_length", metrics.Value(p.events.Len()))
		if n > 0 {
			metrics.ObserveHistogramWithGroup("net", "event_batch_size", metrics.Value(n))
		}

		timer.Reset(processorIdleDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

func (p *SessionEventProcessor) batchLimit() int {
	cfg := p.factory.Cfg()
	if !cfg.ThrottlingEnabled {
		return math.MaxInt
	}
	return cfg.ThrottlingLimit
}

// ProcessBatch handles queued events up to the throttling limit and returns how
// many it handled.
func (p *SessionEventProcessor) ProcessBatch(ctx context.Context) int {
	limit := p.batchLimit()
	n := 0
	for n < limit && ctx.Err() == nil {
		e, ok := p.events.Peek()
		if !ok {
			break
		}
		p.process(ctx, e)
		p.events.Pop()
		n++
	}
	return n
}

func (p *SessionEventProcessor) process(ctx context.Context, e SessionEvent) {
	switch e.Type {
	case SessionEventStart:
		log.Debug().Str("session", e.SessionID.String()).Msg("session started")
	case SessionEventMessage:
		command, ok := GetCommand(e.Payload)
		if !ok {
			log.Warn().Str("session", e.SessionID.String()).Int("size", len(e.Payload)).
				Err(ErrProtocolViolation).Msg("message without command")
			p.factory.Destroy(e.SessionID)
			return
		}
		p.dispatcher.DeserializeAndHandle(ctx, command, e.SessionID, e.Payload[CommandSize:])
	case SessionEventDestroy:
		p.factory.Destroy(e.SessionID)
	default:
		log.Error().Str("session", e.SessionID.String()).Str("type", e.Type.String()).Msg("unknown session event")
	}
}
