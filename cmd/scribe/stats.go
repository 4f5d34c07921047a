package main

import (
	"github.com/snarg/scribe/internal/events"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/synth"
)

// liveStats adapts the running components to metrics.LiveStats.
type liveStats struct {
	gateway *relay.Gateway
	synth   *synth.Synthesizer
	events  *events.EventBus
}

func (s liveStats) ActivePairs() int        { return s.gateway.Active() }
func (s liveStats) SynthPending() int       { return s.synth.Stats().Pending }
func (s liveStats) SSESubscriberCount() int { return s.events.SubscriberCount() }
