// Package pipeline wires C7's unified TypedEvent stream into C8's store:
// decode each event with store/decoders and apply the resulting
// PropertyUpdates, replacing the topology snapshot wholesale when the
// event is a ZoneGroupTopology NOTIFY. This is the one piece of glue code
// with no corresponding component letter of its own — every other package
// is independently testable, but something has to own the goroutine that
// drains the broker and drives the store.
package pipeline

import (
	"github.com/avandenbos/sonos-reactive/internal/broker"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
	"github.com/avandenbos/sonos-reactive/internal/store"
	"github.com/avandenbos/sonos-reactive/internal/store/decoders"
)

var log = logging.For("pipeline")

// Run drains b.Stream() until it closes, decoding each TypedEvent against
// the store's current topology and applying the result. Intended to run
// in its own goroutine for the lifetime of the process.
func Run(b *broker.Broker, s *store.Store) {
	for evt := range b.Stream() {
		current := s.Topology()

		if evt.Service == model.ServiceZoneGroupTopology && evt.ZoneGroupTopology != nil {
			next := decoders.TopologySnapshotFrom(evt.ZoneGroupTopology)
			s.SetTopology(next, model.ChangeGroupsChanged)
		}

		updates := decoders.Decode(evt, current)
		if len(updates) == 0 {
			continue
		}
		s.Apply(updates)
	}
	log.Infof("broker stream closed, pipeline stopping")
}

// LogParseFailures drains b.ParseFailures() until it closes, logging each
// one. Parse failures never reach the store; this is purely observability.
func LogParseFailures(b *broker.Broker) {
	for failure := range b.ParseFailures() {
		log.Warnf("parse failure speaker=%s service=%s: %v", failure.Speaker, failure.Service, failure.Err)
	}
}
