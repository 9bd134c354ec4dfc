package service

import (
	"github.com/rs/zerolog/log"

	"github.com/jask/coopledger/internal/events"
)

// publish sends a domain event after the owning transaction has committed.
// Failures are logged and swallowed: the journal is the source of truth and
// a missed event never unwinds a posting.
func publish(p events.Publisher, topic string, event any) {
	if p == nil {
		return
	}
	if err := p.Publish(topic, event); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
	}
}
