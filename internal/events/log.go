package events

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the application log. It is the default when
// no brokers are configured.
type LogPublisher struct{}

func (LogPublisher) Publish(topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	log.Info().Str("topic", topic).RawJSON("event", data).Msg("event published")
	return nil
}
