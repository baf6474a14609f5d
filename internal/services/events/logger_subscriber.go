package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs workflow events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug()
		switch event.Type {
		case interfaces.EventStageFailed, interfaces.EventStallEscalated, interfaces.EventRunFailed:
			logEvent = logger.Warn()
		case interfaces.EventRunCompleted, interfaces.EventBatchCompleted:
			logEvent = logger.Info()
		}

		logEvent = logEvent.Str("event_type", string(event.Type))
		for _, field := range []string{"run_id", "key", "stage", "state", "kind", "method"} {
			if v, ok := event.Payload[field]; ok {
				logEvent = logEvent.Str(field, fmt.Sprintf("%v", v))
			}
		}
		if attempt, ok := event.Payload["attempt"].(int); ok {
			logEvent = logEvent.Int("attempt", attempt)
		}

		logEvent.Msg("Workflow event")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all workflow event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := interfaces.AllEventTypes()
	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
