package session

import (
	"context"

	"github.com/benvon/community-portal/internal/models"
)

// Sinks fans events out to every sink in order. Nil entries are skipped.
type Sinks []EventSink

// Record implements EventSink.
func (s Sinks) Record(ctx context.Context, event models.SessionEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}
