package sink

import (
	"context"

	"github.com/shortontech/cloakgate/internal/event"
)

// Sink persists decision events. Enqueue may be called from several
// reporter workers at once.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.Event) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
