package dispatch

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"surveySync/internal/metrics"
	"surveySync/internal/model"
)

// HandlerFunc reconciles one decoded event. A returned error aborts the batch.
type HandlerFunc func(ctx context.Context, event model.DecodedEvent) error

// Dispatcher routes decoded events to handlers by event kind.
type Dispatcher struct {
	routes map[model.EventKind]HandlerFunc
	logger *zap.Logger
}

func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		routes: make(map[model.EventKind]HandlerFunc),
		logger: logger,
	}
}

// Register binds handler to kind, replacing any previous binding.
func (d *Dispatcher) Register(kind model.EventKind, handler HandlerFunc) {
	d.routes[kind] = handler
}

// Kinds returns the registered event kinds in name order.
func (d *Dispatcher) Kinds() []model.EventKind {
	kinds := make([]model.EventKind, 0, len(d.routes))
	for kind := range d.routes {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch invokes the handler registered for the event's kind.
// Events with no registered handler are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.DecodedEvent) error {
	handler, ok := d.routes[event.Kind]
	if !ok {
		d.logger.Debug("no handler for event", zap.String("kind", string(event.Kind)), zap.Uint64("block", event.BlockNumber))
		return nil
	}
	if err := handler(ctx, event); err != nil {
		return err
	}
	metrics.EventDispatchedInc(string(event.Kind))
	return nil
}
