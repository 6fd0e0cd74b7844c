package runtime

import (
	"log/slog"
	"sync"
)

// Event is one lifecycle notification broadcast on the Bus. The runtime
// publishes these kinds: run:start/end, step:start/end, row:drop,
// plugin:error, candidate:produced, candidate:regenerated, judge:chose,
// error. Data carries kind-specific payload.
type Event struct {
	Kind string
	Data map[string]any
}

// Handler receives broadcast events. A handler must not panic; if it does,
// the Bus recovers and logs rather than letting the panic propagate to the
// emitter, per spec §4.7 ("handlers must not throw; the bus catches and
// logs").
type Handler func(Event)

// Bus is a synchronous, in-process publish-subscribe broadcaster. The
// teacher's equivalent (module/workflow_events.go's WorkflowEventEmitter)
// publishes to a cross-process event bus module
// (CrisisTextLine/modular/modules/eventbus); this module replaces that
// with a simpler in-process primitive since nothing here needs
// durable/cross-process delivery — see DESIGN.md.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	logger   *slog.Logger
}

// NewBus creates a Bus. A nil logger falls back to slog.Default(), matching
// the teacher's "logger or slog.Default()" idiom.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler. Handlers are invoked in registration order.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish broadcasts an event synchronously to every subscriber. A
// panicking handler is recovered and logged; it never breaks the run or
// blocks remaining handlers.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observability handler panicked", "event", evt.Kind, "recovered", r)
		}
	}()
	h(evt)
}
