package controller

import (
	"go.uber.org/zap"
)

// EventName identifies one of the Controller's named events.
type EventName string

const (
	EventDecision    EventName = "decision"
	EventAlert       EventName = "alert"
	EventRollback    EventName = "rollback"
	EventBeforeAction EventName = "beforeAction"
	EventAfterAction  EventName = "afterAction"
)

const maxHandlersPerEvent = 100

// Veto is the sentinel a beforeAction handler returns to short-circuit a
// pending apply.
const Veto = "veto"

// Handler is invoked on Emit with the event payload; returning Veto
// short-circuits remaining handlers and the action itself.
type Handler func(payload any) any

// EventBus is a synchronous, named-event pub/sub used by the Controller.
// Emit runs handlers in registration order on the calling goroutine: the
// pipeline is run-to-completion within one tick, so there is no dispatch
// queue to manage.
type EventBus struct {
	logger   *zap.Logger
	handlers map[EventName][]Handler
}

// NewEventBus creates an empty EventBus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:   logger.Named("eventbus"),
		handlers: make(map[EventName][]Handler),
	}
}

// On registers handler for name. Bounded to maxHandlersPerEvent; duplicate
// registration of the same function value is not detected (Go has no
// function equality), so callers must avoid double-registering themselves.
func (b *EventBus) On(name EventName, handler Handler) {
	if len(b.handlers[name]) >= maxHandlersPerEvent {
		b.logger.Warn("handler registry full, dropping registration", zap.String("event", string(name)))
		return
	}
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit invokes every handler registered for name, in registration order. A
// handler panicking is logged and does not prevent subsequent handlers from
// running. A handler returning Veto short-circuits and Emit returns Veto.
func (b *EventBus) Emit(name EventName, payload any) any {
	for _, h := range b.handlers[name] {
		result := b.safeInvoke(name, h, payload)
		if result == Veto {
			return Veto
		}
	}
	return nil
}

func (b *EventBus) safeInvoke(name EventName, h Handler, payload any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.String("event", string(name)), zap.Any("recover", r))
			result = nil
		}
	}()
	return h(payload)
}
