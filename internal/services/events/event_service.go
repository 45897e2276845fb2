package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/interfaces"
)

// Service is an in-process pub/sub bus keyed by event type. Orchestrator
// progress (sync lifecycle, pending auth actions) fans out through it so
// listeners never sit on the sync path.
type Service struct {
	mu       sync.RWMutex
	handlers map[interfaces.EventType][]interfaces.EventHandler
	logger   arbor.ILogger
}

// NewService creates the event bus
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		handlers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
	count := len(s.handlers[eventType])
	s.mu.Unlock()

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", count).
		Msg("Event handler subscribed")

	return nil
}

// Unsubscribe removes a previously subscribed handler. Handlers are matched
// by function identity, so the same value passed to Subscribe must be used.
func (s *Service) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	target := reflect.ValueOf(handler).Pointer()

	s.mu.Lock()
	defer s.mu.Unlock()

	registered := s.handlers[eventType]
	for i, h := range registered {
		if reflect.ValueOf(h).Pointer() == target {
			s.handlers[eventType] = append(registered[:i], registered[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("handler not found for event type: %s", eventType)
}

// Publish delivers an event to its subscribers without waiting for them.
// Handler failures are logged and never surface to the publisher.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	for _, handler := range s.snapshot(event.Type) {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Warn().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(handler)
	}
	return nil
}

// PublishSync delivers an event and waits for every handler to finish,
// reporting how many failed.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers := s.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	failures := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				s.logger.Warn().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
				failures <- err
			}
		}(handler)
	}

	wg.Wait()
	close(failures)

	failed := 0
	for range failures {
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("event handlers failed: %d errors", failed)
	}
	return nil
}

// snapshot copies the handler list so delivery runs outside the lock
func (s *Service) snapshot(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	registered := s.handlers[eventType]
	if len(registered) == 0 {
		return nil
	}
	out := make([]interfaces.EventHandler, len(registered))
	copy(out, registered)
	return out
}

// Close drops all subscriptions
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = make(map[interfaces.EventType][]interfaces.EventHandler)
	return nil
}
