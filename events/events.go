package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/flowdeck-io/flowdeck/types"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more updates.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the update type.
	ErrNoHandler = errors.New("no handlers registered for update type")
)

// Handler defines the interface for handling control-room updates.
type Handler interface {
	Handle(ctx context.Context, update types.ControlRoomUpdate) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, update types.ControlRoomUpdate) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, update types.ControlRoomUpdate) error {
	return f(ctx, update)
}

// Bus delivers ControlRoomUpdate payloads to subscribers keyed by update
// type. It is the process-wide channel between external execution and
// the live-operations dashboard.
type Bus struct {
	handlers     map[string][]Handler
	mu           sync.RWMutex
	updateCh     chan types.ControlRoomUpdate
	errHandler   func(update types.ControlRoomUpdate, err error)
	errHandlerMu sync.RWMutex
	wg           sync.WaitGroup
	closed       bool
	closeMu      sync.RWMutex
}

// BusOption defines functional options for configuring a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the update channel buffer size.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		b.updateCh = make(chan types.ControlRoomUpdate, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(update types.ControlRoomUpdate, err error)) BusOption {
	return func(b *Bus) {
		b.errHandlerMu.Lock()
		defer b.errHandlerMu.Unlock()
		b.errHandler = handler
	}
}

// NewBus creates a new Bus with async processing. The default buffer
// size is 100, and handler errors are logged by defaultErrorHandler.
func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		handlers:   make(map[string][]Handler),
		updateCh:   make(chan types.ControlRoomUpdate, 100), // Default buffer size
		errHandler: defaultErrorHandler,
	}

	for _, option := range options {
		option(b)
	}

	// Start update processor
	b.wg.Add(1)
	go b.processUpdates()

	return b
}

// Subscribe subscribes a handler to an update type.
func (b *Bus) Subscribe(updateType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[updateType] = append(b.handlers[updateType], handler)
}

// SubscribeFunc subscribes a function as a handler to an update type.
func (b *Bus) SubscribeFunc(updateType string, handlerFunc func(ctx context.Context, update types.ControlRoomUpdate) error) {
	b.Subscribe(updateType, HandlerFunc(handlerFunc))
}

// Unsubscribe removes a specific handler from an update type.
// Returns true if the handler was found and removed, false otherwise.
func (b *Bus) Unsubscribe(updateType string, handler Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[updateType]
	if !exists {
		return false
	}

	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) { // Compare pointer address
			handlers[i] = handlers[len(handlers)-1]
			b.handlers[updateType] = handlers[:len(handlers)-1]
			if len(b.handlers[updateType]) == 0 {
				delete(b.handlers, updateType)
			}
			return true
		}
	}
	return false
}

// HasSubscribers checks if there are any subscribers for an update type.
func (b *Bus) HasSubscribers(updateType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers, exists := b.handlers[updateType]
	return exists && len(handlers) > 0
}

// Publish publishes an update asynchronously to all subscribed handlers.
// Returns an error if the context is canceled, the bus is closed, or the
// channel is full. Handlers run on the bus goroutine, not the caller's.
func (b *Bus) Publish(ctx context.Context, update types.ControlRoomUpdate) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return ErrBusClosed
	}
	b.closeMu.RUnlock()

	b.mu.RLock()
	_, hasHandlers := b.handlers[update.Type]
	b.mu.RUnlock()

	if !hasHandlers {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.updateCh <- update:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync publishes an update synchronously and returns all handler
// errors. Execution is subject to a 5-second timeout unless the context
// specifies otherwise.
func (b *Bus) PublishSync(ctx context.Context, update types.ControlRoomUpdate) []error {
	b.closeMu.RLock()
	if b.closed {
		b.closeMu.RUnlock()
		return []error{ErrBusClosed}
	}
	b.closeMu.RUnlock()

	b.mu.RLock()
	handlers, ok := b.handlers[update.Type]
	b.mu.RUnlock()

	if !ok || len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	// Apply a default timeout to prevent indefinite blocking
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.executeHandlers(timeoutCtx, handlers, update)
}

// Stop stops the processing goroutine and waits for completion.
// Any unprocessed updates are discarded to ensure a clean shutdown.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		// Drain remaining updates to prevent blocking
		for len(b.updateCh) > 0 {
			<-b.updateCh
		}
		close(b.updateCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

// processUpdates handles updates asynchronously in a separate goroutine.
func (b *Bus) processUpdates() {
	defer b.wg.Done()

	for update := range b.updateCh {
		b.mu.RLock()
		handlers, ok := b.handlers[update.Type]
		b.mu.RUnlock()

		if !ok || len(handlers) == 0 {
			continue
		}

		errs := b.executeHandlers(context.Background(), handlers, update)

		b.errHandlerMu.RLock()
		handler := b.errHandler
		b.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(update, err)
		}
	}
}

// executeHandlers runs all handlers for an update and collects errors.
// Handlers run concurrently; the function waits for all to complete.
func (b *Bus) executeHandlers(ctx context.Context, handlers []Handler, update types.ControlRoomUpdate) []error {
	var wg conc.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		h := handler
		wg.Go(func() {
			if err := h.Handle(ctx, update); err != nil {
				errCh <- err
			}
		})
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errs
}

// defaultErrorHandler logs handler errors with the update identity.
func defaultErrorHandler(update types.ControlRoomUpdate, err error) {
	slog.Error("control-room update handler failed",
		"type", update.Type,
		"workflow_id", update.WorkflowID,
		"worker", update.WorkerName,
		"error", err)
}
