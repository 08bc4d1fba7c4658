package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the booking engine.
const (
	EventIntervalFreed    = "interval.freed"
	EventBookingCreated   = "booking.created"
	EventBookingPaid      = "booking.paid"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingDeclined  = "booking.declined"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventBookingEdited    = "booking.edited"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// IntervalPayload describes a span of a spot that changed availability.
type IntervalPayload struct {
	SpotID     int64     `json:"spot_id"`
	IntervalID int64     `json:"interval_id,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// BookingPayload describes a booking after a lifecycle change.
type BookingPayload struct {
	BookingID          int64     `json:"booking_id"`
	SpotID             int64     `json:"spot_id"`
	CustomerID         int64     `json:"customer_id"`
	CustomerTelegramID int64     `json:"customer_telegram_id,omitempty"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	TotalPrice         int64     `json:"total_price"`
	Status             string    `json:"status"`
}

// New builds an event with a fresh id and a JSON payload.
func New(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are logged
// and never reach the publisher.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("Event handler failed")
		}
	}
}

// Emit builds and publishes an event in one step.
func (b *EventBus) Emit(ctx context.Context, eventType string, payload any) {
	if b == nil {
		return
	}
	ev, err := New(eventType, payload)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to build event")
		return
	}
	b.Publish(ctx, ev)
}
