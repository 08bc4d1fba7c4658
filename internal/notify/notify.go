package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"parkovka/internal/events"
	"parkovka/internal/metrics"
	"parkovka/internal/models"
)

// SubscriptionStore reads and retires standing availability requests.
type SubscriptionStore interface {
	MatchSubscriptions(ctx context.Context, spotID int64, fromDate, toDate string) ([]models.Subscription, error)
	DeactivateSubscription(ctx context.Context, id int64) error
	GetSpot(ctx context.Context, id int64) (*models.Spot, error)
}

// Sender delivers a text message to a Telegram chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Matcher finds subscriptions interested in a span of a spot. Dates are
// compared in the tariff location.
type Matcher struct {
	store    SubscriptionStore
	location *time.Location
}

func NewMatcher(store SubscriptionStore, location *time.Location) *Matcher {
	if location == nil {
		location = time.UTC
	}
	return &Matcher{store: store, location: location}
}

// Match returns the active subscriptions whose filter covers [start,end).
// It never mutates anything.
func (m *Matcher) Match(ctx context.Context, spotID int64, start, end time.Time) ([]models.Subscription, error) {
	if !end.After(start) {
		return nil, models.ErrInvalidInterval
	}
	from, to := localDates(start, end, m.location)
	return m.store.MatchSubscriptions(ctx, spotID, from, to)
}

// localDates returns the first and last calendar day touched by [start,end).
func localDates(start, end time.Time, loc *time.Location) (string, string) {
	last := end.Add(-time.Second)
	if last.Before(start) {
		last = start
	}
	return start.In(loc).Format("2006-01-02"), last.In(loc).Format("2006-01-02")
}

// Dispatcher tells subscribers about freed availability once and then
// deactivates their subscriptions.
type Dispatcher struct {
	matcher *Matcher
	store   SubscriptionStore
	sender  Sender
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewDispatcher(matcher *Matcher, store SubscriptionStore, sender Sender, perSecond float64, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if perSecond <= 0 {
		perSecond = 20
	}
	l := logger.With().Str("component", "notify").Logger()
	return &Dispatcher{
		matcher: matcher,
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  &l,
	}
}

// Register subscribes the dispatcher to interval events.
func (d *Dispatcher) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventIntervalFreed, d.Handle)
}

// Handle is the event handler for EventIntervalFreed.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) error {
	var p events.IntervalPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode interval payload: %w", err)
	}
	_, err := d.Dispatch(ctx, p.SpotID, p.Start, p.End)
	return err
}

// Dispatch notifies every matching subscriber and returns how many chats
// were reached. A failed delivery leaves the subscription active.
func (d *Dispatcher) Dispatch(ctx context.Context, spotID int64, start, end time.Time) (int, error) {
	subs, err := d.matcher.Match(ctx, spotID, start, end)
	if err != nil {
		return 0, fmt.Errorf("match subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	spotLabel := fmt.Sprintf("#%d", spotID)
	if spot, err := d.store.GetSpot(ctx, spotID); err == nil {
		spotLabel = spot.Number
	}
	text := fmt.Sprintf("🔔 Освободилось место %s: %s – %s",
		spotLabel,
		start.In(d.matcher.location).Format("02.01 15:04"),
		end.In(d.matcher.location).Format("02.01 15:04"))

	byChat := make(map[int64][]models.Subscription)
	order := make([]int64, 0, len(subs))
	for _, s := range subs {
		if _, ok := byChat[s.TelegramID]; !ok {
			order = append(order, s.TelegramID)
		}
		byChat[s.TelegramID] = append(byChat[s.TelegramID], s)
	}

	var errs []error
	sent := 0
	for _, chatID := range order {
		if err := d.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := d.sender.SendText(ctx, chatID, text); err != nil {
			metrics.IncNotification("subscription", "error")
			d.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to deliver availability notice")
			errs = append(errs, err)
			continue
		}
		metrics.IncNotification("subscription", "sent")
		sent++
		for _, s := range byChat[chatID] {
			if err := d.store.DeactivateSubscription(ctx, s.ID); err != nil {
				d.logger.Error().Err(err).Int64("subscription_id", s.ID).Msg("Failed to deactivate subscription")
				errs = append(errs, err)
			}
		}
	}

	d.logger.Info().Int64("spot_id", spotID).Int("sent", sent).Int("matched", len(subs)).Msg("Availability notices dispatched")
	return sent, errors.Join(errs...)
}
