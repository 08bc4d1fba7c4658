package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers plain text messages under a global rate limit. A 429 from
// Telegram is retried after the advertised delay.
type Sender struct {
	tg         telegramClient
	limiter    *rate.Limiter
	maxRetries int
	logger     *zerolog.Logger
}

func newSender(tg telegramClient, perSecond float64, logger *zerolog.Logger) *Sender {
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Sender{
		tg:         tg,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
		maxRetries: 3,
		logger:     logger,
	}
}

// SendText sends text to chatID.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := s.tg.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests || attempt >= s.maxRetries {
			return err
		}
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		s.logger.Info().
			Int64("chat_id", chatID).
			Dur("retry_after", wait).
			Int("attempt", attempt+1).
			Msg("Rate limited by Telegram, waiting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
