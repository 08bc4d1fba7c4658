package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"parkovka/internal/models"
)

const helpText = `Парковка: аренда машино-мест.

/slots — ближайшие свободные интервалы
/spots — список мест
/price ДД.ММ.ГГГГ ЧЧ:ММ часы — расчёт стоимости
/tariff — тарифы
/book id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы — забронировать
/paid id_брони — я оплатил
/my — мои брони
/cancel id_брони — отменить бронь
/subscribe [id_места] [ГГГГ-ММ-ДД] [ГГГГ-ММ-ДД] — сообщить об освободившихся местах
/review id_брони оценка [комментарий] — отзыв`

const adminHelpText = `
Администратор:
/pending — оплаченные брони
/confirm id, /decline id
/edithours id часы
/addfree id_места ДД.ММ.ГГГГ ЧЧ:ММ часы
/retime id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы
/delslot id_интервала, /toggle id_интервала
/addspot номер [описание], /delspot id_места
/ban telegram_id [дней] [причина], /unban telegram_id
/stats, /export`

var statusNames = map[models.Status]string{
	models.StatusPending:       "ожидает оплаты",
	models.StatusPaidWaitAdmin: "оплачена, ждёт подтверждения",
	models.StatusConfirmed:     "подтверждена",
	models.StatusCancelled:     "отменена",
	models.StatusExpired:       "истекла",
	models.StatusCompleted:     "завершена",
}

func (b *Bot) userCommands() map[string]commandFunc {
	return map[string]commandFunc{
		"start":     b.handleStart,
		"help":      b.handleHelp,
		"slots":     b.handleSlots,
		"spots":     b.handleSpots,
		"price":     b.handlePrice,
		"tariff":    b.handleTariff,
		"book":      b.handleBook,
		"paid":      b.handlePaid,
		"my":        b.handleMyBookings,
		"cancel":    b.handleCancel,
		"subscribe": b.handleSubscribe,
		"review":    b.handleReview,
	}
}

func (b *Bot) user(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	return b.deps.Store.EnsureUser(ctx, from.ID, from.UserName, fullName(from))
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	if _, err := b.user(ctx, msg.From); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Добро пожаловать! Адрес парковки: %s\n\n%s", b.opts.Address, helpText))
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message, _ []string) {
	text := helpText
	if b.isAdmin(msg.From.ID) {
		text += "\n" + adminHelpText
	}
	b.reply(msg.Chat.ID, text)
}

func (b *Bot) handleSlots(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	b.renderSlots(ctx, msg.Chat.ID, 0, 0)
}

func (b *Bot) handleSpots(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	spots, err := b.deps.Store.ListSpots(ctx, true)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if len(spots) == 0 {
		b.reply(msg.Chat.ID, "Мест пока нет.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Адрес: %s\n", b.opts.Address)
	for _, s := range spots {
		fmt.Fprintf(&sb, "%d. место %s", s.ID, s.Number)
		if s.Description != "" {
			fmt.Fprintf(&sb, " (%s)", s.Description)
		}
		if avg, count, err := b.deps.Store.SpotRating(ctx, s.ID); err == nil && count > 0 {
			fmt.Fprintf(&sb, " ⭐ %.1f", avg)
		}
		sb.WriteString("\n")
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleTariff(_ context.Context, msg *tgbotapi.Message, _ []string) {
	if len(b.opts.Tariff) == 0 {
		b.reply(msg.Chat.ID, "Тарифы не настроены.")
		return
	}
	b.reply(msg.Chat.ID, strings.Join(b.opts.Tariff, "\n"))
}

func (b *Bot) handlePrice(_ context.Context, msg *tgbotapi.Message, args []string) {
	start, end, err := parseSpan(args, b.opts.Location)
	if err != nil {
		b.reply(msg.Chat.ID, "Формат: /price ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	price, err := b.deps.Bookings.Quote(start, end)
	if err != nil {
		text, _ := errorText(err)
		b.reply(msg.Chat.ID, text)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("%s\nСтоимость: %d ₽", b.formatSpan(start, end), price))
}

func (b *Bot) handleBook(ctx context.Context, msg *tgbotapi.Message, args []string) {
	intervalID, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /book id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	start, end, err := parseSpan(args[1:], b.opts.Location)
	if err != nil {
		b.reply(msg.Chat.ID, "Формат: /book id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}

	u, err := b.user(ctx, msg.From)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	iv, err := b.deps.Store.GetInterval(ctx, intervalID)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	booking, _, err := b.deps.Bookings.Create(ctx, u.ID, iv.SpotID, intervalID, start, end)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
		"Бронь #%d создана.\n%s\nК оплате: %d ₽\nПосле оплаты нажмите кнопку или отправьте /paid %d.",
		booking.ID, b.formatSpan(booking.Start, booking.End), booking.TotalPrice, booking.ID))
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("💳 Я оплатил", fmt.Sprintf("paid:%d", booking.ID)),
	))
	_, _ = b.tg.Send(reply)
}

func (b *Bot) handlePaid(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /paid id_брони")
		return
	}
	b.markPaid(ctx, msg.Chat.ID, msg.From, id)
}

func (b *Bot) markPaid(ctx context.Context, chatID int64, from *tgbotapi.User, id int64) {
	booking, ok := b.ownBooking(ctx, chatID, from, id)
	if !ok {
		return
	}
	paid, err := b.deps.Bookings.MarkPaid(ctx, booking.ID)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if !paid {
		b.reply(chatID, fmt.Sprintf("Бронь #%d уже отмечена как оплаченная или недоступна.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Спасибо! Бронь #%d ждёт подтверждения администратора.", id))
}

// ownBooking loads a booking that belongs to the sender.
func (b *Bot) ownBooking(ctx context.Context, chatID int64, from *tgbotapi.User, id int64) (*models.Booking, bool) {
	u, err := b.user(ctx, from)
	if err != nil {
		b.fail(ctx, chatID, err)
		return nil, false
	}
	booking, err := b.deps.Store.GetBooking(ctx, id)
	if err != nil {
		b.fail(ctx, chatID, err)
		return nil, false
	}
	if booking.CustomerID != u.ID {
		b.reply(chatID, "Бронь не найдена.")
		return nil, false
	}
	return booking, true
}

func (b *Bot) handleMyBookings(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	u, err := b.user(ctx, msg.From)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	bookings, err := b.deps.Store.ListBookingsByCustomer(ctx, u.ID, 10)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if len(bookings) == 0 {
		b.reply(msg.Chat.ID, "У вас нет бронирований.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Ваши брони:\n")
	for _, bk := range bookings {
		fmt.Fprintf(&sb, "#%d %s | %d ₽ | %s\n",
			bk.ID, b.formatSpan(bk.Start, bk.End), bk.TotalPrice, statusNames[bk.Status])
	}
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /cancel id_брони")
		return
	}
	admin := b.isAdmin(msg.From.ID)
	var booking *models.Booking
	if admin {
		var err error
		if booking, err = b.deps.Store.GetBooking(ctx, id); err != nil {
			b.fail(ctx, msg.Chat.ID, err)
			return
		}
	} else if booking, ok = b.ownBooking(ctx, msg.Chat.ID, msg.From, id); !ok {
		return
	}

	cancelled, err := b.deps.Bookings.Cancel(ctx, id)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if !cancelled {
		b.reply(msg.Chat.ID, fmt.Sprintf("Бронь #%d уже завершена или отменена.", id))
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Бронь #%d отменена.", id))

	if admin {
		b.audit(ctx, msg.From.ID, "cancel_booking", &id, "")
		if customer, err := b.deps.Store.GetUser(ctx, booking.CustomerID); err == nil && customer.TelegramID != msg.From.ID {
			_ = b.sender.SendText(ctx, customer.TelegramID, fmt.Sprintf("Бронь #%d отменена администратором.", id))
		}
	}
}

func (b *Bot) handleSubscribe(ctx context.Context, msg *tgbotapi.Message, args []string) {
	u, err := b.user(ctx, msg.From)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}

	var spotID *int64
	var dates []*string
	for _, a := range args {
		if id, err := strconv.ParseInt(a, 10, 64); err == nil && spotID == nil && len(dates) == 0 {
			if _, err := b.deps.Store.GetSpot(ctx, id); err != nil {
				b.fail(ctx, msg.Chat.ID, err)
				return
			}
			spotID = &id
			continue
		}
		if _, err := time.Parse(time.DateOnly, a); err != nil || len(dates) == 2 {
			b.reply(msg.Chat.ID, "Формат: /subscribe [id_места] [ГГГГ-ММ-ДД] [ГГГГ-ММ-ДД]")
			return
		}
		d := a
		dates = append(dates, &d)
	}
	var from, to *string
	if len(dates) > 0 {
		from = dates[0]
		to = dates[0]
	}
	if len(dates) > 1 {
		to = dates[1]
	}
	if from != nil && to != nil && *to < *from {
		b.reply(msg.Chat.ID, "Дата окончания раньше даты начала.")
		return
	}

	sub, err := b.deps.Store.CreateSubscription(ctx, u.ID, spotID, from, to)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Подписка #%d оформлена. Сообщим, когда освободится место.", sub.ID))
}

func (b *Bot) handleReview(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok || len(args) < 2 {
		b.reply(msg.Chat.ID, "Формат: /review id_брони оценка(1-5) [комментарий]")
		return
	}
	rating, err := strconv.Atoi(args[1])
	if err != nil || rating < 1 || rating > 5 {
		b.reply(msg.Chat.ID, "Оценка должна быть от 1 до 5.")
		return
	}
	u, err := b.user(ctx, msg.From)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	review, err := b.deps.Store.AddReview(ctx, id, u.ID, rating, strings.Join(args[2:], " "))
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}

	text := "Спасибо за отзыв!"
	if avg, count, err := b.deps.Store.SpotRating(ctx, review.SpotID); err == nil && count > 0 {
		text += fmt.Sprintf(" Рейтинг места: %.1f (%d)", avg, count)
	}
	b.reply(msg.Chat.ID, text)
}
