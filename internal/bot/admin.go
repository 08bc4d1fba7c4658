package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"parkovka/internal/export"
	"parkovka/internal/models"
)

func (b *Bot) adminCommands() map[string]commandFunc {
	return map[string]commandFunc{
		"pending":   b.handlePending,
		"confirm":   b.handleConfirm,
		"decline":   b.handleDecline,
		"edithours": b.handleEditHours,
		"addfree":   b.handleAddFree,
		"retime":    b.handleRetime,
		"delslot":   b.handleDeleteSlot,
		"toggle":    b.handleToggle,
		"addspot":   b.handleAddSpot,
		"delspot":   b.handleDeleteSpot,
		"ban":       b.handleBan,
		"unban":     b.handleUnban,
		"stats":     b.handleStats,
		"export":    b.handleExport,
	}
}

func (b *Bot) audit(ctx context.Context, adminID int64, action string, bookingID *int64, details string) {
	if err := b.deps.Store.LogAdminAction(ctx, adminID, action, bookingID, details); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("action", action).Msg("Failed to write admin log")
	}
}

func (b *Bot) handlePending(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	bookings, err := b.deps.Store.ListBookingsByStatus(ctx, models.StatusPaidWaitAdmin, 20)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if len(bookings) == 0 {
		b.reply(msg.Chat.ID, "Нет оплаченных броней, ожидающих подтверждения.")
		return
	}
	for _, bk := range bookings {
		m := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Бронь #%d, место %d\n%s\nСумма: %d ₽",
			bk.ID, bk.SpotID, b.formatSpan(bk.Start, bk.End), bk.TotalPrice))
		m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("adm:confirm:%d", bk.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("adm:decline:%d", bk.ID)),
		))
		_, _ = b.tg.Send(m)
	}
}

func (b *Bot) handleConfirm(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /confirm id_брони")
		return
	}
	b.confirm(ctx, msg.Chat.ID, msg.From.ID, id)
}

func (b *Bot) confirm(ctx context.Context, chatID, adminID, id int64) {
	outcome, err := b.deps.Bookings.Confirm(ctx, id)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	switch outcome {
	case models.ConfirmOK:
		b.audit(ctx, adminID, "confirm_booking", &id, "")
		b.reply(chatID, fmt.Sprintf("Бронь #%d подтверждена.", id))
	case models.ConfirmAlready:
		b.reply(chatID, fmt.Sprintf("Бронь #%d уже подтверждена.", id))
	case models.ConfirmNotPaid:
		b.reply(chatID, fmt.Sprintf("Бронь #%d ещё не оплачена.", id))
	default:
		b.reply(chatID, fmt.Sprintf("Бронь #%d нельзя подтвердить.", id))
	}
}

func (b *Bot) handleDecline(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /decline id_брони")
		return
	}
	b.decline(ctx, msg.Chat.ID, msg.From.ID, id)
}

func (b *Bot) decline(ctx context.Context, chatID, adminID, id int64) {
	declined, err := b.deps.Bookings.Decline(ctx, id)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if !declined {
		b.reply(chatID, fmt.Sprintf("Бронь #%d не ожидает подтверждения.", id))
		return
	}
	b.audit(ctx, adminID, "decline_booking", &id, "")
	b.reply(chatID, fmt.Sprintf("Бронь #%d возвращена в ожидание оплаты.", id))
}

func (b *Bot) handleEditHours(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok || len(args) < 2 {
		b.reply(msg.Chat.ID, "Формат: /edithours id_брони часы")
		return
	}
	hours, err := strconv.Atoi(args[1])
	if err != nil || hours <= 0 {
		b.reply(msg.Chat.ID, "Количество часов должно быть положительным.")
		return
	}

	edited, err := b.deps.Bookings.EditPaidHours(ctx, id, hours)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if !edited {
		b.reply(msg.Chat.ID, fmt.Sprintf("Бронь #%d завершена или отменена.", id))
		return
	}
	b.audit(ctx, msg.From.ID, "edit_paid_hours", &id, fmt.Sprintf("hours=%d", hours))

	text := fmt.Sprintf("Бронь #%d изменена.", id)
	if bk, err := b.deps.Store.GetBooking(ctx, id); err == nil {
		text += fmt.Sprintf("\n%s\nСумма: %d ₽", b.formatSpan(bk.Start, bk.End), bk.TotalPrice)
	}
	b.reply(msg.Chat.ID, text)
}

func (b *Bot) handleAddFree(ctx context.Context, msg *tgbotapi.Message, args []string) {
	spotID, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /addfree id_места ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	start, end, err := parseSpan(args[1:], b.opts.Location)
	if err != nil {
		b.reply(msg.Chat.ID, "Формат: /addfree id_места ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	if _, err := b.deps.Store.GetSpot(ctx, spotID); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	iv, err := b.deps.Availability.Publish(ctx, spotID, start, end)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.audit(ctx, msg.From.ID, "add_free_interval", nil, fmt.Sprintf("spot=%d interval=%d", spotID, iv.ID))
	b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d опубликован: %s", iv.ID, b.formatSpan(iv.Start, iv.End)))
}

func (b *Bot) handleRetime(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /retime id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	start, end, err := parseSpan(args[1:], b.opts.Location)
	if err != nil {
		b.reply(msg.Chat.ID, "Формат: /retime id_интервала ДД.ММ.ГГГГ ЧЧ:ММ часы")
		return
	}
	moved, err := b.deps.Availability.Retime(ctx, msg.From.ID, id, start, end)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if !moved {
		b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d занят или пересекается с другим.", id))
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d перенесён: %s", id, b.formatSpan(start, end)))
}

func (b *Bot) handleDeleteSlot(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /delslot id_интервала")
		return
	}
	removed, err := b.deps.Availability.Remove(ctx, msg.From.ID, id)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if !removed {
		b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d занят, удалить нельзя.", id))
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d удалён.", id))
}

func (b *Bot) handleToggle(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /toggle id_интервала")
		return
	}
	booked, err := b.deps.Availability.Toggle(ctx, msg.From.ID, id)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	state := "свободен"
	if booked {
		state = "закрыт"
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Интервал #%d теперь %s.", id, state))
}

func (b *Bot) handleAddSpot(ctx context.Context, msg *tgbotapi.Message, args []string) {
	if len(args) == 0 {
		b.reply(msg.Chat.ID, "Формат: /addspot номер [описание]")
		return
	}
	owner, err := b.user(ctx, msg.From)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	spot := &models.Spot{
		SupplierID:  owner.ID,
		Number:      args[0],
		Address:     b.opts.Address,
		Description: strings.Join(args[1:], " "),
		IsAvailable: true,
	}
	if err := b.deps.Store.CreateSpot(ctx, spot); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.audit(ctx, msg.From.ID, "add_spot", nil, fmt.Sprintf("spot=%d number=%s", spot.ID, spot.Number))
	b.reply(msg.Chat.ID, fmt.Sprintf("Место %s добавлено, id %d.", spot.Number, spot.ID))
}

func (b *Bot) handleDeleteSpot(ctx context.Context, msg *tgbotapi.Message, args []string) {
	id, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /delspot id_места")
		return
	}
	spot, err := b.deps.Store.GetSpot(ctx, id)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if err := b.deps.Store.SetSpotAvailable(ctx, id, false); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.audit(ctx, msg.From.ID, "remove_spot", nil, fmt.Sprintf("spot=%d", id))
	b.reply(msg.Chat.ID, fmt.Sprintf("Место %s снято с публикации.", spot.Number))
}

func (b *Bot) handleBan(ctx context.Context, msg *tgbotapi.Message, args []string) {
	tgID, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /ban telegram_id [дней] [причина]")
		return
	}
	target, err := b.deps.Store.GetUserByTelegramID(ctx, tgID)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}

	var until *time.Time
	reasonFrom := 1
	if len(args) > 1 {
		if days, err := strconv.Atoi(args[1]); err == nil {
			reasonFrom = 2
			if days > 0 {
				t := time.Now().Add(time.Duration(days) * 24 * time.Hour)
				until = &t
			}
		}
	}
	reason := ""
	if len(args) > reasonFrom {
		reason = strings.Join(args[reasonFrom:], " ")
	}

	if err := b.deps.Store.BanUser(ctx, target.ID, until, reason, msg.From.ID); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.audit(ctx, msg.From.ID, "ban_user", nil, fmt.Sprintf("user=%d reason=%s", target.ID, reason))
	if until != nil {
		b.reply(msg.Chat.ID, fmt.Sprintf("Пользователь %d заблокирован до %s.", tgID, until.In(b.opts.Location).Format(spanLayout)))
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Пользователь %d заблокирован бессрочно.", tgID))
}

func (b *Bot) handleUnban(ctx context.Context, msg *tgbotapi.Message, args []string) {
	tgID, ok := parseID(args, 0)
	if !ok {
		b.reply(msg.Chat.ID, "Формат: /unban telegram_id")
		return
	}
	target, err := b.deps.Store.GetUserByTelegramID(ctx, tgID)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	if err := b.deps.Store.UnbanUser(ctx, target.ID); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	b.audit(ctx, msg.From.ID, "unban_user", nil, fmt.Sprintf("user=%d", target.ID))
	b.reply(msg.Chat.ID, fmt.Sprintf("Пользователь %d разблокирован.", tgID))
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	st, err := b.deps.Store.GetStats(ctx)
	if err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	var sb strings.Builder
	sb.WriteString("📊 Статистика\n")
	for _, s := range models.AllStatuses {
		fmt.Fprintf(&sb, "%s: %d\n", statusNames[s], st.ByStatus[s])
	}
	fmt.Fprintf(&sb, "Выручка: %d ₽\nМест доступно: %d\nСвободных интервалов: %d\nПользователей: %d",
		st.Revenue, st.Spots, st.FreeIntervals, st.Users)
	b.reply(msg.Chat.ID, sb.String())
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message, _ []string) {
	if b.deps.Exporter == nil {
		b.reply(msg.Chat.ID, "Экспорт отключён.")
		return
	}
	var buf bytes.Buffer
	if err := b.deps.Exporter.Export(ctx, &buf); err != nil {
		b.fail(ctx, msg.Chat.ID, err)
		return
	}
	name := export.Filename(time.Now().In(b.opts.Location))
	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()})
	doc.Caption = "Выгрузка данных"
	if _, err := b.tg.Send(doc); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to send export")
		b.reply(msg.Chat.ID, "Не удалось отправить файл.")
		return
	}
	b.audit(ctx, msg.From.ID, "export", nil, name)
}
