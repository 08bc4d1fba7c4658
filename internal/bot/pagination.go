package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"parkovka/internal/models"
)

const slotsPerPage = 5

// renderSlots shows one page of the nearest free intervals. A non-zero
// messageID edits the existing message in place.
func (b *Bot) renderSlots(ctx context.Context, chatID int64, messageID, page int) {
	if b.deps.Slots == nil {
		b.reply(chatID, "Список интервалов недоступен.")
		return
	}
	slots, err := b.deps.Slots.List(ctx, b.opts.SlotsLimit)
	if err != nil {
		b.fail(ctx, chatID, err)
		return
	}
	if len(slots) == 0 {
		b.reply(chatID, "Свободных интервалов нет. /subscribe — сообщим, когда появятся.")
		return
	}

	text, markup := b.slotsPage(slots, page)
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
		_, _ = b.tg.Send(edit)
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(markup.InlineKeyboard) > 0 {
		msg.ReplyMarkup = markup
	}
	_, _ = b.tg.Send(msg)
}

func (b *Bot) slotsPage(slots []models.FreeSlot, page int) (string, tgbotapi.InlineKeyboardMarkup) {
	pages := (len(slots) + slotsPerPage - 1) / slotsPerPage
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	startIdx := page * slotsPerPage
	endIdx := min(startIdx+slotsPerPage, len(slots))

	var sb strings.Builder
	sb.WriteString("🅿️ Свободные интервалы\n")
	if pages > 1 {
		fmt.Fprintf(&sb, "Страница %d из %d\n", page+1, pages)
	}
	sb.WriteString("\n")
	for _, s := range slots[startIdx:endIdx] {
		fmt.Fprintf(&sb, "#%d место %s: %s\n", s.ID, s.SpotNumber, b.formatSpan(s.Start, s.End))
	}
	sb.WriteString("\nБронирование: /book id ДД.ММ.ГГГГ ЧЧ:ММ часы")

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", fmt.Sprintf("slots:%d", page-1)))
	}
	if endIdx < len(slots) {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Вперед ➡️", fmt.Sprintf("slots:%d", page+1)))
	}
	markup := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if len(nav) > 0 {
		markup = tgbotapi.NewInlineKeyboardMarkup(nav)
	}
	return sb.String(), markup
}
