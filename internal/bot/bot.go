package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkovka/internal/events"
	"parkovka/internal/models"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Deps are the engine components the bot drives.
type Deps struct {
	Bookings     Bookings
	Availability Availability
	Store        Store
	Slots        SlotLister
	Exporter     Exporter
}

type Options struct {
	Admins        []int64
	Location      *time.Location
	Address       string
	SlotsLimit    int
	SendPerSecond float64
	// Tariff lines shown by /tariff.
	Tariff []string
	Debug  bool
}

// Bot is the Telegram front end of the booking engine.
type Bot struct {
	tg     telegramClient
	sender *Sender
	deps   Deps
	opts   Options

	mu     sync.RWMutex
	admins map[int64]struct{}

	logger *zerolog.Logger
}

func New(token string, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = opts.Debug
	return newBot(&realTelegramClient{api: api}, deps, opts, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	return newBot(tg, deps, opts, logger)
}

func newBot(tg telegramClient, deps Deps, opts Options, logger *zerolog.Logger) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if deps.Bookings == nil || deps.Availability == nil || deps.Store == nil {
		return nil, fmt.Errorf("bookings, availability and store are required")
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.SlotsLimit <= 0 {
		opts.SlotsLimit = 10
	}
	l := logger.With().Str("component", "bot").Logger()
	b := &Bot{
		tg:     tg,
		sender: newSender(tg, opts.SendPerSecond, &l),
		deps:   deps,
		opts:   opts,
		logger: &l,
	}
	b.SetAdmins(opts.Admins)
	return b, nil
}

// Sender returns the rate-limited text sender shared with background jobs.
func (b *Bot) Sender() *Sender {
	return b.sender
}

// SetAdmins replaces the admin list. Safe for concurrent use.
func (b *Bot) SetAdmins(ids []int64) {
	admins := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		admins[id] = struct{}{}
	}
	b.mu.Lock()
	b.admins = admins
	b.mu.Unlock()
	b.logger.Info().Int("count", len(admins)).Msg("Admin list updated")
}

func (b *Bot) isAdmin(telegramID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.admins[telegramID]
	return ok
}

func (b *Bot) adminIDs() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int64, 0, len(b.admins))
	for id := range b.admins {
		out = append(out, id)
	}
	return out
}

// Register subscribes the bot to booking events that need a chat message.
func (b *Bot) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingPaid, b.onBookingPaid)
	bus.Subscribe(events.EventBookingConfirmed, b.onCustomerUpdate)
	bus.Subscribe(events.EventBookingDeclined, b.onCustomerUpdate)
	bus.Subscribe(events.EventBookingEdited, b.onCustomerUpdate)
}

// Start begins polling updates and handles commands until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("Bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("Handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("Handling message")
		b.handleMessage(ctx, update.Message)
	}
}

type commandFunc func(ctx context.Context, msg *tgbotapi.Message, args []string)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	name, args := splitCommand(msg.Text)
	if name == "" {
		b.reply(msg.Chat.ID, "Команды: /help")
		return
	}

	if h, ok := b.userCommands()[name]; ok {
		h(ctx, msg, args)
		return
	}
	if h, ok := b.adminCommands()[name]; ok {
		if !b.isAdmin(msg.From.ID) {
			b.reply(msg.Chat.ID, "Команда доступна только администраторам.")
			return
		}
		h(ctx, msg, args)
		return
	}
	b.reply(msg.Chat.ID, "Неизвестная команда. /help")
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil {
		return
	}
	_ = b.answerCallback(cq.ID)
	chatID := cq.Message.Chat.ID

	parts := strings.Split(cq.Data, ":")
	switch {
	case len(parts) == 2 && parts[0] == "slots":
		page, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		b.renderSlots(ctx, chatID, cq.Message.MessageID, page)
	case len(parts) == 2 && parts[0] == "paid":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return
		}
		b.markPaid(ctx, chatID, cq.From, id)
	case len(parts) == 3 && parts[0] == "adm":
		if !b.isAdmin(cq.From.ID) {
			return
		}
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return
		}
		switch parts[1] {
		case "confirm":
			b.confirm(ctx, chatID, cq.From.ID, id)
		case "decline":
			b.decline(ctx, chatID, cq.From.ID, id)
		}
	}
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

func (b *Bot) reply(chatID int64, text string) {
	_, _ = b.tg.Send(tgbotapi.NewMessage(chatID, text))
}

// fail reports err to the chat. Unexpected errors are logged with the
// request context.
func (b *Bot) fail(ctx context.Context, chatID int64, err error) {
	text, expected := errorText(err)
	if !expected {
		zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("Command failed")
	}
	b.reply(chatID, text)
}

func errorText(err error) (string, bool) {
	switch {
	case errors.Is(err, models.ErrSlotTaken):
		return "Этот интервал уже занят. Посмотрите /slots.", true
	case errors.Is(err, models.ErrInPast):
		return "Нельзя бронировать время в прошлом.", true
	case errors.Is(err, models.ErrOutsideWindow):
		return "Запрошенное время выходит за пределы свободного интервала.", true
	case errors.Is(err, models.ErrInvalidInterval):
		return "Некорректный интервал: конец должен быть позже начала.", true
	case errors.Is(err, models.ErrBlocked):
		return "К интервалу привязана бронь, изменить его нельзя.", true
	case errors.Is(err, models.ErrOverlap):
		return "Интервал пересекается с уже опубликованным.", true
	case errors.Is(err, models.ErrNotFound):
		return "Не найдено.", true
	case errors.Is(err, models.ErrInvalidTransition):
		return "Действие недоступно для текущего статуса брони.", true
	case errors.Is(err, models.ErrBanned):
		return "Ваш аккаунт заблокирован.", true
	default:
		return "Внутренняя ошибка, попробуйте позже.", false
	}
}

func (b *Bot) onBookingPaid(ctx context.Context, ev events.Event) error {
	var p events.BookingPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("💰 Бронь #%d оплачена клиентом\n%s\nСумма: %d ₽",
		p.BookingID, b.formatSpan(p.Start, p.End), p.TotalPrice)
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", fmt.Sprintf("adm:confirm:%d", p.BookingID)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("adm:decline:%d", p.BookingID)),
	))

	var errs []error
	for _, id := range b.adminIDs() {
		msg := tgbotapi.NewMessage(id, text)
		msg.ReplyMarkup = markup
		if _, err := b.tg.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) onCustomerUpdate(ctx context.Context, ev events.Event) error {
	var p events.BookingPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	user, err := b.deps.Store.GetUser(ctx, p.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %d: %w", p.CustomerID, err)
	}

	var text string
	switch ev.Type {
	case events.EventBookingConfirmed:
		text = fmt.Sprintf("✅ Бронь #%d подтверждена.\n%s\nАдрес: %s",
			p.BookingID, b.formatSpan(p.Start, p.End), b.opts.Address)
	case events.EventBookingDeclined:
		text = fmt.Sprintf("⚠️ Оплата брони #%d не подтверждена. Проверьте платёж и снова отправьте /paid %d.",
			p.BookingID, p.BookingID)
	case events.EventBookingEdited:
		text = fmt.Sprintf("✏️ Бронь #%d изменена администратором.\n%s\nСумма: %d ₽",
			p.BookingID, b.formatSpan(p.Start, p.End), p.TotalPrice)
	default:
		return nil
	}
	return b.sender.SendText(ctx, user.TelegramID, text)
}

func (b *Bot) formatSpan(start, end time.Time) string {
	return fmt.Sprintf("%s – %s",
		start.In(b.opts.Location).Format("02.01.2006 15:04"),
		end.In(b.opts.Location).Format("02.01.2006 15:04"))
}

// splitCommand returns the command name without the slash or @bot suffix.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

const spanLayout = "02.01.2006 15:04"

// parseSpan reads "<DD.MM.YYYY> <HH:MM> <hours>" in loc.
func parseSpan(args []string, loc *time.Location) (time.Time, time.Time, error) {
	if len(args) < 3 {
		return time.Time{}, time.Time{}, fmt.Errorf("expected date, time and hours")
	}
	start, err := time.ParseInLocation(spanLayout, args[0]+" "+args[1], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	hours, err := strconv.Atoi(args[2])
	if err != nil || hours <= 0 || hours > 24*31 {
		return time.Time{}, time.Time{}, fmt.Errorf("hours must be between 1 and %d", 24*31)
	}
	return start, start.Add(time.Duration(hours) * time.Hour), nil
}

func parseID(args []string, i int) (int64, bool) {
	if len(args) <= i {
		return 0, false
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
