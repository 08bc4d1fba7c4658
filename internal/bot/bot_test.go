package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkovka/internal/cache"
	"parkovka/internal/database"
	"parkovka/internal/events"
	"parkovka/internal/export"
	"parkovka/internal/models"
	"parkovka/internal/pricing"
	"parkovka/internal/service"
)

const (
	adminTG    = 9000
	customerTG = 1001
	otherTG    = 1002
)

type fakeTelegram struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	errs    []error
	updates chan tgbotapi.Update
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "parkovka_bot"}
}

// texts returns the text of every message and edit sent to chatID.
func (f *fakeTelegram) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			if m.ChatID == chatID {
				out = append(out, m.Text)
			}
		case tgbotapi.EditMessageTextConfig:
			if m.ChatID == chatID {
				out = append(out, m.Text)
			}
		}
	}
	return out
}

func (f *fakeTelegram) last(chatID int64) string {
	t := f.texts(chatID)
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

func (f *fakeTelegram) documents(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if d, ok := c.(tgbotapi.DocumentConfig); ok && d.ChatID == chatID {
			out = append(out, d.File.(tgbotapi.FileBytes).Name)
		}
	}
	return out
}

type testEnv struct {
	bot *Bot
	tg  *fakeTelegram
	db  *database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetClock(func() time.Time { return time.Date(2030, 1, 9, 0, 0, 0, 0, time.UTC) })

	engine, err := pricing.NewEngine(pricing.DefaultTariff())
	require.NoError(t, err)
	bus := events.NewEventBus()
	slots := cache.NewFreeSlots(db, nil, 0, &logger)
	slots.Register(bus)

	tg := &fakeTelegram{updates: make(chan tgbotapi.Update)}
	b, err := NewWithTelegramClient(tg, Deps{
		Bookings:     service.NewBookingService(db, engine, bus, &logger),
		Availability: service.NewAvailabilityService(db, bus, &logger),
		Store:        db,
		Slots:        slots,
		Exporter:     export.NewExporter(db, time.UTC, &logger),
	}, Options{
		Admins:     []int64{adminTG},
		Location:   time.UTC,
		Address:    "Lenina 1",
		SlotsLimit: 10,
		Tariff:     engine.Describe(),
	}, &logger)
	require.NoError(t, err)
	b.Register(bus)
	return &testEnv{bot: b, tg: tg, db: db}
}

func (e *testEnv) send(from int64, text string) string {
	e.bot.handleUpdate(context.Background(), &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, UserName: fmt.Sprintf("user%d", from), FirstName: "Test"},
		Chat: &tgbotapi.Chat{ID: from},
		Text: text,
	}})
	return e.tg.last(from)
}

func (e *testEnv) callback(from int64, data string) {
	e.bot.handleUpdate(context.Background(), &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: from}},
		Data:    data,
	}})
}

// seed publishes spot 1 with one free interval 08:00-20:00 on 2030-01-10.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	assert.Contains(t, e.send(adminTG, "/addspot A-1 у лифта"), "id 1")
	assert.Contains(t, e.send(adminTG, "/addfree 1 10.01.2030 08:00 12"), "опубликован")
}

func TestBookingFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	assert.Contains(t, e.send(customerTG, "/slots"), "место A-1: 10.01.2030 08:00 – 10.01.2030 20:00")

	reply := e.send(customerTG, "/book 1 10.01.2030 10:00 2")
	assert.Contains(t, reply, "Бронь #1 создана")
	assert.Contains(t, reply, "К оплате: 300 ₽")

	assert.Equal(t, "Бронь не найдена.", e.send(otherTG, "/paid 1"))

	assert.Contains(t, e.send(customerTG, "/paid 1"), "ждёт подтверждения")
	assert.Contains(t, e.tg.last(adminTG), "Бронь #1 оплачена")
	assert.Contains(t, e.send(customerTG, "/paid 1"), "уже отмечена")

	assert.Equal(t, "Команда доступна только администраторам.", e.send(customerTG, "/confirm 1"))

	e.callback(adminTG, "adm:confirm:1")
	assert.Equal(t, "Бронь #1 подтверждена.", e.tg.last(adminTG))
	assert.Contains(t, e.tg.last(customerTG), "✅ Бронь #1 подтверждена")
	assert.Equal(t, "Бронь #1 уже подтверждена.", e.send(adminTG, "/confirm 1"))

	assert.Contains(t, e.send(customerTG, "/my"), "#1 10.01.2030 10:00 – 10.01.2030 12:00 | 300 ₽ | подтверждена")

	logs, err := e.db.ListAdminLogs(context.Background(), 10)
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, "confirm_booking")
	assert.Contains(t, actions, "add_spot")
}

func TestCancelAndResubscribe(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	assert.Contains(t, e.send(customerTG, "/book 1 10.01.2030 10:00 2"), "Бронь #1 создана")
	assert.Equal(t, "Бронь не найдена.", e.send(otherTG, "/cancel 1"))
	assert.Equal(t, "Бронь #1 отменена.", e.send(customerTG, "/cancel 1"))
	assert.Equal(t, "Бронь #1 уже завершена или отменена.", e.send(customerTG, "/cancel 1"))

	intervals, err := e.db.ListIntervals(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, intervals, 1, "released time merges back")
	assert.False(t, intervals[0].Booked)

	assert.Contains(t, e.send(customerTG, "/subscribe 1 2030-01-10"), "Подписка #1 оформлена")
	u, err := e.db.GetUserByTelegramID(context.Background(), customerTG)
	require.NoError(t, err)
	subs, err := e.db.ListSubscriptions(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].SpotID)
	assert.Equal(t, int64(1), *subs[0].SpotID)
	assert.Equal(t, "2030-01-10", *subs[0].DateFrom)
	assert.Equal(t, "2030-01-10", *subs[0].DateTo)

	assert.Contains(t, e.send(customerTG, "/subscribe 2030-01-12 2030-01-11"), "раньше")
}

func TestAdminEditAndDecline(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.send(customerTG, "/book 1 10.01.2030 10:00 4")
	e.send(customerTG, "/paid 1")

	assert.Equal(t, "Бронь #1 возвращена в ожидание оплаты.", e.send(adminTG, "/decline 1"))
	assert.Contains(t, e.tg.last(customerTG), "не подтверждена")
	assert.Equal(t, "Бронь #1 не ожидает подтверждения.", e.send(adminTG, "/decline 1"))

	reply := e.send(adminTG, "/edithours 1 2")
	assert.Contains(t, reply, "10.01.2030 10:00 – 10.01.2030 12:00")
	assert.Contains(t, reply, "Сумма: 300 ₽")
	assert.Contains(t, e.tg.last(customerTG), "изменена администратором")

	assert.Equal(t, "Количество часов должно быть положительным.", e.send(adminTG, "/edithours 1 zero"))
}

func TestBanBlocksBooking(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	e.send(otherTG, "/start")
	assert.Contains(t, e.send(adminTG, "/ban 1002 0 спам"), "бессрочно")
	assert.Equal(t, "Ваш аккаунт заблокирован.", e.send(otherTG, "/book 1 10.01.2030 10:00 2"))

	assert.Contains(t, e.send(adminTG, "/unban 1002"), "разблокирован")
	assert.Contains(t, e.send(otherTG, "/book 1 10.01.2030 10:00 2"), "создана")

	assert.Equal(t, "Не найдено.", e.send(adminTG, "/ban 5555"))
}

func TestAdminIntervalCommands(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	assert.Equal(t, "Интервал пересекается с уже опубликованным.", e.send(adminTG, "/addfree 1 10.01.2030 10:00 2"))
	assert.Contains(t, e.send(adminTG, "/retime 1 11.01.2030 08:00 4"), "перенесён")
	assert.Equal(t, "Интервал #1 теперь закрыт.", e.send(adminTG, "/toggle 1"))
	assert.Equal(t, "Интервал #1 теперь свободен.", e.send(adminTG, "/toggle 1"))
	assert.Equal(t, "Интервал #1 удалён.", e.send(adminTG, "/delslot 1"))
	assert.Equal(t, "Не найдено.", e.send(adminTG, "/delslot 1"))
	assert.Contains(t, e.send(customerTG, "/slots"), "Свободных интервалов нет")

	assert.Contains(t, e.send(customerTG, "/spots"), "1. место A-1 (у лифта)")
	assert.Equal(t, "Место A-1 снято с публикации.", e.send(adminTG, "/delspot 1"))
	assert.Equal(t, "Мест пока нет.", e.send(customerTG, "/spots"))
}

func TestStatsAndExport(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	e.send(customerTG, "/book 1 10.01.2030 10:00 2")

	stats := e.send(adminTG, "/stats")
	assert.Contains(t, stats, "ожидает оплаты: 1")
	assert.Contains(t, stats, "Мест доступно: 1")

	e.send(adminTG, "/export")
	docs := e.tg.documents(adminTG)
	require.Len(t, docs, 1)
	assert.True(t, strings.HasPrefix(docs[0], "parkovka_"))
	assert.True(t, strings.HasSuffix(docs[0], ".xlsx"))
}

func TestPriceAndHelp(t *testing.T) {
	e := newTestEnv(t)

	assert.Contains(t, e.send(customerTG, "/price 10.01.2030 19:00 2"), "Стоимость: 750 ₽")
	assert.Equal(t, "Формат: /price ДД.ММ.ГГГГ ЧЧ:ММ часы", e.send(customerTG, "/price tomorrow"))
	assert.NotContains(t, e.send(customerTG, "/help"), "Администратор")
	assert.Contains(t, e.send(adminTG, "/help"), "Администратор")
	assert.Equal(t, "Неизвестная команда. /help", e.send(customerTG, "/fly"))
	assert.Contains(t, e.send(customerTG, "/tariff"), "Day")
}

func TestReview(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)
	e.send(customerTG, "/book 1 10.01.2030 10:00 2")

	assert.Equal(t, "Оценка должна быть от 1 до 5.", e.send(customerTG, "/review 1 9"))
	assert.Equal(t, "Действие недоступно для текущего статуса брони.", e.send(customerTG, "/review 1 5"))
}

func TestSetAdmins(t *testing.T) {
	e := newTestEnv(t)
	assert.True(t, e.bot.isAdmin(adminTG))

	e.bot.SetAdmins([]int64{customerTG})
	assert.True(t, e.bot.isAdmin(customerTG))
	assert.False(t, e.bot.isAdmin(adminTG))
}

func TestStart_StopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.bot.Start(ctx)
		close(done)
	}()

	e.tg.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: customerTG},
		Chat: &tgbotapi.Chat{ID: customerTG},
		Text: "/help",
	}}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
	assert.Contains(t, e.tg.last(customerTG), "/slots")
}

func TestSlotsPage(t *testing.T) {
	b := &Bot{opts: Options{Location: time.UTC}}
	start := time.Date(2030, 1, 10, 8, 0, 0, 0, time.UTC)
	var slots []models.FreeSlot
	for i := 1; i <= 7; i++ {
		slots = append(slots, models.FreeSlot{
			Interval:   models.Interval{ID: int64(i), Start: start, End: start.Add(time.Hour)},
			SpotNumber: "A-1",
		})
	}

	text, markup := b.slotsPage(slots, 0)
	assert.Contains(t, text, "Страница 1 из 2")
	assert.Contains(t, text, "#5 место A-1")
	assert.NotContains(t, text, "#6 ")
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	assert.Equal(t, "slots:1", *markup.InlineKeyboard[0][0].CallbackData)

	text, markup = b.slotsPage(slots, 9)
	assert.Contains(t, text, "#7 место A-1")
	assert.Equal(t, "slots:0", *markup.InlineKeyboard[0][0].CallbackData)

	_, markup = b.slotsPage(slots[:3], 0)
	assert.Empty(t, markup.InlineKeyboard)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
	}{
		{"/book@parkovka_bot 1 2", "book", []string{"1", "2"}},
		{"  /Slots  ", "slots", []string{}},
		{"hello", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		name, args := splitCommand(tt.text)
		assert.Equal(t, tt.name, name, tt.text)
		assert.Equal(t, tt.args, args, tt.text)
	}
}

func TestParseSpan(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	start, end, err := parseSpan([]string{"10.01.2030", "19:00", "2"}, msk)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2030, 1, 10, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2*time.Hour, end.Sub(start))

	for _, args := range [][]string{
		{"10.01.2030", "19:00"},
		{"2030-01-10", "19:00", "2"},
		{"10.01.2030", "19:00", "0"},
		{"10.01.2030", "19:00", "1000"},
	} {
		_, _, err := parseSpan(args, msk)
		assert.Error(t, err, args)
	}
}

func TestErrorText(t *testing.T) {
	text, expected := errorText(fmt.Errorf("reserve: %w", models.ErrSlotTaken))
	assert.True(t, expected)
	assert.Contains(t, text, "уже занят")

	text, expected = errorText(errors.New("database is locked"))
	assert.False(t, expected)
	assert.Equal(t, "Внутренняя ошибка, попробуйте позже.", text)
}

func TestSender_RetriesAfterRateLimit(t *testing.T) {
	tg := &fakeTelegram{errs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 1}},
	}}
	l := zerolog.Nop()
	s := newSender(tg, 100, &l)

	require.NoError(t, s.SendText(context.Background(), 42, "hi"))
	assert.Equal(t, []string{"hi"}, tg.texts(42))
}

func TestSender_GivesUpOnForbidden(t *testing.T) {
	tg := &fakeTelegram{errs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}}
	l := zerolog.Nop()
	s := newSender(tg, 100, &l)

	err := s.SendText(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.Empty(t, tg.texts(42))
}
