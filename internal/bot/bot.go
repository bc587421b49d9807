package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orders is what the staff bot needs from the booking lifecycle.
type Orders interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error)
	CancelBooking(ctx context.Context, id string, actor string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string, actor string) (*models.Booking, error)
}

// Bot is the salon staff bot: managers list the day's bookings and close them.
type Bot struct {
	tgService  domain.TelegramService
	orders     Orders
	salonID    string
	managers   map[int64]bool
	digestTime string
	loc        *time.Location
	metrics    *Metrics
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewBot(
	tgService domain.TelegramService,
	orders Orders,
	cfg *config.Config,
	metrics *Metrics,
	logger *zerolog.Logger,
) (*Bot, error) {
	if logger == nil {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger = &l
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	managers := make(map[int64]bool, len(cfg.Bot.Managers))
	for _, id := range cfg.Bot.Managers {
		managers[id] = true
	}

	return &Bot{
		tgService:  tgService,
		orders:     orders,
		salonID:    cfg.Bot.SalonID,
		managers:   managers,
		digestTime: cfg.Bot.DigestTime,
		loc:        loc,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

const (
	CommandStart    = "start"
	CommandHelp     = "help"
	CommandToday    = "today"
	CommandOrders   = "orders"
	CommandBooking  = "booking"
	CommandComplete = "complete"
	CommandCancel   = "cancel"

	callbackComplete = "complete"
	callbackCancel   = "cancel"
)

const helpText = `*Команды*
/today - заявки на сегодня
/orders [YYYY-MM-DD] - предстоящие заявки или заявки на дату
/booking <id> - карточка заявки
/complete <id> - отметить заявку выполненной
/cancel <id> - отменить заявку`

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Str("salon_id", b.salonID).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates.
func (b *Bot) Stop() {
	if b == nil || b.tgService == nil {
		return
	}
	b.tgService.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	// Создаем контекст для обработки каждого обновления
	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	requestID := uuid.New().String()
	l := b.logger.With().Str("request_id", requestID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		switch {
		case update.CallbackQuery != nil:
			if !b.allow(update.CallbackQuery.From, update.CallbackQuery.Message) {
				_ = b.tgService.AnswerCallback(update.CallbackQuery.ID, "Нет доступа")
				return
			}
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
		case update.Message != nil:
			if !update.Message.IsCommand() {
				return
			}
			if !b.allow(update.Message.From, update.Message) {
				return
			}
			b.handleCommand(updateCtx, update.Message)
		}
	})
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	b.metrics.command(command)

	zerolog.Ctx(ctx).Debug().Str("command", command).Int64("user_id", msg.From.ID).Msg("Command received")

	switch command {
	case CommandStart, CommandHelp:
		b.sendMarkdown(chatID, helpText)
	case CommandToday:
		b.showDay(ctx, chatID, b.now().In(b.loc))
	case CommandOrders:
		if args == "" {
			b.showUpcoming(ctx, chatID)
			return
		}
		day, err := time.ParseInLocation(models.DateLayout, args, b.loc)
		if err != nil {
			b.sendMessage(chatID, "⚠️ Неверный формат даты. Используйте YYYY-MM-DD.")
			return
		}
		b.showDay(ctx, chatID, day)
	case CommandBooking:
		b.showBooking(ctx, chatID, args)
	case CommandComplete:
		b.changeStatus(ctx, chatID, args, models.StatusCompleted, actorName(msg.From))
	case CommandCancel:
		b.changeStatus(ctx, chatID, args, models.StatusCancelled, actorName(msg.From))
	default:
		b.sendMessage(chatID, "Неизвестная команда. /help - список команд.")
	}
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	action, id, ok := strings.Cut(query.Data, ":")
	if !ok || id == "" {
		_ = b.tgService.AnswerCallback(query.ID, "")
		return
	}

	var status string
	switch action {
	case callbackComplete:
		status = models.StatusCompleted
	case callbackCancel:
		status = models.StatusCancelled
	default:
		_ = b.tgService.AnswerCallback(query.ID, "")
		return
	}
	b.metrics.command("callback_" + action)

	booking, err := b.setStatus(ctx, id, status, actorName(query.From))
	if err != nil {
		_ = b.tgService.AnswerCallback(query.ID, "Ошибка")
		b.sendMessage(query.Message.Chat.ID, b.getErrorMessage(err))
		return
	}
	if err := b.tgService.AnswerCallback(query.ID, statusLabel(booking.Status)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("answer callback failed")
	}
	b.sendMarkdown(query.Message.Chat.ID, formatBooking(booking))
}

func (b *Bot) setStatus(ctx context.Context, id, status, actor string) (*models.Booking, error) {
	var (
		booking *models.Booking
		err     error
	)
	if status == models.StatusCompleted {
		booking, err = b.orders.CompleteBooking(ctx, id, actor)
	} else {
		booking, err = b.orders.CancelBooking(ctx, id, actor)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("booking_id", id).Str("status", status).Msg("status change failed")
		return nil, err
	}
	if booking.SalonID != b.salonID {
		zerolog.Ctx(ctx).Warn().Str("booking_id", id).Str("salon_id", booking.SalonID).Msg("status changed on a foreign salon booking")
	}
	if b.metrics != nil {
		b.metrics.StatusChanges.WithLabelValues(status).Inc()
	}
	return booking, nil
}

func (b *Bot) changeStatus(ctx context.Context, chatID int64, id, status, actor string) {
	if id == "" {
		b.sendMessage(chatID, "⚠️ Укажите идентификатор заявки.")
		return
	}
	booking, err := b.setStatus(ctx, id, status, actor)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	b.sendMarkdown(chatID, formatBooking(booking))
}

func (b *Bot) showBooking(ctx context.Context, chatID int64, id string) {
	if id == "" {
		b.sendMessage(chatID, "⚠️ Укажите идентификатор заявки.")
		return
	}
	booking, err := b.orders.GetBooking(ctx, id)
	if err != nil {
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}
	b.sendBookingCard(chatID, booking)
}

func (b *Bot) showDay(ctx context.Context, chatID int64, day time.Time) {
	bookings, err := b.orders.ListSalonBookings(ctx, b.salonID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list bookings failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	date := day.Format(models.DateLayout)
	dayBookings := filterBookings(bookings, func(bk *models.Booking) bool {
		return bk.Date == date && bk.Active()
	})
	if len(dayBookings) == 0 {
		b.sendMessage(chatID, fmt.Sprintf("На %s заявок нет.", day.Format("02.01.2006")))
		return
	}

	b.sendMarkdown(chatID, fmt.Sprintf("*Заявки на %s: %d*", day.Format("02.01.2006"), len(dayBookings)))
	for _, booking := range dayBookings {
		b.sendBookingCard(chatID, booking)
	}
}

const upcomingLimit = 20

func (b *Bot) showUpcoming(ctx context.Context, chatID int64) {
	bookings, err := b.orders.ListSalonBookings(ctx, b.salonID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list bookings failed")
		b.sendMessage(chatID, b.getErrorMessage(err))
		return
	}

	now := b.now()
	upcoming := filterBookings(bookings, func(bk *models.Booking) bool {
		return !models.Terminal(bk.Status) && !bk.SlotAt.Before(now)
	})
	if len(upcoming) == 0 {
		b.sendMessage(chatID, "Предстоящих заявок нет.")
		return
	}
	if len(upcoming) > upcomingLimit {
		upcoming = upcoming[:upcomingLimit]
	}
	b.sendMarkdown(chatID, formatBookingList(upcoming))
}

func (b *Bot) sendBookingCard(chatID int64, booking *models.Booking) {
	keyboard, ok := bookingKeyboard(booking)
	if !ok {
		b.sendMarkdown(chatID, formatBooking(booking))
		return
	}
	if _, err := b.tgService.SendWithInlineKeyboard(chatID, formatBooking(booking), keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send booking card failed")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tgService.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	if _, err := b.tgService.SendMarkdown(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}
