package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusSource — то, что показывает команда /status.
type StatusSource interface {
	Running() bool
	LastTick() time.Time
	TradeHistory() []models.TradeResult
}

// Telegram — пассивный нотифайер + обработка команды /status.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	status StatusSource
}

func NewTelegram(token string, chatID int64, status StatusSource) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, status: status}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("[NOTIFY] telegram send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func (t *Telegram) handleStatus() {
	if t.status == nil {
		return
	}
	state := "⏸ остановлен"
	if t.status.Running() {
		state = "▶️ работает"
	}
	last := "нет"
	if lt := t.status.LastTick(); !lt.IsZero() {
		last = lt.UTC().Format(time.RFC3339)
	}
	trades := t.status.TradeHistory()

	var b strings.Builder
	fmt.Fprintf(&b, "Движок: %s\nПоследний тик: %s\nСделок: %d\n", state, last, len(trades))
	n := len(trades)
	if n > 5 {
		trades = trades[n-5:]
	}
	for _, tr := range trades {
		b.WriteString("- " + FormatTrade(tr) + "\n")
	}
	t.Send(b.String())
}

// Start: long-polling для сообщений из своего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {

					switch upd.Message.Command() {
					case "status":
						go t.handleStatus()
					}
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}

// Stdout — заглушка без токена: всё уходит в лог.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }
