package notify

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramConfig holds Telegram platform settings
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// telegramAPI is the part of tgbotapi.BotAPI the platform uses
type telegramAPI interface {
	GetMe() (tgbotapi.User, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications to one chat. A repeated tag edits the
// message sent earlier for that tag instead of posting a new one.
type Telegram struct {
	api    telegramAPI
	chatID int64
	logger *zap.Logger

	mu    sync.Mutex
	byTag map[string]int
}

// NewTelegram connects to the Bot API
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false
	return newTelegram(api, cfg.ChatID, logger), nil
}

func newTelegram(api telegramAPI, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		api:    api,
		chatID: chatID,
		logger: logger,
		byTag:  make(map[string]int),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Available() bool {
	return t.api != nil && t.chatID != 0
}

func (t *Telegram) RequestPermission(ctx context.Context) (Permission, error) {
	me, err := t.api.GetMe()
	if err != nil {
		return PermissionDefault, fmt.Errorf("telegram getMe: %w", err)
	}
	t.logger.Info("Authorized on Telegram", zap.String("account", me.UserName))
	return PermissionGranted, nil
}

func (t *Telegram) Show(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("🔔 %s\n%s", n.Title, n.Body)

	t.mu.Lock()
	msgID, seen := t.byTag[n.Tag]
	t.mu.Unlock()

	if seen && n.Tag != "" {
		edit := tgbotapi.NewEditMessageText(t.chatID, msgID, text)
		if _, err := t.api.Send(edit); err == nil {
			return nil
		}
		// the old message may have been deleted; fall through and post a new one
	}

	sent, err := t.api.Send(tgbotapi.NewMessage(t.chatID, text))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if n.Tag != "" {
		t.mu.Lock()
		t.byTag[n.Tag] = sent.MessageID
		t.mu.Unlock()
	}
	return nil
}
