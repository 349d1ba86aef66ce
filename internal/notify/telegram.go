package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramSink delivers messages to a Telegram chat.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink authorizes against the bot API. With no token or chat id
// it returns a log-only sink, so an unconfigured deployment still surfaces
// every alert in its own logs.
func NewTelegramSink(token string, chatID int64, logger *zap.Logger) (Sink, error) {
	if token == "" || chatID == 0 {
		logger.Info("telegram-disabled-logging-alerts-instead")
		return &logSink{logger: logger}, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("telegram-authorized", zap.String("bot", api.Self.UserName))
	return &TelegramSink{api: api, chatID: chatID}, nil
}

// Send delivers one plain-text message.
func (s *TelegramSink) Send(text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// logSink is the fallback when Telegram is not configured.
type logSink struct {
	logger *zap.Logger
}

func (s *logSink) Send(text string) error {
	s.logger.Info("alert", zap.String("text", text))
	return nil
}
