package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// send sends a message and logs any errors
func (tb *TelegramBot) send(c tgbotapi.Chattable, chatID int64) bool {
	if _, err := tb.api.Send(c); err != nil {
		tb.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"error":   err,
		}).Error("Failed to send message")
		return false
	}
	return true
}

func (tb *TelegramBot) sendText(chatID int64, text string) {
	tb.send(tgbotapi.NewMessage(chatID, text), chatID)
}

func (tb *TelegramBot) sendHTML(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	tb.send(msg, chatID)
}

func (tb *TelegramBot) sendMenu(chatID int64, text string) {
	tb.sendHTML(chatID, text, mainMenuKeyboard())
}

// answer acknowledges a callback query so the client stops its spinner.
func (tb *TelegramBot) answer(query *tgbotapi.CallbackQuery, text string) {
	if _, err := tb.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		tb.logger.WithError(err).WithField("user_id", query.From.ID).Warn("Failed to answer callback")
	}
}

// clearButtons removes the inline keyboard from a message.
func (tb *TelegramBot) clearButtons(chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := tb.api.Request(edit); err != nil {
		tb.logger.WithError(err).WithField("chat_id", chatID).Debug("Failed to clear buttons")
	}
}

// logEvent mirrors an event to the log chat when one is configured.
func (tb *TelegramBot) logEvent(text string) {
	if tb.opts.LogChatID == 0 {
		return
	}
	tb.sendHTML(tb.opts.LogChatID, text, nil)
}
