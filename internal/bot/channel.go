package bot

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// isMember reports whether a user belongs to the required channel. Lookup
// errors let the user through, since a misconfigured channel would
// otherwise lock everyone out.
func (tb *TelegramBot) isMember(userID int64) bool {
	if tb.opts.RequiredChannel == "" {
		return true
	}

	member, err := tb.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: tb.opts.RequiredChannel,
			UserID:             userID,
		},
	})
	if err != nil {
		tb.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"channel": tb.opts.RequiredChannel,
			"error":   err,
		}).Warn("Failed to check channel membership")
		return true
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true
	case "restricted":
		return member.IsMember
	}
	return false
}

// ensureMember asks the user to join the required channel when needed.
func (tb *TelegramBot) ensureMember(chatID, userID int64) bool {
	if tb.isMember(userID) {
		return true
	}
	tb.sendHTML(chatID, fmt.Sprintf("📢 To use this bot, please join %s first, then press <b>I've joined</b>.",
		html.EscapeString(tb.opts.RequiredChannel)), joinKeyboard(tb.opts.RequiredChannel))
	return false
}

func (tb *TelegramBot) handleJoined(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64) {
	if !tb.isMember(query.From.ID) {
		tb.answer(query, "❌ You have not joined the channel yet.")
		return
	}
	tb.answer(query, "✅ Thanks for joining!")

	if _, err := tb.shop.Register(ctx, query.From.ID, query.From.UserName, fullName(query.From)); err != nil {
		tb.logger.WithError(err).WithField("user_id", query.From.ID).Error("Failed to register user")
	}
	tb.sendMenu(chatID, "🏠 Main menu")
}
