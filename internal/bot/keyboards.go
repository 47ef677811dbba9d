package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"number-shop/internal/shop"
)

func button(text, action, value string) tgbotapi.InlineKeyboardButton {
	data, _ := callbackData(action, value)
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

// mainMenuKeyboard creates the main keyboard with the shop's entry points
func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("💰 Balance", cbBalance, ""),
			button("👤 Account details", cbAccount, ""),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("💳 Recharge", cbRecharge, ""),
			button("🆘 Support", cbSupport, ""),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("📱 Buy number", cbCountries, ""),
		),
		tgbotapi.NewInlineKeyboardRow(
			button("📖 How to use", cbHowTo, ""),
		),
	)
}

func backKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", cbMenu, "")),
	)
}

func rechargePromptKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("💳 Recharge", cbRecharge, "")),
		tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", cbMenu, "")),
	)
}

// countryKeyboard lists countries two per row. Countries whose names do
// not fit in callback data are left out.
func (tb *TelegramBot) countryKeyboard(offers []shop.Offer, action string, withBack bool) (tgbotapi.InlineKeyboardMarkup, int) {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	shown := 0

	for _, o := range offers {
		data, ok := callbackData(action, o.Country.Name)
		if !ok {
			tb.logger.WithField("country", o.Country.Name).Warn("Country name too long for a button")
			continue
		}
		label := fmt.Sprintf("%s %s (%d)", flag(o.Country.Region), o.Country.Name, o.Available)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, data))
		shown++
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if withBack {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", cbMenu, "")))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}, shown
}

func countryCardKeyboard(country string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("🛒 Buy now", cbBuyNow, country)),
		tgbotapi.NewInlineKeyboardRow(button("⬅️ Countries", cbCountries, "")),
	)
}

func rechargeMethodKeyboard(automatic bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(button("🏦 Manual (UPI)", cbManual, "")),
	}
	if automatic {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⚡ Automatic", cbAutomatic, "")))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("⬅️ Back", cbMenu, "")))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func paidKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("✅ I've Paid", cbPaid, "")),
		tgbotapi.NewInlineKeyboardRow(button("❌ Cancel", cbCancel, "")),
	)
}

func reviewKeyboard(rechargeID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("✅ Approve", cbApprove, rechargeID),
			button("❌ Decline", cbDecline, rechargeID),
		),
	)
}

func joinKeyboard(channel string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Join channel", "https://t.me/"+channel[1:]),
		),
		tgbotapi.NewInlineKeyboardRow(button("✅ I've joined", cbJoined, "")),
	)
}

// flag turns an ISO region code into its emoji flag.
func flag(region string) string {
	if len(region) != 2 {
		return "🌐"
	}
	var out []rune
	for _, r := range region {
		if r < 'A' || r > 'Z' {
			return "🌐"
		}
		out = append(out, 0x1F1E6+(r-'A'))
	}
	return string(out)
}
