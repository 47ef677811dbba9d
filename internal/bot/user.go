package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"number-shop/internal/shop"
)

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (tb *TelegramBot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}
	userID := query.From.ID
	chatID := userID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}

	if !tb.limiter.allow(userID) {
		tb.answer(query, "⏳ Slow down a little.")
		return
	}

	action, value := parseCallback(query.Data)
	tb.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"action":  action,
		"value":   value,
	}).Debug("Received callback")

	switch action {
	case cbApprove, cbDecline:
		tb.handleReview(ctx, query, chatID, action == cbApprove, value)
		return
	case cbStockCountry:
		tb.handleStockCountry(query, chatID, value)
		return
	case cbJoined:
		tb.handleJoined(ctx, query, chatID)
		return
	}

	if !tb.isAdmin(userID) && !tb.ensureMember(chatID, userID) {
		tb.answer(query, "")
		return
	}
	tb.answer(query, "")

	switch action {
	case cbMenu:
		tb.sessions.clear(userID)
		tb.sendMenu(chatID, "🏠 Main menu")
	case cbCancel:
		tb.sessions.clear(userID)
		tb.sendMenu(chatID, "❌ Cancelled.")
	case cbBalance:
		tb.showBalance(ctx, chatID, query.From)
	case cbAccount:
		tb.showAccount(ctx, chatID, query.From)
	case cbSupport:
		tb.showSupport(chatID)
	case cbHowTo:
		tb.showHowTo(chatID)
	case cbCountries:
		tb.sessions.clear(userID)
		tb.showCountries(ctx, chatID)
	case cbCountry:
		tb.showCountry(ctx, chatID, value)
	case cbBuyNow:
		tb.promptQuantity(ctx, chatID, userID, value)
	case cbRecharge:
		tb.sessions.clear(userID)
		tb.showRechargeMenu(chatID)
	case cbManual:
		tb.showDeposit(chatID)
	case cbPaid:
		tb.startManualRecharge(chatID, userID)
	case cbAutomatic:
		tb.startAutomaticRecharge(chatID, userID)
	default:
		tb.sendMenu(chatID, "❓ This button is no longer valid.")
	}
}

// handleStart handles the /start command
func (tb *TelegramBot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	if _, err := tb.shop.Register(ctx, message.From.ID, message.From.UserName, fullName(message.From)); err != nil {
		tb.logger.WithError(err).WithField("user_id", message.From.ID).Error("Failed to register user")
		tb.sendText(message.Chat.ID, "⚠️ Something went wrong, please try again later.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👋 Welcome, <b>%s</b>!\n\n", html.EscapeString(message.From.FirstName))
	b.WriteString("Buy virtual phone numbers for many countries. Top up your balance, pick a country and get your numbers instantly.\n")
	if tb.opts.TermsURL != "" {
		fmt.Fprintf(&b, "\nBy using this bot you accept the <a href=\"%s\">terms of service</a>.\n", html.EscapeString(tb.opts.TermsURL))
	}
	tb.sendMenu(message.Chat.ID, b.String())
}

func (tb *TelegramBot) handleHelp(chatID, userID int64) {
	text := `<b>Commands</b>
/start - main menu
/balance - show your balance
/history - your recent orders
/recharge - top up your balance
/stats - shop statistics
/support - contact support
/cancel - abort the current action`

	if tb.isAdmin(userID) {
		text += `

<b>Admin</b>
/addstock - add numbers to a country
/addcountry &lt;name&gt; [price] - add a country
/setprice [country price] - change a price
/pricing - prices and stock
/addbalance &lt;user id&gt; &lt;amount&gt; - credit a user
/pending - recharges waiting for review`
	}
	tb.sendHTML(chatID, text, backKeyboard())
}

func (tb *TelegramBot) showBalance(ctx context.Context, chatID int64, from *tgbotapi.User) {
	u, err := tb.shop.Register(ctx, from.ID, from.UserName, fullName(from))
	if err != nil {
		tb.logger.WithError(err).WithField("user_id", from.ID).Error("Failed to read balance")
		tb.sendText(chatID, "⚠️ Could not read your balance, please try again later.")
		return
	}
	tb.sendHTML(chatID, fmt.Sprintf("💰 Your balance: <b>%s</b>", tb.format(u.Balance)), rechargePromptKeyboard())
}

func (tb *TelegramBot) showAccount(ctx context.Context, chatID int64, from *tgbotapi.User) {
	u, err := tb.shop.Register(ctx, from.ID, from.UserName, fullName(from))
	if err != nil {
		tb.logger.WithError(err).WithField("user_id", from.ID).Error("Failed to load account")
		tb.sendText(chatID, "⚠️ Could not load your account, please try again later.")
		return
	}
	orders, err := tb.shop.History(ctx, from.ID, 0)
	if err != nil {
		tb.logger.WithError(err).WithField("user_id", from.ID).Warn("Failed to count orders")
	}

	username := "-"
	if u.Username != "" {
		username = "@" + u.Username
	}
	text := fmt.Sprintf(`👤 <b>Account details</b>

ID: <code>%d</code>
Name: %s
Username: %s
Balance: <b>%s</b>
Orders: %d
Member since: %s`,
		u.ID,
		html.EscapeString(u.FullName),
		html.EscapeString(username),
		tb.format(u.Balance),
		len(orders),
		u.CreatedAt.Format("2006-01-02"),
	)
	tb.sendHTML(chatID, text, backKeyboard())
}

func (tb *TelegramBot) showSupport(chatID int64) {
	tb.sendHTML(chatID, fmt.Sprintf("🆘 Need help? Contact %s", html.EscapeString(tb.opts.SupportHandle)), backKeyboard())
}

func (tb *TelegramBot) showHowTo(chatID int64) {
	text := `📖 <b>How to use</b>

1. Recharge your balance with 💳 Recharge.
2. Open 📱 Buy number and pick a country.
3. Press 🛒 Buy now and send how many numbers you want.
4. Your numbers arrive in this chat and are listed in /history.`
	tb.sendHTML(chatID, text, backKeyboard())
}

func (tb *TelegramBot) showCountries(ctx context.Context, chatID int64) {
	offers, err := tb.shop.Catalog(ctx)
	if err != nil {
		tb.logger.WithError(err).Error("Failed to load catalog")
		tb.sendText(chatID, "⚠️ Could not load countries, please try again later.")
		return
	}

	keyboard, shown := tb.countryKeyboard(offers, cbCountry, true)
	if shown == 0 {
		tb.sendHTML(chatID, "😔 No countries are available right now.", backKeyboard())
		return
	}
	tb.sendHTML(chatID, "🌍 Choose a country:", keyboard)
}

func (tb *TelegramBot) showCountry(ctx context.Context, chatID int64, country string) {
	offer, err := tb.shop.Offer(ctx, country)
	if err != nil {
		tb.replyError(chatID, err)
		return
	}

	text := fmt.Sprintf(`%s <b>%s</b>

Price: <b>%s</b> per number
Available: %d`,
		flag(offer.Country.Region),
		html.EscapeString(offer.Country.Name),
		tb.format(offer.Price),
		offer.Available,
	)
	tb.sendHTML(chatID, text, countryCardKeyboard(offer.Country.Name))
}

func (tb *TelegramBot) promptQuantity(ctx context.Context, chatID, userID int64, country string) {
	offer, err := tb.shop.Offer(ctx, country)
	if err != nil {
		tb.replyError(chatID, err)
		return
	}
	if offer.Available == 0 {
		tb.sendHTML(chatID, fmt.Sprintf("😔 %s is out of stock.", html.EscapeString(offer.Country.Name)), backKeyboard())
		return
	}

	limit := int64(tb.shop.MaxPerOrder())
	if offer.Available < limit {
		limit = offer.Available
	}
	tb.sessions.set(userID, session{Step: stepBuyQuantity, Country: offer.Country.Name})
	tb.sendText(chatID, fmt.Sprintf("🔢 How many %s numbers do you want? Send a number from 1 to %d, or /cancel.", offer.Country.Name, limit))
}

func (tb *TelegramBot) handleQuantity(ctx context.Context, message *tgbotapi.Message, sess session) {
	chatID := message.Chat.ID
	userID := message.From.ID

	qty, err := strconv.Atoi(strings.TrimSpace(message.Text))
	if err != nil || qty < 1 || qty > tb.shop.MaxPerOrder() {
		tb.sendText(chatID, fmt.Sprintf("❌ Please send a whole number from 1 to %d, or /cancel.", tb.shop.MaxPerOrder()))
		return
	}
	tb.sessions.clear(userID)

	receipt, err := tb.shop.Buy(ctx, userID, sess.Country, qty)
	if err != nil {
		tb.replyError(chatID, err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>Purchase successful!</b>\n\nCountry: %s\n", html.EscapeString(receipt.Country))
	b.WriteString("Numbers:\n")
	for _, n := range receipt.Numbers {
		fmt.Fprintf(&b, "<code>%s</code>\n", n)
	}
	fmt.Fprintf(&b, "\nTotal: %s\nBalance: %s", tb.format(receipt.Total), tb.format(receipt.Balance))
	tb.sendMenu(chatID, b.String())

	tb.logEvent(fmt.Sprintf("🛒 <b>Purchase</b>\nUser: <code>%d</code> %s\nCountry: %s\nQuantity: %d\nTotal: %s",
		userID, html.EscapeString(message.From.UserName), html.EscapeString(receipt.Country), len(receipt.Numbers), tb.format(receipt.Total)))
}

func (tb *TelegramBot) handleHistory(ctx context.Context, chatID, userID int64) {
	purchases, err := tb.shop.History(ctx, userID, historyLimit)
	if err != nil {
		tb.logger.WithError(err).WithField("user_id", userID).Error("Failed to load history")
		tb.sendText(chatID, "⚠️ Could not load your orders, please try again later.")
		return
	}
	if len(purchases) == 0 {
		tb.sendHTML(chatID, "📭 You have no orders yet.", backKeyboard())
		return
	}

	var b strings.Builder
	b.WriteString("🧾 <b>Recent orders</b>\n")
	for _, p := range purchases {
		fmt.Fprintf(&b, "\n%s | %s | %s\n", p.CreatedAt.Format("2006-01-02 15:04"), html.EscapeString(p.Country), tb.format(p.Total))
		for _, n := range p.Numbers {
			fmt.Fprintf(&b, "<code>%s</code>\n", n)
		}
	}
	tb.sendHTML(chatID, b.String(), backKeyboard())
}

func (tb *TelegramBot) handleStats(ctx context.Context, chatID int64) {
	users, err := tb.shop.CountUsers(ctx)
	if err != nil {
		tb.logger.WithError(err).Error("Failed to count users")
		tb.sendText(chatID, "⚠️ Could not load statistics, please try again later.")
		return
	}
	offers, err := tb.shop.Catalog(ctx)
	if err != nil {
		tb.logger.WithError(err).Error("Failed to load catalog")
		tb.sendText(chatID, "⚠️ Could not load statistics, please try again later.")
		return
	}

	var stock int64
	for _, o := range offers {
		stock += o.Available
	}
	tb.sendHTML(chatID, fmt.Sprintf("📊 <b>Statistics</b>\n\nUsers: %d\nCountries: %d\nNumbers in stock: %d", users, len(offers), stock), backKeyboard())
}

// replyError maps shop errors to messages for the user.
func (tb *TelegramBot) replyError(chatID int64, err error) {
	var funds *shop.InsufficientFundsError
	var shortage *shop.StockShortageError

	switch {
	case errors.As(err, &funds):
		tb.sendHTML(chatID, fmt.Sprintf("❌ Insufficient balance.\n\nRequired: %s\nYour balance: %s\n\nPlease recharge and try again.",
			tb.format(funds.Required), tb.format(funds.Balance)), rechargePromptKeyboard())
	case errors.As(err, &shortage):
		tb.sendHTML(chatID, fmt.Sprintf("😔 Only %d numbers are available in %s.", shortage.Available, html.EscapeString(shortage.Country)), backKeyboard())
	case errors.Is(err, shop.ErrInvalidQuantity):
		tb.sendText(chatID, fmt.Sprintf("❌ You can buy 1 to %d numbers per order.", tb.shop.MaxPerOrder()))
	case errors.Is(err, shop.ErrUnknownCountry):
		tb.sendHTML(chatID, "❌ This country is not available.", backKeyboard())
	case errors.Is(err, shop.ErrInvalidAmount):
		tb.sendText(chatID, "❌ That amount is not valid.")
	default:
		tb.logger.WithError(err).WithField("chat_id", chatID).Error("Request failed")
		tb.sendText(chatID, "⚠️ Something went wrong, please try again later.")
	}
}
