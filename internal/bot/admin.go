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

	"number-shop/internal/money"
	"number-shop/internal/phone"
	"number-shop/internal/shop"
	"number-shop/internal/store"
)

var adminCommands = map[string]struct{}{
	"addstock":   {},
	"addcountry": {},
	"setprice":   {},
	"pricing":    {},
	"addbalance": {},
	"pending":    {},
}

func (tb *TelegramBot) handleAdminCommand(ctx context.Context, message *tgbotapi.Message) {
	tb.logger.WithFields(logrus.Fields{
		"user_id": message.From.ID,
		"command": message.Command(),
	}).Info("Admin command")

	switch message.Command() {
	case "addstock":
		tb.handleAddStock(ctx, message)
	case "addcountry":
		tb.handleAddCountry(ctx, message)
	case "setprice":
		tb.handleSetPrice(ctx, message)
	case "pricing":
		tb.handlePricing(ctx, message.Chat.ID)
	case "addbalance":
		tb.handleAddBalance(ctx, message)
	case "pending":
		tb.handlePending(ctx, message.Chat.ID)
	}
}

func (tb *TelegramBot) handleAddStock(ctx context.Context, message *tgbotapi.Message) {
	offers, err := tb.shop.Catalog(ctx)
	if err != nil {
		tb.replyError(message.Chat.ID, err)
		return
	}

	keyboard, shown := tb.countryKeyboard(offers, cbStockCountry, false)
	if shown == 0 {
		tb.sendText(message.Chat.ID, "No countries yet. Add one with /addcountry <name> [price].")
		return
	}
	tb.sendHTML(message.Chat.ID, "📦 Which country are the numbers for?", keyboard)
}

func (tb *TelegramBot) handleStockCountry(query *tgbotapi.CallbackQuery, chatID int64, country string) {
	if !tb.isAdmin(query.From.ID) {
		tb.answer(query, "🚫 Admins only.")
		return
	}
	tb.answer(query, "")

	tb.sessions.set(query.From.ID, session{Step: stepStockNumbers, Country: country})
	tb.sendHTML(chatID, fmt.Sprintf("📥 Send the %s numbers in international format, one per line. /cancel to abort.", html.EscapeString(country)), nil)
}

func (tb *TelegramBot) handleStockNumbers(ctx context.Context, message *tgbotapi.Message, sess session) {
	chatID := message.Chat.ID
	if strings.TrimSpace(message.Text) == "" {
		tb.sendText(chatID, "❌ Send the numbers as text, one per line.")
		return
	}
	tb.sessions.clear(message.From.ID)

	report, err := tb.shop.AddNumbers(ctx, message.From.ID, sess.Country, message.Text)
	if err != nil && report == nil {
		tb.replyError(chatID, err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 <b>%s</b>\n\nAdded: %d\n", html.EscapeString(sess.Country), len(report.Added))
	writeList(&b, "Already in stock", report.Duplicates)
	writeList(&b, "Invalid", report.Invalid)
	writeList(&b, "Wrong country", report.Mismatched)
	if err != nil {
		tb.logger.WithError(err).WithField("country", sess.Country).Error("Stock intake stopped early")
		b.WriteString("\n⚠️ Stopped early because of a storage error. Send the remaining numbers again.")
	}
	tb.sendHTML(chatID, b.String(), nil)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %d\n", title, len(items))
	for _, it := range items {
		fmt.Fprintf(b, "  <code>%s</code>\n", html.EscapeString(it))
	}
}

// splitPriceArg separates a trailing price from a name, e.g.
// "South Africa 120" -> ("South Africa", 12000, true).
func splitPriceArg(args string) (string, money.Amount, bool) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return strings.Join(fields, " "), 0, false
	}
	price, err := money.Parse(fields[len(fields)-1])
	if err != nil {
		return strings.Join(fields, " "), 0, false
	}
	return strings.Join(fields[:len(fields)-1], " "), price, true
}

func (tb *TelegramBot) handleAddCountry(ctx context.Context, message *tgbotapi.Message) {
	name, price, _ := splitPriceArg(message.CommandArguments())
	if name == "" {
		tb.sendText(message.Chat.ID, "Usage: /addcountry <name> [price]")
		return
	}

	c, err := tb.shop.AddCountry(ctx, name, price, true)
	if err != nil {
		tb.replyError(message.Chat.ID, err)
		return
	}

	note := ""
	if c.Region == "" {
		note = "\n⚠️ Not a recognised country, numbers will not be checked against a region."
	}
	tb.sendHTML(message.Chat.ID, fmt.Sprintf("✅ %s <b>%s</b> saved at %s.%s",
		flag(c.Region), html.EscapeString(c.Name), tb.format(tb.shop.EffectivePrice(*c)), note), nil)
}

func (tb *TelegramBot) handleSetPrice(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	args := strings.TrimSpace(message.CommandArguments())
	if args == "" {
		tb.sessions.set(message.From.ID, session{Step: stepPriceCountry})
		tb.sendText(chatID, "🌍 Which country? Send its name or two letter code. /cancel to abort.")
		return
	}

	name, price, ok := splitPriceArg(args)
	if !ok {
		tb.sendText(chatID, "Usage: /setprice <country> <price>, or /setprice alone for a guided setup.")
		return
	}
	tb.applyPrice(ctx, chatID, name, price, false)
}

func (tb *TelegramBot) handlePriceCountry(ctx context.Context, message *tgbotapi.Message, sess session) {
	chatID := message.Chat.ID
	input := strings.TrimSpace(message.Text)
	if input == "" {
		tb.sendText(chatID, "❌ Send the country name as text.")
		return
	}

	if c, err := tb.shop.ResolveCountry(ctx, input); err == nil {
		tb.askPrice(chatID, message.From.ID, c.Name, false, tb.shop.EffectivePrice(*c))
		return
	} else if !errors.Is(err, shop.ErrUnknownCountry) {
		tb.replyError(chatID, err)
		return
	}

	if region, ok := phone.RegionForCountry(input); ok {
		tb.askPrice(chatID, message.From.ID, phone.CountryName(region), false, tb.shop.DefaultPrice())
		return
	}

	tb.sessions.set(message.From.ID, session{Step: stepPriceConfirm, Country: input})
	tb.sendHTML(chatID, fmt.Sprintf("⚠️ <b>%s</b> is not a recognised country. Reply YES to add it as is, or send another name.", html.EscapeString(input)), nil)
}

func (tb *TelegramBot) handlePriceConfirm(ctx context.Context, message *tgbotapi.Message, sess session) {
	if strings.EqualFold(strings.TrimSpace(message.Text), "yes") {
		tb.askPrice(message.Chat.ID, message.From.ID, sess.Country, true, tb.shop.DefaultPrice())
		return
	}
	// Anything else is taken as another country name.
	tb.handlePriceCountry(ctx, message, session{Step: stepPriceCountry})
}

func (tb *TelegramBot) askPrice(chatID, userID int64, country string, freeform bool, current money.Amount) {
	tb.sessions.set(userID, session{Step: stepPriceAmount, Country: country, Freeform: freeform})
	tb.sendHTML(chatID, fmt.Sprintf("💲 Current price for <b>%s</b> is %s. Send the new price.", html.EscapeString(country), tb.format(current)), nil)
}

func (tb *TelegramBot) handlePriceAmount(ctx context.Context, message *tgbotapi.Message, sess session) {
	price, err := money.Parse(message.Text)
	if err != nil {
		tb.sendText(message.Chat.ID, "❌ Send a positive amount with at most two decimals, e.g. 150 or 99.50.")
		return
	}
	tb.sessions.clear(message.From.ID)
	tb.applyPrice(ctx, message.Chat.ID, sess.Country, price, sess.Freeform)
}

func (tb *TelegramBot) applyPrice(ctx context.Context, chatID int64, country string, price money.Amount, freeform bool) {
	c, err := tb.shop.SetPrice(ctx, country, price, freeform)
	switch {
	case errors.Is(err, shop.ErrUnknownCountry):
		tb.sendHTML(chatID, fmt.Sprintf("❌ <b>%s</b> is not a recognised country. Use /setprice without arguments to add it anyway.", html.EscapeString(country)), nil)
		return
	case errors.Is(err, shop.ErrInvalidAmount):
		tb.sendText(chatID, "❌ The price must be positive.")
		return
	case err != nil:
		tb.replyError(chatID, err)
		return
	}
	tb.sendHTML(chatID, fmt.Sprintf("✅ Price for %s <b>%s</b> set to %s.", flag(c.Region), html.EscapeString(c.Name), tb.format(price)), nil)
}

func (tb *TelegramBot) handlePricing(ctx context.Context, chatID int64) {
	offers, err := tb.shop.Catalog(ctx)
	if err != nil {
		tb.replyError(chatID, err)
		return
	}
	if len(offers) == 0 {
		tb.sendText(chatID, "No countries yet.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💲 <b>Pricing</b> (default %s)\n\n", tb.format(tb.shop.DefaultPrice()))
	for _, o := range offers {
		suffix := ""
		if o.Country.Price == 0 {
			suffix = " (default)"
		}
		fmt.Fprintf(&b, "%s %s: %s%s, %d in stock\n", flag(o.Country.Region), html.EscapeString(o.Country.Name), tb.format(o.Price), suffix, o.Available)
	}
	tb.sendHTML(chatID, b.String(), nil)
}

func (tb *TelegramBot) handleAddBalance(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	fields := strings.Fields(message.CommandArguments())
	if len(fields) != 2 {
		tb.sendText(chatID, "Usage: /addbalance <user id> <amount>")
		return
	}

	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		tb.sendText(chatID, "❌ The user id must be a number.")
		return
	}
	amount, err := money.Parse(fields[1])
	if err != nil {
		tb.sendText(chatID, "❌ Send a positive amount with at most two decimals.")
		return
	}

	u, err := tb.shop.Credit(ctx, userID, amount)
	if errors.Is(err, store.ErrNotFound) {
		tb.sendText(chatID, "❌ Unknown user. They need to /start the bot first.")
		return
	}
	if err != nil {
		tb.replyError(chatID, err)
		return
	}

	tb.sendHTML(chatID, fmt.Sprintf("✅ Credited %s to <code>%d</code>. New balance: %s.", tb.format(amount), userID, tb.format(u.Balance)), nil)
	tb.sendHTML(userID, fmt.Sprintf("💰 %s was added to your balance. New balance: <b>%s</b>.", tb.format(amount), tb.format(u.Balance)), nil)
	tb.logEvent(fmt.Sprintf("💰 <b>Manual credit</b>\nAdmin: <code>%d</code>\nUser: <code>%d</code>\nAmount: %s", message.From.ID, userID, tb.format(amount)))
}

func (tb *TelegramBot) handlePending(ctx context.Context, chatID int64) {
	pending, err := tb.shop.PendingRecharges(ctx, 0)
	if err != nil {
		tb.replyError(chatID, err)
		return
	}
	if len(pending) == 0 {
		tb.sendText(chatID, "✅ No recharges are waiting for review.")
		return
	}

	for _, r := range pending {
		tb.sendHTML(chatID, tb.rechargeSummary(&r), reviewKeyboard(r.ID))
	}
}
