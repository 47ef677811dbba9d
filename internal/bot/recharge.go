package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"number-shop/internal/money"
	"number-shop/internal/shop"
	"number-shop/internal/store"
)

func (tb *TelegramBot) showRechargeMenu(chatID int64) {
	text := "💳 <b>Recharge</b>\n\nChoose how you want to pay."
	if tb.verifier != nil {
		text += "\n\n⚡ Automatic payments are checked against our payment inbox and credited right away."
	}
	tb.sendHTML(chatID, text, rechargeMethodKeyboard(tb.verifier != nil))
}

// upiLink builds a upi://pay deep link for the configured payee.
func upiLink(payee, name string) string {
	q := url.Values{}
	q.Set("pa", payee)
	if name != "" {
		q.Set("pn", name)
	}
	q.Set("cu", "INR")
	return "upi://pay?" + q.Encode()
}

func (tb *TelegramBot) showDeposit(chatID int64) {
	if tb.opts.UPIID == "" {
		tb.sendHTML(chatID, fmt.Sprintf("🏦 Manual deposits are not set up yet. Contact %s to top up.", html.EscapeString(tb.opts.SupportHandle)), backKeyboard())
		return
	}

	caption := fmt.Sprintf("🏦 <b>Deposit</b>\n\nPay any amount to UPI ID <code>%s</code> or scan the QR code.\nThen press <b>I've Paid</b> and send a screenshot.", html.EscapeString(tb.opts.UPIID))

	png, err := qrcode.Encode(upiLink(tb.opts.UPIID, tb.opts.UPIPayeeName), qrcode.Medium, 512)
	if err != nil {
		tb.logger.WithError(err).Error("Failed to render UPI QR code")
		tb.sendHTML(chatID, caption, paidKeyboard())
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "upi.png", Bytes: png})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyMarkup = paidKeyboard()
	tb.send(photo, chatID)
}

func (tb *TelegramBot) startManualRecharge(chatID, userID int64) {
	tb.sessions.set(userID, session{Step: stepRechargeScreenshot, Method: store.MethodManual})
	tb.sendText(chatID, "📸 Send a screenshot of your payment. /cancel to abort.")
}

func (tb *TelegramBot) startAutomaticRecharge(chatID, userID int64) {
	if tb.verifier == nil {
		tb.showRechargeMenu(chatID)
		return
	}
	tb.sessions.set(userID, session{Step: stepRechargeAmount, Method: store.MethodAutomatic})
	tb.sendText(chatID, "💵 How much did you pay? /cancel to abort.")
}

func (tb *TelegramBot) handleScreenshot(message *tgbotapi.Message, sess session) {
	if len(message.Photo) == 0 {
		tb.sendText(message.Chat.ID, "❌ Please send the payment screenshot as a photo.")
		return
	}

	// Telegram lists sizes smallest first.
	sess.Screenshot = message.Photo[len(message.Photo)-1].FileID
	sess.Step = stepRechargeAmount
	tb.sessions.set(message.From.ID, sess)
	tb.sendText(message.Chat.ID, "💵 How much did you pay?")
}

func (tb *TelegramBot) handleRechargeAmount(message *tgbotapi.Message, sess session) {
	amount, err := money.Parse(message.Text)
	if err != nil {
		tb.sendText(message.Chat.ID, "❌ Send a positive amount with at most two decimals, e.g. 100 or 99.50.")
		return
	}

	sess.Amount = amount
	sess.Step = stepRechargePaymentID
	tb.sessions.set(message.From.ID, sess)
	tb.sendText(message.Chat.ID, "🔖 Send the payment (transaction) id from your payment app.")
}

func (tb *TelegramBot) handleRechargePaymentID(ctx context.Context, message *tgbotapi.Message, sess session) {
	chatID := message.Chat.ID

	r, err := tb.shop.SubmitRecharge(ctx, shop.RechargeRequest{
		UserID:     message.From.ID,
		Username:   message.From.UserName,
		FullName:   fullName(message.From),
		Amount:     sess.Amount,
		PaymentID:  message.Text,
		Screenshot: sess.Screenshot,
		Method:     sess.Method,
	})
	switch {
	case errors.Is(err, shop.ErrInvalidPaymentID):
		tb.sendText(chatID, "❌ That does not look like a payment id. Send it without spaces.")
		return
	case errors.Is(err, store.ErrDuplicate):
		tb.sessions.clear(message.From.ID)
		tb.sendMenu(chatID, "❌ This payment id was already submitted.")
		return
	case err != nil:
		tb.sessions.clear(message.From.ID)
		tb.replyError(chatID, err)
		return
	}
	tb.sessions.clear(message.From.ID)

	if r.Method == store.MethodAutomatic {
		approved, err := tb.autoApprove(ctx, r)
		if err != nil {
			tb.logger.WithError(err).WithField("recharge_id", r.ID).Warn("Automatic verification failed")
		}
		if approved {
			return
		}
		tb.sendMenu(chatID, fmt.Sprintf("⏳ We could not match payment <code>%s</code> yet. It has been sent for review and will be credited once confirmed.", html.EscapeString(r.PaymentID)))
	} else {
		tb.sendMenu(chatID, fmt.Sprintf("⏳ Your recharge of %s was submitted and is waiting for review.", tb.format(r.Amount)))
	}
	tb.notifyAdmins(r)
}

// autoApprove checks the payment inbox for a recharge and approves it when
// a matching payment of at least the claimed amount is found.
func (tb *TelegramBot) autoApprove(ctx context.Context, r *store.Recharge) (bool, error) {
	if tb.verifier == nil {
		return false, nil
	}

	payment, err := tb.verifier.FindPayment(ctx, r.PaymentID)
	if err != nil {
		return false, err
	}
	if payment == nil {
		return false, nil
	}
	if payment.Amount < r.Amount {
		tb.logger.WithFields(logrus.Fields{
			"recharge_id": r.ID,
			"claimed":     r.Amount.String(),
			"paid":        payment.Amount.String(),
		}).Warn("Payment amount below claim, leaving for review")
		return false, nil
	}

	approved, u, err := tb.shop.ApproveRecharge(ctx, r.ID, shop.SystemReviewer)
	if shop.IsReviewed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tb.sendMenu(approved.UserID, fmt.Sprintf("✅ Payment verified! %s was added to your balance. New balance: <b>%s</b>.", tb.format(approved.Amount), tb.format(u.Balance)))
	tb.logEvent(fmt.Sprintf("⚡ <b>Recharge auto-approved</b>\nUser: <code>%d</code>\nAmount: %s\nPayment id: <code>%s</code>\nSender: %s",
		approved.UserID, tb.format(approved.Amount), html.EscapeString(approved.PaymentID), html.EscapeString(payment.Sender)))
	return true, nil
}

func (tb *TelegramBot) rechargeSummary(r *store.Recharge) string {
	who := fmt.Sprintf("<code>%d</code>", r.UserID)
	if r.Username != "" {
		who += " @" + html.EscapeString(r.Username)
	}
	if r.FullName != "" {
		who += " " + html.EscapeString(r.FullName)
	}
	return fmt.Sprintf("💳 <b>Recharge request</b>\n\nUser: %s\nAmount: %s\nPayment id: <code>%s</code>\nMethod: %s\nSubmitted: %s",
		who,
		tb.format(r.Amount),
		html.EscapeString(r.PaymentID),
		r.Method,
		r.CreatedAt.Format("2006-01-02 15:04 MST"),
	)
}

// notifyAdmins sends a review request to every admin.
func (tb *TelegramBot) notifyAdmins(r *store.Recharge) {
	tb.sendReview(r, "")
}

func (tb *TelegramBot) sendReview(r *store.Recharge, prefix string) {
	text := prefix + tb.rechargeSummary(r)
	for _, adminID := range tb.admins() {
		if r.Screenshot != "" {
			photo := tgbotapi.NewPhoto(adminID, tgbotapi.FileID(r.Screenshot))
			photo.Caption = text
			photo.ParseMode = tgbotapi.ModeHTML
			photo.ReplyMarkup = reviewKeyboard(r.ID)
			tb.send(photo, adminID)
			continue
		}
		tb.sendHTML(adminID, text, reviewKeyboard(r.ID))
	}
}

func (tb *TelegramBot) handleReview(ctx context.Context, query *tgbotapi.CallbackQuery, chatID int64, approve bool, id string) {
	reviewer := query.From.ID
	if !tb.isAdmin(reviewer) {
		tb.answer(query, "🚫 Admins only.")
		return
	}

	var (
		r    *store.Recharge
		u    *store.User
		err  error
		verb = "declined"
	)
	if approve {
		verb = "approved"
		r, u, err = tb.shop.ApproveRecharge(ctx, id, reviewer)
	} else {
		r, err = tb.shop.DeclineRecharge(ctx, id, reviewer)
	}

	switch {
	case shop.IsReviewed(err):
		tb.answer(query, "ℹ️ Already reviewed.")
		if query.Message != nil {
			tb.clearButtons(chatID, query.Message.MessageID)
		}
		return
	case errors.Is(err, store.ErrNotFound):
		tb.answer(query, "❌ Request not found.")
		return
	case err != nil:
		tb.logger.WithError(err).WithField("recharge_id", id).Error("Failed to review recharge")
		tb.answer(query, "⚠️ Failed, try again.")
		return
	}

	tb.answer(query, "✅ Recharge "+verb+".")
	if query.Message != nil {
		tb.clearButtons(chatID, query.Message.MessageID)
	}
	tb.sendHTML(chatID, fmt.Sprintf("Recharge <code>%s</code> %s (%s for <code>%d</code>).", html.EscapeString(r.PaymentID), verb, tb.format(r.Amount), r.UserID), nil)

	if approve {
		tb.sendMenu(r.UserID, fmt.Sprintf("✅ Your recharge of %s was approved. New balance: <b>%s</b>.", tb.format(r.Amount), tb.format(u.Balance)))
	} else {
		tb.sendMenu(r.UserID, fmt.Sprintf("❌ Your recharge of %s (payment id <code>%s</code>) was declined. Contact %s if you think this is a mistake.",
			tb.format(r.Amount), html.EscapeString(r.PaymentID), html.EscapeString(tb.opts.SupportHandle)))
	}

	tb.logEvent(fmt.Sprintf("💳 <b>Recharge %s</b>\nReviewer: <code>%d</code>\nUser: <code>%d</code>\nAmount: %s\nPayment id: <code>%s</code>",
		verb, reviewer, r.UserID, tb.format(r.Amount), html.EscapeString(r.PaymentID)))
}
