// Package bot is the Telegram front end of the number shop.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"number-shop/internal/money"
	"number-shop/internal/payments"
	"number-shop/internal/shop"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options configures the bot.
type Options struct {
	AdminIDs        []int64
	CheckAuthCode   func(code string) bool
	Currency        string
	SupportHandle   string
	TermsURL        string
	RequiredChannel string
	LogChatID       int64
	UPIID           string
	UPIPayeeName    string
	Workers         int
	SessionTTL      time.Duration

	// RateLimit and RateBurst throttle each user's updates. Zero values
	// mean 3 per second with bursts of 5.
	RateLimit rate.Limit
	RateBurst int
}

const (
	handlerTimeout = 30 * time.Second
	historyLimit   = 10
	limiterIdle    = 10 * time.Minute
)

// TelegramBot represents the Telegram bot instance
type TelegramBot struct {
	api      API
	self     tgbotapi.User
	shop     *shop.Service
	verifier payments.Verifier
	opts     Options
	logger   *logrus.Logger

	authorizedUsers map[int64]time.Time
	userMutex       sync.RWMutex

	sessions *sessionStore
	limiter  *limiterSet
}

// NewTelegramBot creates a new Telegram bot instance. verifier may be nil
// when no payment mailbox is configured.
func NewTelegramBot(api API, self tgbotapi.User, svc *shop.Service, verifier payments.Verifier, opts Options, logger *logrus.Logger) *TelegramBot {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "₹"
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 3
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 5
	}
	if opts.CheckAuthCode == nil {
		opts.CheckAuthCode = func(string) bool { return false }
	}

	return &TelegramBot{
		api:             api,
		self:            self,
		shop:            svc,
		verifier:        verifier,
		opts:            opts,
		logger:          logger,
		authorizedUsers: make(map[int64]time.Time),
		sessions:        newSessionStore(opts.SessionTTL),
		limiter:         newLimiterSet(opts.RateLimit, opts.RateBurst),
	}
}

// Start polls for updates until ctx is cancelled.
func (tb *TelegramBot) Start(ctx context.Context) error {
	tb.logger.WithField("username", tb.self.UserName).Info("Telegram bot started")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tb.api.GetUpdatesChan(u)

	d := newDispatcher(tb.opts.Workers, func(update tgbotapi.Update) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
		defer cancel()
		tb.handleUpdate(hctx, update)
	})
	d.start()
	defer d.stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			d.dispatch(update)
		case <-ctx.Done():
			tb.logger.Info("Telegram bot shutting down")
			tb.api.StopReceivingUpdates()
			return nil
		}
	}
}

// handleUpdate processes incoming updates
func (tb *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			tb.logger.WithFields(logrus.Fields{
				"update_id": update.UpdateID,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("Handler panicked")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		tb.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		tb.handleMessage(ctx, update.Message)
	}
}

func (tb *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.From.IsBot {
		return
	}
	userID := message.From.ID

	if !tb.limiter.allow(userID) {
		tb.logger.WithField("user_id", userID).Debug("Rate limited message")
		return
	}

	tb.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"username": message.From.UserName,
		"text":     message.Text,
	}).Debug("Received message")

	if message.IsCommand() {
		tb.handleCommand(ctx, message)
		return
	}

	if sess, ok := tb.sessions.get(userID); ok {
		tb.handleStep(ctx, message, sess)
		return
	}

	if !tb.ensureMember(message.Chat.ID, userID) {
		return
	}
	tb.sendMenu(message.Chat.ID, "Please choose an option from the menu.")
}

func (tb *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID
	command := message.Command()

	switch command {
	case "auth":
		tb.handleAuth(message)
		return
	case "cancel":
		tb.sessions.clear(userID)
		tb.sendMenu(chatID, "❌ Cancelled.")
		return
	}

	if _, ok := adminCommands[command]; ok {
		if !tb.isAdmin(userID) {
			tb.sendText(chatID, "🚫 This command is for admins only.")
			return
		}
		tb.sessions.clear(userID)
		tb.handleAdminCommand(ctx, message)
		return
	}

	if !tb.isAdmin(userID) && !tb.ensureMember(chatID, userID) {
		return
	}
	tb.sessions.clear(userID)

	switch command {
	case "start":
		tb.handleStart(ctx, message)
	case "help":
		tb.handleHelp(chatID, userID)
	case "balance":
		tb.showBalance(ctx, chatID, message.From)
	case "stats":
		tb.handleStats(ctx, chatID)
	case "history":
		tb.handleHistory(ctx, chatID, userID)
	case "recharge":
		tb.showRechargeMenu(chatID)
	case "support":
		tb.showSupport(chatID)
	default:
		tb.sendMenu(chatID, "❓ Unknown command. Use /help to see what I can do.")
	}
}

func (tb *TelegramBot) handleStep(ctx context.Context, message *tgbotapi.Message, sess session) {
	switch sess.Step {
	case stepBuyQuantity:
		tb.handleQuantity(ctx, message, sess)
	case stepStockNumbers:
		tb.handleStockNumbers(ctx, message, sess)
	case stepPriceCountry:
		tb.handlePriceCountry(ctx, message, sess)
	case stepPriceConfirm:
		tb.handlePriceConfirm(ctx, message, sess)
	case stepPriceAmount:
		tb.handlePriceAmount(ctx, message, sess)
	case stepRechargeScreenshot:
		tb.handleScreenshot(message, sess)
	case stepRechargeAmount:
		tb.handleRechargeAmount(message, sess)
	case stepRechargePaymentID:
		tb.handleRechargePaymentID(ctx, message, sess)
	default:
		tb.sessions.clear(message.From.ID)
		tb.sendMenu(message.Chat.ID, "Please choose an option from the menu.")
	}
}

// handleAuth handles the /auth command
func (tb *TelegramBot) handleAuth(message *tgbotapi.Message) {
	code := strings.TrimSpace(message.CommandArguments())
	if code == "" {
		tb.sendText(message.Chat.ID, "❌ Please provide the authentication code: /auth YOUR_CODE")
		return
	}

	if !tb.opts.CheckAuthCode(code) {
		tb.sendText(message.Chat.ID, "❌ Invalid authentication code. Access denied.")
		tb.logger.WithFields(logrus.Fields{
			"user_id":  message.From.ID,
			"username": message.From.UserName,
		}).Warn("Authentication failed - invalid code")
		return
	}

	tb.authorizeUser(message.From.ID)
	tb.sendText(message.Chat.ID, "✅ Authentication successful! Admin commands are now available. Use /help to list them.")
	tb.logger.WithFields(logrus.Fields{
		"user_id":  message.From.ID,
		"username": message.From.UserName,
	}).Info("User authenticated as admin")
}

// authorizeUser grants admin rights for the lifetime of the process.
func (tb *TelegramBot) authorizeUser(userID int64) {
	tb.userMutex.Lock()
	defer tb.userMutex.Unlock()
	tb.authorizedUsers[userID] = time.Now()
}

// isAdmin reports whether a user is configured as admin or passed /auth.
func (tb *TelegramBot) isAdmin(userID int64) bool {
	for _, id := range tb.opts.AdminIDs {
		if id == userID {
			return true
		}
	}
	tb.userMutex.RLock()
	defer tb.userMutex.RUnlock()
	_, ok := tb.authorizedUsers[userID]
	return ok
}

// admins returns every chat that receives review requests.
func (tb *TelegramBot) admins() []int64 {
	out := append([]int64(nil), tb.opts.AdminIDs...)

	tb.userMutex.RLock()
	defer tb.userMutex.RUnlock()
	for id := range tb.authorizedUsers {
		known := false
		for _, a := range out {
			if a == id {
				known = true
				break
			}
		}
		if !known {
			out = append(out, id)
		}
	}
	return out
}

// GetBotInfo returns information about the bot
func (tb *TelegramBot) GetBotInfo() *tgbotapi.User {
	return &tb.self
}

func (tb *TelegramBot) format(a money.Amount) string {
	return money.Format(a, tb.opts.Currency)
}
