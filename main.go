package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"number-shop/internal/bot"
	"number-shop/internal/config"
	"number-shop/internal/money"
	"number-shop/internal/payments"
	"number-shop/internal/shop"
	"number-shop/internal/store"
)

func main() {
	// Parse command line flags
	var healthCheck = flag.Bool("health-check", false, "Validate configuration and exit")
	var hashCode = flag.String("hash-auth-code", "", "Print the bcrypt hash of an admin auth code and exit")
	flag.Parse()

	if *hashCode != "" {
		hash, err := config.HashAuthCode(*hashCode)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Handle health check
	if *healthCheck {
		os.Exit(runHealthCheck())
	}

	logger := newLogger(os.Getenv("LOG_LEVEL"))

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Warn("Failed to load .env file")
	}

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Number shop bot stopped")
	}
	logger.Info("Shutdown complete")
}

// run wires the bot and blocks until a signal arrives or a component
// fails. Deferred cleanup always runs before it returns.
func run(logger *logrus.Logger) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetLevel(parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.WithError(err).Error("Failed to close store")
		}
	}()

	svc := shop.NewService(st, shop.Options{
		DefaultPrice: money.FromFloat(cfg.DefaultPrice),
		MaxPerOrder:  cfg.MaxPerOrder,
	}, logger)

	n, err := svc.SeedCountries(ctx, cfg.SeedCountries)
	if err != nil {
		return fmt.Errorf("failed to seed countries: %w", err)
	}
	if n > 0 {
		logger.WithField("countries", n).Info("Seeded default countries")
	}

	var verifier payments.Verifier
	if cfg.IMAP.Enabled() {
		mailbox, err := payments.NewMailbox(cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username, cfg.IMAP.Password, cfg.IMAP.Sender, cfg.IMAP.Lookback, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize payment mailbox: %w", err)
		}
		defer mailbox.Disconnect()
		verifier = mailbox
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	api.Debug = false

	tb := bot.NewTelegramBot(api, api.Self, svc, verifier, bot.Options{
		AdminIDs:        cfg.AdminIDs,
		CheckAuthCode:   cfg.CheckAuthCode,
		Currency:        cfg.CurrencySymbol,
		SupportHandle:   cfg.SupportHandle,
		TermsURL:        cfg.TermsURL,
		RequiredChannel: cfg.RequiredChannel,
		LogChatID:       cfg.LogChatID,
		UPIID:           cfg.UPIID,
		UPIPayeeName:    cfg.UPIPayeeName,
		Workers:         cfg.Workers,
	}, logger)

	reviewer, err := bot.NewReviewer(tb, cfg.ReviewSchedule, cfg.ReviewReminderAfter, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize review jobs: %w", err)
	}

	healthServer := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           newHealthHandler(tb, st, svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tb.Start(gctx)
	})
	g.Go(func() error {
		return reviewer.Run(gctx)
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.HealthAddr).Info("Starting health check server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown health server")
		}
		return nil
	})

	logger.WithField("username", api.Self.UserName).Info("Number shop bot started successfully")

	return g.Wait()
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(parseLevel(level))
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	var st store.Store
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		st = store.NewMemory()
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		m, err := store.NewMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		st = m
	}

	if err := st.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return st, nil
}

// runHealthCheck validates the configuration the way startup does.
func runHealthCheck() int {
	logger := newLogger("error")
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("No .env file")
	}

	if _, err := config.Parse(); err != nil {
		logger.WithError(err).Error("Health check failed")
		return 1
	}
	return 0
}
