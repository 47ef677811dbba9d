package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

type botInfo interface {
	GetBotInfo() *tgbotapi.User
}

type pinger interface {
	Ping(ctx context.Context) error
}

type userCounter interface {
	CountUsers(ctx context.Context) (int64, error)
}

// newHealthHandler creates HTTP handlers for health checks
func newHealthHandler(bot botInfo, db pinger, users userCounter, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Liveness probe
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness probe
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Readiness check failed")
			http.Error(w, "Database not reachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	// Status endpoint
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		statusData := map[string]interface{}{
			"status": "running",
			"bot": map[string]interface{}{
				"username": bot.GetBotInfo().UserName,
			},
		}
		if n, err := users.CountUsers(r.Context()); err == nil {
			statusData["users"] = n
		} else {
			logger.WithError(err).Warn("Failed to count users for status")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(statusData)
	})

	return r
}
