package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"number-shop/internal/store"
)

type stubBot struct{}

func (stubBot) GetBotInfo() *tgbotapi.User { return &tgbotapi.User{UserName: "shopbot"} }

type downDB struct{}

func (downDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestHealthEndpoints(t *testing.T) {
	st := store.NewMemory()
	_, err := st.GetOrCreateUser(context.Background(), 7, "u", "U")
	require.NoError(t, err)

	h := newHealthHandler(stubBot{}, st, st, quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status string `json:"status"`
		Users  int64  `json:"users"`
		Bot    struct {
			Username string `json:"username"`
		} `json:"bot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "shopbot", status.Bot.Username)
	assert.EqualValues(t, 1, status.Users)
}

func TestReadyFailsWhenDatabaseDown(t *testing.T) {
	h := newHealthHandler(stubBot{}, downDB{}, store.NewMemory(), quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warn"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("verbose"))
}

func TestRunReturnsConfigError(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("DATABASE_DRIVER", "memory")

	err := run(quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
}
