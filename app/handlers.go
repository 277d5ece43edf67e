package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	OnlineUsers int    `json:"onlineUsers"`
}

func (app *App) HealthHandler(w http.ResponseWriter, r *http.Request) error {
	res := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(app.startedAt).Round(time.Second).String(),
		Connections: app.registry.ConnCount(),
		OnlineUsers: len(app.presence.OnlineUsers()),
	}
	return json.NewEncoder(w).Encode(res)
}

type OnlineUsersResponse struct {
	Users []string `json:"users"`
}

func (app *App) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) error {
	return json.NewEncoder(w).Encode(OnlineUsersResponse{Users: app.presence.OnlineUsers()})
}

type ChatMessagesResponse struct {
	ChatID   string      `json:"chatId"`
	Messages interface{} `json:"messages"`
}

func (app *App) ChatMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	chatID := chi.URLParam(r, "chatID")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := app.store.LoadHistory(r.Context(), chatID, limit, offset)
	if err != nil {
		return err
	}

	return json.NewEncoder(w).Encode(ChatMessagesResponse{ChatID: chatID, Messages: messages})
}
