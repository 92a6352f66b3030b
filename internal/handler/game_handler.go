package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gamewatch/internal/middleware"
	"github.com/hitoshi/gamewatch/internal/model"
)

// FollowServiceInterface はフォローハンドラーが必要とするサービスインターフェース。
type FollowServiceInterface interface {
	// Follow はゲームをフォローする。カタログに未登録のゲームは遅延生成される。
	Follow(ctx context.Context, steamID, appID, name, logoURL string) error
	// Unfollow はゲームのフォローを解除する。
	Unfollow(ctx context.Context, steamID, appID string) error
}

// FollowerNotifierInterface はフォロワー全員への通知配信インターフェース。
type FollowerNotifierInterface interface {
	NotifyFollowers(ctx context.Context, appID string, ann model.Announcement) (int, error)
}

// GameHandler はゲームフォローと通知のHTTPハンドラー。
type GameHandler struct {
	follows  FollowServiceInterface
	notifier FollowerNotifierInterface
	logger   *slog.Logger
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(follows FollowServiceInterface, notifier FollowerNotifierInterface, logger *slog.Logger) *GameHandler {
	return &GameHandler{
		follows:  follows,
		notifier: notifier,
		logger:   logger,
	}
}

// followRequest はフォローリクエストのボディ。
type followRequest struct {
	AppID   string `json:"appId"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl"`
}

// notifyRequest は手動通知リクエストのボディ。
type notifyRequest struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// notifyResponse は手動通知のAPIレスポンス。
type notifyResponse struct {
	AppID     string `json:"appId"`
	Delivered int    `json:"delivered"`
}

// Follow はゲームをフォローする。
// POST /api/users/{steamId}/follows
func (h *GameHandler) Follow(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	var req followRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.AppID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_APP_ID",
			Message:  "appIdが空です。",
			Category: "validation",
			Action:   "フォロー対象のappIdを指定してください。",
		})
		return
	}

	if err := h.follows.Follow(r.Context(), steamID, req.AppID, req.Name, req.LogoURL); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unfollow はゲームのフォローを解除する。
// DELETE /api/users/{steamId}/follows/{appId}
func (h *GameHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")
	appID := chi.URLParam(r, "appId")

	if err := h.follows.Unfollow(r.Context(), steamID, appID); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Notify はゲームのフォロワー全員へお知らせを配信する。
// 運用者向けの手動配信経路で、配信成功数を返す。
// POST /api/games/{appId}/notify
func (h *GameHandler) Notify(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appId")

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.Title == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_ANNOUNCEMENT",
			Message:  "通知タイトルが空です。",
			Category: "validation",
			Action:   "titleを指定してください。",
		})
		return
	}

	delivered, err := h.notifier.NotifyFollowers(r.Context(), appID, model.Announcement{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	h.logger.Info("手動通知を配信しました",
		slog.String("app_id", appID),
		slog.Int("delivered", delivered),
	)

	writeJSON(w, http.StatusOK, notifyResponse{
		AppID:     appID,
		Delivered: delivered,
	})
}
