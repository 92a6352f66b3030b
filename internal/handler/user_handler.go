// Package handler はHTTP APIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/gamewatch/internal/middleware"
	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/repository"
	"github.com/hitoshi/gamewatch/internal/steam"
)

// ProfileFetcher はSteamプロフィール取得のインターフェース。
type ProfileFetcher interface {
	GetProfile(ctx context.Context, steamID string) (*steam.Profile, error)
}

// LibraryEstimator はコミュニティページからのライブラリ規模推定のインターフェース。
// Steam APIを迂回する診断用の経路。
type LibraryEstimator interface {
	EstimateLibrarySize(ctx context.Context, steamID string) (int, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	userRepo  repository.UserRepository
	profiles  ProfileFetcher
	estimator LibraryEstimator
	logger    *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	userRepo repository.UserRepository,
	profiles ProfileFetcher,
	estimator LibraryEstimator,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		userRepo:  userRepo,
		profiles:  profiles,
		estimator: estimator,
		logger:    logger,
	}
}

// registerUserRequest はユーザー登録リクエストのボディ。
type registerUserRequest struct {
	SteamID string `json:"steamId"`
}

// updateNotificationsRequest は通知設定更新リクエストのボディ。
type updateNotificationsRequest struct {
	Enabled            bool   `json:"enabled"`
	PushToken          string `json:"pushToken"`
	AutoFollowNewGames bool   `json:"autoFollowNewGames"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID                   string                     `json:"id"`
	SteamID              string                     `json:"steamId"`
	Username             string                     `json:"username"`
	AvatarURL            string                     `json:"avatarUrl,omitempty"`
	NotificationSettings model.NotificationSettings `json:"notificationSettings"`
	LastChecked          *time.Time                 `json:"lastChecked,omitempty"`
	OwnedGameCount       int                        `json:"ownedGameCount"`
	FollowedGames        []model.FollowedGame       `json:"followedGames"`
	PendingNewGameCount  int                        `json:"pendingNewGameCount"`
}

// librarySizeResponse はライブラリ規模推定のAPIレスポンス。
type librarySizeResponse struct {
	SteamID        string `json:"steamId"`
	EstimatedCount int    `json:"estimatedCount"`
}

// Register はユーザーを登録する。
// 登録時にSteamプロフィールを取得して表示名とアバターを補強する。
// プロフィールが取得できない場合もSteamIDのみで登録を続行する。
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if !isValidSteamID(req.SteamID) {
		middleware.WriteAPIError(w, model.NewInvalidSteamIDError(req.SteamID))
		return
	}

	existing, err := h.userRepo.FindBySteamID(r.Context(), req.SteamID)
	if err != nil {
		middleware.WriteAPIError(w, model.NewStorageError(err.Error()))
		return
	}
	if existing != nil {
		middleware.WriteAPIError(w, model.NewUserExistsError(req.SteamID))
		return
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		SteamID:   req.SteamID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// プロフィール取得失敗は登録を妨げない
	profile, err := h.profiles.GetProfile(r.Context(), req.SteamID)
	if err != nil {
		h.logger.Warn("プロフィールの取得に失敗しました",
			slog.String("steam_id", req.SteamID),
			slog.String("error", err.Error()),
		)
	} else if profile != nil {
		user.Username = profile.DisplayName
		user.AvatarURL = profile.AvatarURL
	}

	if err := h.userRepo.Create(r.Context(), user); err != nil {
		middleware.WriteAPIError(w, model.NewStorageError(err.Error()))
		return
	}

	h.logger.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("steam_id", user.SteamID),
	)

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// GetUser はユーザー情報を取得する。
// GET /api/users/{steamId}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	user, err := h.findUser(r.Context(), w, steamID)
	if user == nil || err != nil {
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateNotifications は通知設定を更新する。
// PUT /api/users/{steamId}/notifications
func (h *UserHandler) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	var req updateNotificationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	user, err := h.findUser(r.Context(), w, steamID)
	if user == nil || err != nil {
		return
	}

	user.NotificationSettings = model.NotificationSettings{
		Enabled:            req.Enabled,
		PushToken:          req.PushToken,
		AutoFollowNewGames: req.AutoFollowNewGames,
	}

	if err := h.userRepo.Save(r.Context(), user); err != nil {
		middleware.WriteAPIError(w, model.NewStorageError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, user.NotificationSettings)
}

// GetPending は保留中の新規ゲームキューを閲覧する（クリアしない）。
// GET /api/users/{steamId}/pending
func (h *UserHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	user, err := h.findUser(r.Context(), w, steamID)
	if user == nil || err != nil {
		return
	}

	pending := user.PendingNewGames
	if pending == nil {
		pending = []model.PendingGame{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"steamId": steamID,
		"pending": pending,
	})
}

// EstimateLibrary はコミュニティページからライブラリ規模を推定する。
// プロフィール非公開時は502ではなく422を返す（アップストリーム障害ではない）。
// GET /api/users/{steamId}/library-size
func (h *UserHandler) EstimateLibrary(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	if !isValidSteamID(steamID) {
		middleware.WriteAPIError(w, model.NewInvalidSteamIDError(steamID))
		return
	}

	count, err := h.estimator.EstimateLibrarySize(r.Context(), steamID)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, &model.APIError{
				Code:     "LIBRARY_PAGE_UNAVAILABLE",
				Message:  "ライブラリページを解析できませんでした。プロフィールが非公開の可能性があります。",
				Category: "validation",
				Action:   "Steamプロフィールのゲーム詳細を公開に設定してください。",
			})
			return
		}
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, librarySizeResponse{
		SteamID:        steamID,
		EstimatedCount: count,
	})
}

// findUser はユーザーを検索し、エラー時はレスポンスを書き込んでnilを返す。
func (h *UserHandler) findUser(ctx context.Context, w http.ResponseWriter, steamID string) (*model.User, error) {
	user, err := h.userRepo.FindBySteamID(ctx, steamID)
	if err != nil {
		middleware.WriteAPIError(w, model.NewStorageError(err.Error()))
		return nil, err
	}
	if user == nil {
		middleware.WriteAPIError(w, model.NewUserNotFoundError(steamID))
		return nil, nil
	}
	return user, nil
}

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
func toUserResponse(user *model.User) userResponse {
	resp := userResponse{
		ID:                   user.ID,
		SteamID:              user.SteamID,
		Username:             user.Username,
		AvatarURL:            user.AvatarURL,
		NotificationSettings: user.NotificationSettings,
		OwnedGameCount:       len(user.OwnedGames),
		FollowedGames:        user.FollowedGames,
		PendingNewGameCount:  len(user.PendingNewGames),
	}
	if resp.FollowedGames == nil {
		resp.FollowedGames = []model.FollowedGame{}
	}
	if !user.LastChecked.IsZero() {
		t := user.LastChecked
		resp.LastChecked = &t
	}
	return resp
}

// isValidSteamID はSteamID64形式（17桁の数値）かを検証する。
func isValidSteamID(steamID string) bool {
	if len(steamID) != 17 {
		return false
	}
	for _, c := range steamID {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
