package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gamewatch/internal/middleware"
	"github.com/hitoshi/gamewatch/internal/model"
)

// SyncServiceInterface は同期ハンドラーが必要とするサービスインターフェース。
type SyncServiceInterface interface {
	// SyncUser は指定ユーザーの照合同期を1サイクル実行する。
	SyncUser(ctx context.Context, steamID string) *model.SyncResult
	// DrainPending は保留キューの全件を返し、同時にクリアする。
	DrainPending(ctx context.Context, steamID string) ([]model.PendingGame, error)
	// SyncGroup は指定グループの全ユーザーを同期する。
	SyncGroup(ctx context.Context, groupIndex, totalGroups, maxConcurrency int) (*model.GroupStats, error)
}

// SyncHandlerConfig はグループ同期エンドポイントの設定。
type SyncHandlerConfig struct {
	TotalGroups    int
	MaxConcurrency int
}

// SyncHandler はライブラリ同期のHTTPハンドラー。
type SyncHandler struct {
	service SyncServiceInterface
	config  SyncHandlerConfig
	logger  *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(service SyncServiceInterface, config SyncHandlerConfig, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// syncResponse は同期結果のAPIレスポンス。
type syncResponse struct {
	SteamID      string              `json:"steamId"`
	Skipped      bool                `json:"skipped"`
	NewGames     []model.NewGame     `json:"newGames"`
	UpdatedGames []model.UpdatedGame `json:"updatedGames"`
	LastSyncTime *time.Time          `json:"lastSyncTime,omitempty"`
}

// groupSyncResponse はグループ同期結果のAPIレスポンス。
type groupSyncResponse struct {
	GroupIndex        int `json:"groupIndex"`
	TotalGroups       int `json:"totalGroups"`
	TotalUsers        int `json:"totalUsers"`
	UsersProcessed    int `json:"usersProcessed"`
	UsersWithNewGames int `json:"usersWithNewGames"`
	TotalNewGames     int `json:"totalNewGames"`
	Errors            int `json:"errors"`
}

// drainResponse は保留キュードレインのAPIレスポンス。
type drainResponse struct {
	SteamID string              `json:"steamId"`
	Games   []model.PendingGame `json:"games"`
}

// SyncUser はユーザーの同期を即時実行する。
// クールダウン中はskipped=trueの200を返す（エラーではない）。
// POST /api/users/{steamId}/sync
func (h *SyncHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	result := h.service.SyncUser(r.Context(), steamID)
	if result.Error != nil {
		middleware.WriteAPIError(w, result.Error)
		return
	}

	resp := syncResponse{
		SteamID:      result.SteamID,
		Skipped:      result.Skipped,
		NewGames:     result.NewGames,
		UpdatedGames: result.UpdatedGames,
	}
	if resp.NewGames == nil {
		resp.NewGames = []model.NewGame{}
	}
	if resp.UpdatedGames == nil {
		resp.UpdatedGames = []model.UpdatedGame{}
	}
	if !result.LastSyncTime.IsZero() {
		t := result.LastSyncTime
		resp.LastSyncTime = &t
	}

	writeJSON(w, http.StatusOK, resp)
}

// DrainPending は保留キューの全件取得とクリアを原子的に実行する。
// POST /api/users/{steamId}/pending/drain
func (h *SyncHandler) DrainPending(w http.ResponseWriter, r *http.Request) {
	steamID := chi.URLParam(r, "steamId")

	games, err := h.service.DrainPending(r.Context(), steamID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if games == nil {
		games = []model.PendingGame{}
	}

	writeJSON(w, http.StatusOK, drainResponse{
		SteamID: steamID,
		Games:   games,
	})
}

// SyncGroup は指定グループの一括同期を実行する。
// ワーカーを持たない構成で外部スケジューラから駆動するための管理用エンドポイント。
// POST /api/sync/groups/{index}
func (h *SyncHandler) SyncGroup(w http.ResponseWriter, r *http.Request) {
	indexParam := chi.URLParam(r, "index")
	groupIndex, err := strconv.Atoi(indexParam)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_GROUP_INDEX",
			Message:  "グループ番号が数値ではありません: " + indexParam,
			Category: "validation",
			Action:   "0以上グループ総数未満の整数を指定してください。",
		})
		return
	}
	if groupIndex < 0 || groupIndex >= h.config.TotalGroups {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_GROUP_INDEX",
			Message:  "グループ番号が範囲外です: " + indexParam,
			Category: "validation",
			Action:   "0以上グループ総数未満の整数を指定してください。",
		})
		return
	}

	stats, err := h.service.SyncGroup(r.Context(), groupIndex, h.config.TotalGroups, h.config.MaxConcurrency)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, groupSyncResponse{
		GroupIndex:        stats.GroupIndex,
		TotalGroups:       stats.TotalGroups,
		TotalUsers:        stats.TotalUsers,
		UsersProcessed:    stats.UsersProcessed,
		UsersWithNewGames: stats.UsersWithNewGames,
		TotalNewGames:     stats.TotalNewGames,
		Errors:            stats.Errors,
	})
}
