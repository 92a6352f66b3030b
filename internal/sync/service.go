package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/repository"
	"github.com/hitoshi/gamewatch/internal/steam"
)

// GamesFetcher はSteamから所有ゲーム一覧を取得するインターフェース。
type GamesFetcher interface {
	GetOwnedGames(ctx context.Context, steamID string) ([]steam.OwnedGame, error)
}

// FollowRegistrar はゲーム側のフォロー関係を保証するインターフェース。
// 自動フォロー時にゲームの遅延生成とフォロワー追加を行う。
type FollowRegistrar interface {
	EnsureGameFollower(ctx context.Context, userID, appID, name, logoURL string) error
}

// UserNotifier は単一ユーザーへの通知配信インターフェース。
type UserNotifier interface {
	SendToUser(ctx context.Context, user *model.User, ann model.Announcement) bool
}

// Service はライブラリ照合同期のサービス層。
// スナップショット差分の計算と適用、保留キューのドレイン、
// 所有台帳ベースの新規ゲーム検出を提供する。
type Service struct {
	userRepo  repository.UserRepository
	fetcher   GamesFetcher
	follows   FollowRegistrar
	notifier  UserNotifier
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cooldown  time.Duration

	// 同一ユーザーの照合が交錯しないようユーザーID単位で排他する
	mu        gosync.Mutex
	userLocks map[string]*gosync.Mutex
}

// NewService はServiceの新しいインスタンスを生成する。
// cooldownが0以下の場合はデフォルト値（6時間）を使用する。
func NewService(
	userRepo repository.UserRepository,
	fetcher GamesFetcher,
	follows FollowRegistrar,
	notifier UserNotifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cooldown time.Duration,
) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		userRepo:  userRepo,
		fetcher:   fetcher,
		follows:   follows,
		notifier:  notifier,
		collector: collector,
		logger:    logger,
		cooldown:  cooldown,
		userLocks: make(map[string]*gosync.Mutex),
	}
}

// lockUser は指定ユーザーの排他ロックを取得し、解放関数を返す。
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &gosync.Mutex{}
		s.userLocks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// SyncUser は指定ユーザーの照合同期を1サイクル実行する。
// 失敗は結果のErrorフィールドで報告され、この境界を越えてパニックしない。
func (s *Service) SyncUser(ctx context.Context, steamID string) *model.SyncResult {
	user, err := s.userRepo.FindBySteamID(ctx, steamID)
	if err != nil {
		return &model.SyncResult{SteamID: steamID, Error: model.NewStorageError(err.Error())}
	}
	if user == nil {
		return &model.SyncResult{SteamID: steamID, Error: model.NewUserNotFoundError(steamID)}
	}

	return s.reconcile(ctx, user)
}

// reconcile は1ユーザーのfetch→diff→persistシーケンスを実行する。
// このシーケンスはユーザー単位の排他ロック下で実行され、
// 同一ユーザーの並行照合によるlost updateを防ぐ。
func (s *Service) reconcile(ctx context.Context, user *model.User) *model.SyncResult {
	result := &model.SyncResult{
		UserID:  user.ID,
		SteamID: user.SteamID,
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	// ロック待ちの間に並行パスが同じユーザーを書き換えている可能性がある。
	// 差分計算と保存はロック下で読み直した状態を基準にする。
	user, err := s.userRepo.FindBySteamID(ctx, user.SteamID)
	if err != nil {
		result.Error = model.NewStorageError(err.Error())
		s.collector.RecordSyncFailure(result.UserID, "storage")
		return result
	}
	if user == nil {
		result.Error = model.NewUserNotFoundError(result.SteamID)
		return result
	}
	result.Username = user.Username

	now := time.Now()
	if !ShouldSync(user.LastChecked, s.cooldown, now) {
		result.Skipped = true
		s.collector.RecordSyncSkipped(user.ID)
		s.logger.Info("クールダウン中のため同期をスキップします",
			slog.String("steam_id", user.SteamID),
			slog.Time("last_checked", user.LastChecked),
		)
		return result
	}

	fetched, err := s.fetcher.GetOwnedGames(ctx, user.SteamID)
	if err != nil {
		// 利用不能な応答はこのユーザーのサイクルを中断する。状態は変更しない。
		result.Error = err
		s.collector.RecordSyncFailure(user.ID, "upstream")
		s.logger.Error("所有ゲームの取得に失敗しました",
			slog.String("steam_id", user.SteamID),
			slog.String("error", err.Error()),
		)
		return result
	}

	changed := s.applyDiff(user, fetched, now, result)

	if user.NotificationSettings.AutoFollowNewGames {
		followed, err := s.autoFollow(ctx, user, result)
		if err != nil {
			result.Error = err
			s.collector.RecordSyncFailure(user.ID, "storage")
			return result
		}
		changed = changed || followed
	}

	user.LastChecked = now
	if changed {
		if err := s.userRepo.Save(ctx, user); err != nil {
			result.Error = model.NewStorageError(err.Error())
			s.collector.RecordSyncFailure(user.ID, "storage")
			return result
		}
	} else {
		// 変更なしのサイクルでも最終同期日時は進める（スロットルゲート精度のため）
		if err := s.userRepo.UpdateLastChecked(ctx, user.ID, now); err != nil {
			result.Error = model.NewStorageError(err.Error())
			s.collector.RecordSyncFailure(user.ID, "storage")
			return result
		}
	}

	result.LastSyncTime = now
	s.collector.RecordSyncSuccess(user.ID)
	if len(result.NewGames) > 0 {
		s.collector.RecordNewGames(len(result.NewGames))
	}

	s.logger.Info("ライブラリ同期が完了しました",
		slog.String("steam_id", user.SteamID),
		slog.Int("fetched_count", len(fetched)),
		slog.Int("new_games", len(result.NewGames)),
		slog.Int("updated_games", len(result.UpdatedGames)),
	)

	return result
}

// applyDiff はスナップショットと取得リストの差分をユーザーへ適用する。
// 追加のみで削除は行わない（アップストリームからの消失は一時障害と
// 区別できないため、削除として扱わない）。
// 同一レスポンス内の重複IDは最初の出現が新規判定を決め、
// 最後の出現が補強内容を決める。
func (s *Service) applyDiff(user *model.User, fetched []steam.OwnedGame, now time.Time, result *model.SyncResult) bool {
	known := make(map[string]int, len(user.LastSyncedGames))
	for i, g := range user.LastSyncedGames {
		known[g.AppID] = i
	}

	changed := false
	newThisCycle := make(map[string]bool)

	for _, g := range fetched {
		if idx, ok := known[g.AppID]; ok {
			rec := &user.LastSyncedGames[idx]

			if newThisCycle[g.AppID] {
				// 今サイクルで追加したばかりのレコード: 補強は最後の出現が勝つ
				rec.Name = g.Name
				if logo := g.LogoURL(); logo != "" {
					rec.LogoURL = logo
				}
				continue
			}

			// 既存レコードはロゴの埋め戻しのみ（"updated"として数える）
			if rec.LogoURL == "" {
				if logo := g.LogoURL(); logo != "" {
					rec.LogoURL = logo
					result.UpdatedGames = append(result.UpdatedGames, model.UpdatedGame{
						AppID:  g.AppID,
						Name:   rec.Name,
						Action: model.GameUpdateActionUpdated,
					})
					changed = true
				}
			}
			continue
		}

		user.LastSyncedGames = append(user.LastSyncedGames, model.SyncedGame{
			AppID:   g.AppID,
			Name:    g.Name,
			LogoURL: g.LogoURL(),
			AddedAt: now,
		})
		known[g.AppID] = len(user.LastSyncedGames) - 1
		newThisCycle[g.AppID] = true
		result.NewGames = append(result.NewGames, model.NewGame{AppID: g.AppID, Name: g.Name})
		changed = true
	}

	return changed
}

// autoFollow は新規検出ゲームをユーザーのフォローリストへ追加する。
// ウォーターマークは0で初期化され、以後のニュースをすべて未読として扱う。
// 追加した分は"added"として結果のUpdatedGamesに記録される。
func (s *Service) autoFollow(ctx context.Context, user *model.User, result *model.SyncResult) (bool, error) {
	changed := false
	for _, ng := range result.NewGames {
		if user.IsFollowing(ng.AppID) {
			continue
		}

		var logoURL string
		for _, rec := range user.LastSyncedGames {
			if rec.AppID == ng.AppID {
				logoURL = rec.LogoURL
				break
			}
		}

		if err := s.follows.EnsureGameFollower(ctx, user.ID, ng.AppID, ng.Name, logoURL); err != nil {
			return changed, model.NewStorageError(fmt.Sprintf("自動フォローに失敗しました: %v", err))
		}

		user.FollowedGames = append(user.FollowedGames, model.FollowedGame{
			AppID:               ng.AppID,
			Name:                ng.Name,
			LogoURL:             logoURL,
			LastNewsTimestamp:   0,
			LastUpdateTimestamp: 0,
		})
		result.UpdatedGames = append(result.UpdatedGames, model.UpdatedGame{
			AppID:  ng.AppID,
			Name:   ng.Name,
			Action: model.GameUpdateActionAdded,
		})
		changed = true
	}

	return changed, nil
}

// DrainPending は指定ユーザーの保留キュー全件を返し、同時にクリアする。
func (s *Service) DrainPending(ctx context.Context, steamID string) ([]model.PendingGame, error) {
	user, err := s.userRepo.FindBySteamID(ctx, steamID)
	if err != nil {
		return nil, model.NewStorageError(err.Error())
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(steamID)
	}

	pending, err := s.userRepo.DrainPending(ctx, user.ID)
	if err != nil {
		return nil, model.NewStorageError(err.Error())
	}

	s.logger.Info("保留キューをドレインしました",
		slog.String("steam_id", steamID),
		slog.Int("count", len(pending)),
	)

	return pending, nil
}
