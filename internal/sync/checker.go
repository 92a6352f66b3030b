package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
)

// CheckUser は所有台帳（OwnedGames）を基準に新規ゲームを検出する。
// スナップショット同期とは独立したパスで、検出したゲームを
// 台帳と保留キューへ追記し、設定に応じて自動フォローと通知を行う。
func (s *Service) CheckUser(ctx context.Context, user *model.User) *model.CheckResult {
	result := &model.CheckResult{
		UserID:   user.ID,
		SteamID:  user.SteamID,
		Username: user.Username,
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	// 呼び出し側が渡すユーザーはロック外で読み込まれている。
	// 台帳の比較と追記はロック下で読み直した状態を基準にする。
	user, err := s.userRepo.FindBySteamID(ctx, user.SteamID)
	if err != nil {
		result.Error = model.NewStorageError(err.Error())
		return result
	}
	if user == nil {
		result.Error = model.NewUserNotFoundError(result.SteamID)
		return result
	}
	result.Username = user.Username

	fetched, err := s.fetcher.GetOwnedGames(ctx, user.SteamID)
	if err != nil {
		result.Error = err
		s.logger.Error("新規ゲーム検出のフェッチに失敗しました",
			slog.String("steam_id", user.SteamID),
			slog.String("error", err.Error()),
		)
		return result
	}

	owned := make(map[string]bool, len(user.OwnedGames))
	for _, g := range user.OwnedGames {
		owned[g.AppID] = true
	}

	now := time.Now()
	var detected []model.PendingGame
	for _, g := range fetched {
		if owned[g.AppID] {
			continue
		}
		owned[g.AppID] = true // レスポンス内の重複を1件に抑える
		detected = append(detected, model.PendingGame{
			AppID:      g.AppID,
			Name:       g.Name,
			LogoURL:    g.LogoURL(),
			DetectedAt: now,
		})
	}

	if len(detected) == 0 {
		return result
	}

	if err := s.stageDetected(ctx, user, detected, now); err != nil {
		result.Error = err
		return result
	}

	result.NewGames = detected
	s.collector.RecordNewGames(len(detected))

	s.logger.Info("新規ゲームを検出しました",
		slog.String("steam_id", user.SteamID),
		slog.Int("count", len(detected)),
	)

	if s.notifier != nil {
		s.notifier.SendToUser(ctx, user, model.Announcement{
			Title: "新しいゲームを検出しました",
			Body:  fmt.Sprintf("%d件の新しいゲームがライブラリに追加されました", len(detected)),
			Data: map[string]string{
				"type":  "new_games",
				"count": fmt.Sprintf("%d", len(detected)),
			},
		})
	}

	return result
}

// stageDetected は検出済みゲームを永続化する。
// 自動フォローが無効な場合は台帳と保留キューへの原子的な追記のみで済む。
// 有効な場合はフォローリストも変わるため、メモリ上で全コレクションを
// 更新してから単一のSaveでまとめて書き込む（行単位の原子性を利用）。
func (s *Service) stageDetected(ctx context.Context, user *model.User, detected []model.PendingGame, now time.Time) error {
	ownedEntries := make([]model.OwnedGame, len(detected))
	for i, d := range detected {
		ownedEntries[i] = model.OwnedGame{AppID: d.AppID, AddedAt: now}
	}

	if !user.NotificationSettings.AutoFollowNewGames {
		if err := s.userRepo.AppendOwnedGames(ctx, user.ID, ownedEntries); err != nil {
			return model.NewStorageError(err.Error())
		}
		if err := s.userRepo.AppendPendingGames(ctx, user.ID, detected); err != nil {
			return model.NewStorageError(err.Error())
		}
		user.OwnedGames = append(user.OwnedGames, ownedEntries...)
		user.PendingNewGames = append(user.PendingNewGames, detected...)
		return nil
	}

	user.OwnedGames = append(user.OwnedGames, ownedEntries...)
	user.PendingNewGames = append(user.PendingNewGames, detected...)

	for _, d := range detected {
		if user.IsFollowing(d.AppID) {
			continue
		}
		if err := s.follows.EnsureGameFollower(ctx, user.ID, d.AppID, d.Name, d.LogoURL); err != nil {
			return model.NewStorageError(fmt.Sprintf("自動フォローに失敗しました: %v", err))
		}
		user.FollowedGames = append(user.FollowedGames, model.FollowedGame{
			AppID:               d.AppID,
			Name:                d.Name,
			LogoURL:             d.LogoURL,
			LastNewsTimestamp:   0,
			LastUpdateTimestamp: 0,
		})
	}

	if err := s.userRepo.Save(ctx, user); err != nil {
		return model.NewStorageError(err.Error())
	}

	return nil
}

// CheckAllUsers は全ユーザーに対して新規ゲーム検出パスを実行する。
// アップストリームのレート制限を尊重するため逐次実行する。
// コンテキストのキャンセルで新規ユーザーの開始を停止する。
func (s *Service) CheckAllUsers(ctx context.Context) ([]*model.CheckResult, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("ユーザー一覧の取得に失敗しました: %v", err))
	}

	results := make([]*model.CheckResult, 0, len(users))
	for _, user := range users {
		if ctx.Err() != nil {
			s.logger.Info("キャンセルされたため新規ゲーム検出を中断します",
				slog.Int("processed", len(results)),
				slog.Int("total", len(users)),
			)
			break
		}
		results = append(results, s.CheckUser(ctx, user))
	}

	return results, nil
}
