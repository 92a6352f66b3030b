// Package follow はユーザーとゲームのフォロー関係を管理する。
// User.FollowedGames と Game.Followers の両面を単一のコードパスで
// 変更し、孤立したフォロー関係が生じないようにする。
package follow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/repository"
)

// Service はフォロー/フォロー解除のサービス層。
// ゲーム側（フォロワー集合）を先に更新し、その後ユーザー側を更新する。
// ユーザー側の書き込みが失敗した場合はゲーム側に余分なフォロワーが
// 残りうるが、次回のフォロー解除で回収される（結果整合）。
type Service struct {
	userRepo repository.UserRepository
	gameRepo repository.GameRepository
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, gameRepo repository.GameRepository, logger *slog.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		gameRepo: gameRepo,
		logger:   logger,
	}
}

// Follow は指定ユーザーが指定ゲームのフォローを開始する。
// ゲームが未登録の場合は遅延生成する。
func (s *Service) Follow(ctx context.Context, steamID, appID, name, logoURL string) error {
	user, err := s.userRepo.FindBySteamID(ctx, steamID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(steamID)
	}

	if user.IsFollowing(appID) {
		return model.NewAlreadyFollowingError(appID)
	}

	if err := s.EnsureGameFollower(ctx, user.ID, appID, name, logoURL); err != nil {
		return err
	}

	user.FollowedGames = append(user.FollowedGames, model.FollowedGame{
		AppID:   appID,
		Name:    name,
		LogoURL: logoURL,
		// ウォーターマークは0で初期化し、以後のニュースをすべて未読として扱う
		LastNewsTimestamp:   0,
		LastUpdateTimestamp: 0,
	})

	if err := s.userRepo.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to save user follow list: %w", err)
	}

	s.logger.Info("ゲームをフォローしました",
		slog.String("steam_id", steamID),
		slog.String("app_id", appID),
	)

	return nil
}

// Unfollow は指定ユーザーのフォローを解除する。
func (s *Service) Unfollow(ctx context.Context, steamID, appID string) error {
	user, err := s.userRepo.FindBySteamID(ctx, steamID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError(steamID)
	}

	if !user.IsFollowing(appID) {
		return model.NewNotFollowingError(appID)
	}

	// ゲーム側を先に除去する（remove-if-presentのため冪等）
	if err := s.gameRepo.RemoveFollower(ctx, appID, user.ID); err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}

	followed := make([]model.FollowedGame, 0, len(user.FollowedGames))
	for _, g := range user.FollowedGames {
		if g.AppID != appID {
			followed = append(followed, g)
		}
	}
	user.FollowedGames = followed

	if err := s.userRepo.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to save user follow list: %w", err)
	}

	s.logger.Info("ゲームのフォローを解除しました",
		slog.String("steam_id", steamID),
		slog.String("app_id", appID),
	)

	return nil
}

// EnsureGameFollower はゲーム側のフォロー関係を保証する。
// ゲームが未登録なら遅延生成し、フォロワー集合へユーザーを
// 原子的に追加する（既にフォロワーなら何もしない）。
// 自動フォロー時に同期サービスからも使用される。
func (s *Service) EnsureGameFollower(ctx context.Context, userID, appID, name, logoURL string) error {
	game, err := s.gameRepo.FindByAppID(ctx, appID)
	if err != nil {
		return fmt.Errorf("failed to find game: %w", err)
	}

	if game == nil {
		now := time.Now()
		game = &model.Game{
			AppID:     appID,
			Name:      name,
			LogoURL:   logoURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.gameRepo.Create(ctx, game); err != nil {
			// 並行するフォローが先に生成した場合は追加処理へ進む
			s.logger.Warn("ゲームの生成に失敗しました（並行生成の可能性）",
				slog.String("app_id", appID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.gameRepo.AddFollower(ctx, appID, userID); err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}

	return nil
}
