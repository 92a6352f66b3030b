// Package notification はフォロワーへのプッシュ通知配信を提供する。
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/repository"
)

// Transport は通知配信トランスポートのインターフェース。
// 配信失敗はfalseで報告され、この境界を越えてエラーは伝播しない。
type Transport interface {
	Deliver(ctx context.Context, token, title, body string, data map[string]string) bool
}

// Service は通知のファンアウトを行うサービス層。
// フォロワーごとに通知設定とトークンの有無を確認し、
// 配信を試行する。個別の配信失敗はファンアウトを止めない。
type Service struct {
	userRepo  repository.UserRepository
	gameRepo  repository.GameRepository
	transport Transport
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	gameRepo repository.GameRepository,
	transport Transport,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:  userRepo,
		gameRepo:  gameRepo,
		transport: transport,
		collector: collector,
		logger:    logger,
	}
}

// NotifyFollowers は指定ゲームの全フォロワーへお知らせを配信する。
// 通知無効またはトークン未設定のフォロワーは黙ってスキップする（エラーではない）。
// 配信に成功した件数を返す。失敗した配信のリトライは行わない。
func (s *Service) NotifyFollowers(ctx context.Context, appID string, ann model.Announcement) (int, error) {
	game, err := s.gameRepo.FindByAppID(ctx, appID)
	if err != nil {
		return 0, fmt.Errorf("failed to find game: %w", err)
	}
	if game == nil {
		return 0, model.NewGameNotFoundError(appID)
	}

	delivered := 0
	for _, followerID := range game.Followers {
		user, err := s.userRepo.FindByID(ctx, followerID)
		if err != nil {
			s.logger.Error("フォロワーの取得に失敗しました",
				slog.String("app_id", appID),
				slog.String("user_id", followerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if user == nil {
			continue
		}

		if s.SendToUser(ctx, user, ann) {
			delivered++
		}
	}

	s.logger.Info("フォロワーへ通知を配信しました",
		slog.String("app_id", appID),
		slog.Int("follower_count", len(game.Followers)),
		slog.Int("delivered", delivered),
	)

	return delivered, nil
}

// SendToUser は単一ユーザーへお知らせを配信する。
// 通知無効またはトークン未設定の場合は配信せずfalseを返す。
func (s *Service) SendToUser(ctx context.Context, user *model.User, ann model.Announcement) bool {
	if !user.NotificationSettings.Enabled || user.NotificationSettings.PushToken == "" {
		return false
	}

	ok := s.transport.Deliver(ctx, user.NotificationSettings.PushToken, ann.Title, ann.Body, ann.Data)
	if ok {
		s.collector.RecordNotificationDelivered()
	} else {
		s.collector.RecordNotificationFailed()
		s.logger.Warn("通知の配信に失敗しました",
			slog.String("user_id", user.ID),
		)
	}

	return ok
}
