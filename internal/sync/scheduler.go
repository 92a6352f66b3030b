package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
)

// PartitionGroup は安定順序のユーザーリストを連続した近等サイズの
// グループへ分割し、groupIndexに対応するスライスを返す。
// サイズ差は最大1（先頭の population mod totalGroups グループが1人多い）。
// 全グループの合併は母集団と過不足なく一致する。
func PartitionGroup(users []*model.User, groupIndex, totalGroups int) ([]*model.User, error) {
	if totalGroups <= 0 {
		return nil, fmt.Errorf("totalGroups must be positive: %d", totalGroups)
	}
	if groupIndex < 0 || groupIndex >= totalGroups {
		return nil, fmt.Errorf("groupIndex out of range: %d (totalGroups=%d)", groupIndex, totalGroups)
	}

	base := len(users) / totalGroups
	extra := len(users) % totalGroups

	start := groupIndex*base + min(groupIndex, extra)
	size := base
	if groupIndex < extra {
		size++
	}

	return users[start : start+size], nil
}

// SyncGroup は指定グループの全ユーザーを照合同期し、集計統計を返す。
// 個別ユーザーの失敗は集計され、グループ全体を中断しない。
// 唯一の致命的条件は母集団列挙の失敗で、その場合のみエラーを返す。
func (s *Service) SyncGroup(ctx context.Context, groupIndex, totalGroups, maxConcurrency int) (*model.GroupStats, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return nil, model.NewStorageError(fmt.Sprintf("ユーザー一覧の取得に失敗しました: %v", err))
	}

	group, err := PartitionGroup(users, groupIndex, totalGroups)
	if err != nil {
		return nil, err
	}

	stats := &model.GroupStats{
		GroupIndex:  groupIndex,
		TotalGroups: totalGroups,
		TotalUsers:  len(group),
	}

	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	s.logger.Info("グループ同期を開始します",
		slog.Int("group_index", groupIndex),
		slog.Int("total_groups", totalGroups),
		slog.Int("user_count", len(group)),
		slog.Int("max_concurrency", maxConcurrency),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, maxConcurrency)
	var wg gosync.WaitGroup
	var statsMu gosync.Mutex

	for _, user := range group {
		// キャンセル時は新規ユーザーの開始を止め、実行中のものは完了させる。
		// セマフォの空き待ちの間のキャンセルもここで検知する。
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			s.logger.Info("キャンセルされたためグループ同期を中断します",
				slog.Int("group_index", groupIndex),
			)
			break
		}

		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.reconcile(ctx, u)

			statsMu.Lock()
			defer statsMu.Unlock()

			stats.UsersProcessed++
			if result.Error != nil {
				stats.Errors++
				return
			}
			if len(result.NewGames) > 0 {
				stats.UsersWithNewGames++
				stats.TotalNewGames += len(result.NewGames)
			}
		}(user)
	}

	wg.Wait()

	s.logger.Info("グループ同期が完了しました",
		slog.Int("group_index", groupIndex),
		slog.Int("users_processed", stats.UsersProcessed),
		slog.Int("users_with_new_games", stats.UsersWithNewGames),
		slog.Int("total_new_games", stats.TotalNewGames),
		slog.Int("errors", stats.Errors),
	)

	return stats, nil
}

// Scheduler はグループ同期の周期実行を行う。
// 呼び出しごとに次のグループへ進み、全グループを一巡するごとに
// 所有台帳ベースの新規ゲーム検出パスを実行する。
type Scheduler struct {
	service        *Service
	logger         *slog.Logger
	totalGroups    int
	maxConcurrency int
	nextGroup      int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// totalGroupsが0以下の場合はデフォルト値4を使用する。
func NewScheduler(service *Service, logger *slog.Logger, totalGroups, maxConcurrency int) *Scheduler {
	if totalGroups <= 0 {
		totalGroups = 4
	}
	return &Scheduler{
		service:        service,
		logger:         logger,
		totalGroups:    totalGroups,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (sc *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sc.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("total_groups", sc.totalGroups),
	)

	// 起動直後に1回実行
	if err := sc.RunOnce(ctx); err != nil {
		sc.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := sc.RunOnce(ctx); err != nil {
				sc.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は現在のグループを同期して次へ進める。
// 全グループを一巡した直後に新規ゲーム検出パスを実行する。
func (sc *Scheduler) RunOnce(ctx context.Context) error {
	group := sc.nextGroup
	sc.nextGroup = (sc.nextGroup + 1) % sc.totalGroups

	if _, err := sc.service.SyncGroup(ctx, group, sc.totalGroups, sc.maxConcurrency); err != nil {
		return err
	}

	// 一巡完了時に所有台帳ベースの検出パスを回す
	if sc.nextGroup == 0 {
		if _, err := sc.service.CheckAllUsers(ctx); err != nil {
			return err
		}
	}

	return nil
}
