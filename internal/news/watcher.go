// Package news はフォロー中ゲームのニュースフィード監視機能を提供する。
// Steamストアの公式フィードを定期的にポーリングし、ウォーターマークより
// 新しいエントリをフォロワーへ通知する。
package news

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/repository"
	"github.com/hitoshi/gamewatch/internal/security"
)

// defaultFeedBaseURL はSteamストアのニュースフィードのベースURL。
const defaultFeedBaseURL = "https://store.steampowered.com"

// maxBodyPreviewLength は通知本文に載せる要約の最大文字数（rune単位）。
const maxBodyPreviewLength = 120

// FollowerNotifier はゲームのフォロワー全員への通知配信インターフェース。
type FollowerNotifier interface {
	NotifyFollowers(ctx context.Context, appID string, ann model.Announcement) (int, error)
}

// WatcherConfig はニュース監視ジョブの設定パラメータ。
// 環境変数から設定可能。
type WatcherConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 30分）。
	BatchInterval time.Duration
	// MaxFeedsPerCycle は1サイクルあたりの最大フィード取得数（デフォルト: 50）。
	MaxFeedsPerCycle int
	// FetchTimeout は1フィードあたりのHTTPタイムアウト（デフォルト: 15秒）。
	FetchTimeout time.Duration
	// MaxBodySize はレスポンスボディの最大サイズ（デフォルト: 5MB）。
	MaxBodySize int64
}

// DefaultWatcherConfig はデフォルトのニュース監視設定を返す。
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		BatchInterval:    30 * time.Minute,
		MaxFeedsPerCycle: 50,
		FetchTimeout:     15 * time.Second,
		MaxBodySize:      5 * 1024 * 1024,
	}
}

// Watcher はフォロワーを持つゲームのニュースフィードを監視するバッチジョブ。
// ゲームごとのウォーターマーク（最終観測タイムスタンプ）を基準に
// 新着エントリを判定し、フォロワーへ通知を配信する。
type Watcher struct {
	gameRepo  repository.GameRepository
	ssrfGuard security.SSRFGuardService
	sanitizer security.ContentSanitizerService
	notifier  FollowerNotifier
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    WatcherConfig
	baseURL   string // テスト用にベースURLを差し替え可能
}

// NewWatcher はWatcherの新しいインスタンスを生成する。
func NewWatcher(
	gameRepo repository.GameRepository,
	ssrfGuard security.SSRFGuardService,
	sanitizer security.ContentSanitizerService,
	notifier FollowerNotifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config WatcherConfig,
) *Watcher {
	return &Watcher{
		gameRepo:  gameRepo,
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		notifier:  notifier,
		collector: collector,
		logger:    logger,
		config:    config,
		baseURL:   defaultFeedBaseURL,
	}
}

// Start はニュース監視ジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.BatchInterval)
	defer ticker.Stop()

	w.logger.Info("ニュース監視ジョブを開始しました",
		slog.Duration("batch_interval", w.config.BatchInterval),
		slog.Int("max_feeds_per_cycle", w.config.MaxFeedsPerCycle),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("ニュース監視サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ニュース監視ジョブを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("ニュース監視サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回の監視サイクルを実行する。
// フォロワーを持つゲームをニュースチェックが古い順に取得し、
// フィードごとに新着エントリの検出と通知を行う。
// 個別フィードの失敗はログに記録して次のフィードへ進む。
func (w *Watcher) RunOnce(ctx context.Context) error {
	start := time.Now()

	games, err := w.gameRepo.ListWithFollowers(ctx, w.config.MaxFeedsPerCycle)
	if err != nil {
		return fmt.Errorf("failed to list games with followers: %w", err)
	}

	if len(games) == 0 {
		w.logger.Info("ニュース監視対象のゲームはありません")
		return nil
	}

	w.logger.Info("ニュース監視サイクルを開始します",
		slog.Int("target_games", len(games)),
	)

	var checkedCount, entryCount, notifiedCount int
	for _, game := range games {
		if ctx.Err() != nil {
			w.logger.Info("キャンセルされたためニュース監視を中断します",
				slog.Int("checked", checkedCount),
				slog.Int("total", len(games)),
			)
			break
		}

		entries, notified, err := w.checkGame(ctx, game)
		if err != nil {
			w.logger.Error("ゲームのニュースチェックに失敗しました",
				slog.String("app_id", game.AppID),
				slog.String("name", game.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		checkedCount++
		entryCount += entries
		notifiedCount += notified
	}

	if entryCount > 0 {
		w.collector.RecordNewsEntries(entryCount)
	}

	duration := time.Since(start)
	w.logger.Info("ニュース監視サイクルが完了しました",
		slog.Int("checked_games", checkedCount),
		slog.Int("new_entries", entryCount),
		slog.Int("notified", notifiedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// checkGame は1ゲームのフィードをフェッチし、新着エントリを通知する。
// 新着エントリ数と通知配信数を返す。
// ウォーターマークは全エントリの通知が完了した後にまとめて進める。
func (w *Watcher) checkGame(ctx context.Context, game *model.Game) (int, int, error) {
	feedURL := fmt.Sprintf("%s/feeds/news/app/%s/", w.baseURL, game.AppID)

	if err := w.ssrfGuard.ValidateURL(feedURL); err != nil {
		return 0, 0, fmt.Errorf("failed to validate feed URL: %w", err)
	}

	client := w.ssrfGuard.NewSafeClient(w.config.FetchTimeout, w.config.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Gamewatch/1.0 Library Sync")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, w.config.MaxBodySize))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read feed body: %w", err)
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse feed: %w", err)
	}

	newEntries := w.selectNewEntries(parsedFeed.Items, game.LastNewsTimestamp)
	if len(newEntries) == 0 {
		return 0, 0, nil
	}

	notified := 0
	maxTS := game.LastNewsTimestamp
	for _, item := range newEntries {
		ann := w.buildAnnouncement(game, item)
		count, err := w.notifier.NotifyFollowers(ctx, game.AppID, ann)
		if err != nil {
			w.logger.Error("フォロワーへの通知配信に失敗しました",
				slog.String("app_id", game.AppID),
				slog.String("entry_title", item.Title),
				slog.String("error", err.Error()),
			)
		} else {
			notified += count
		}

		// 配信に失敗したエントリも既読として扱い、再送はしない。
		// 失敗は上のエラーログにのみ残る。
		if ts := item.PublishedParsed.Unix(); ts > maxTS {
			maxTS = ts
		}
	}

	if maxTS > game.LastNewsTimestamp {
		if err := w.gameRepo.UpdateNewsTimestamp(ctx, game.AppID, maxTS); err != nil {
			return len(newEntries), notified, fmt.Errorf("failed to update news timestamp: %w", err)
		}
		game.LastNewsTimestamp = maxTS
	}

	w.logger.Info("新着ニュースを検出しました",
		slog.String("app_id", game.AppID),
		slog.String("name", game.Name),
		slog.Int("entries", len(newEntries)),
		slog.Int("notified", notified),
	)

	return len(newEntries), notified, nil
}

// selectNewEntries はウォーターマークより新しいエントリを古い順で返す。
// 公開日時を持たないエントリは新旧を判定できないためスキップする。
func (w *Watcher) selectNewEntries(items []*gofeed.Item, watermark int64) []*gofeed.Item {
	var entries []*gofeed.Item
	for _, item := range items {
		if item == nil || item.PublishedParsed == nil {
			continue
		}
		if item.PublishedParsed.Unix() > watermark {
			entries = append(entries, item)
		}
	}

	// フィードは新しい順で届くことが多いため、通知順序を古い順に揃える
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries
}

// buildAnnouncement はフィードエントリから通知を構築する。
// 要約はHTMLタグを除去し、通知本文に収まる長さへ切り詰める。
func (w *Watcher) buildAnnouncement(game *model.Game, item *gofeed.Item) model.Announcement {
	body := w.sanitizer.PlainText(item.Description)
	if body == "" {
		body = w.sanitizer.PlainText(item.Content)
	}
	if runes := []rune(body); len(runes) > maxBodyPreviewLength {
		body = string(runes[:maxBodyPreviewLength]) + "…"
	}

	title := fmt.Sprintf("%s: %s", game.Name, item.Title)

	return model.Announcement{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":   "game_news",
			"app_id": game.AppID,
			"link":   item.Link,
		},
	}
}
