package steam

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/gamewatch/internal/model"
)

// defaultCommunityBaseURL はSteamコミュニティの公開プロフィールのベースURL。
const defaultCommunityBaseURL = "https://steamcommunity.com"

// Scraper は公開プロフィールのゲーム一覧ページからライブラリ規模を推定する。
// APIの報告件数と実際の配列長が食い違った場合の診断に使用する。
// 非公開プロフィールではゲーム一覧が埋め込まれないため推定できない。
type Scraper struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
}

// NewScraper はScraperの新しいインスタンスを生成する。
func NewScraper(httpClient *http.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultCommunityBaseURL,
	}
}

// EstimateLibrarySize はゲーム一覧ページに埋め込まれたJSONからゲーム数を推定する。
// ページ構造が想定と異なる場合（非公開プロフィール等）はエラーを返す。
func (s *Scraper) EstimateLibrarySize(ctx context.Context, steamID string) (int, error) {
	pageURL := fmt.Sprintf("%s/profiles/%s/games/?tab=all", s.baseURL, steamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", "Gamewatch/1.0 Library Sync")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("プロフィールページの取得に失敗しました",
			slog.String("steam_id", steamID),
			slog.String("error", err.Error()),
		)
		return 0, model.NewUpstreamError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, model.NewUpstreamError(fmt.Sprintf("ステータス %d を受信しました", resp.StatusCode))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return 0, model.NewUpstreamError("プロフィールページのパースに失敗しました")
	}

	script, ok := findGamesScript(doc)
	if !ok {
		s.logger.Warn("ゲーム一覧スクリプトが見つかりません（非公開プロフィールの可能性）",
			slog.String("steam_id", steamID),
		)
		return 0, fmt.Errorf("games list not found in profile page: %s", steamID)
	}

	count := strings.Count(script, `"appid"`)
	s.logger.Info("ライブラリ規模を推定しました",
		slog.String("steam_id", steamID),
		slog.Int("estimated_count", count),
	)

	return count, nil
}

// findGamesScript はDOMツリーを走査し、ゲーム一覧データを含む
// scriptノードのテキストを返す。
func findGamesScript(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "script" {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		if text := sb.String(); strings.Contains(text, "rgGames") {
			return text, true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if text, ok := findGamesScript(c); ok {
			return text, ok
		}
	}

	return "", false
}
