// Package steam はSteam Web APIのクライアントを提供する。
// 所有ゲーム一覧・プロフィールの取得と、公開プロフィールページからの
// ライブラリ規模推定（診断用スクレイパー）を含む。
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/model"
)

const (
	// defaultOwnedGamesEndpoint は所有ゲーム一覧取得APIのエンドポイント。
	defaultOwnedGamesEndpoint = "http://api.steampowered.com/IPlayerService/GetOwnedGames/v0001/"
	// defaultPlayerSummariesEndpoint はプロフィール取得APIのエンドポイント。
	defaultPlayerSummariesEndpoint = "http://api.steampowered.com/ISteamUser/GetPlayerSummaries/v0002/"
	// logoURLFormat はロゴフラグメントからロゴ画像URLを導出するフォーマット。
	logoURLFormat = "http://media.steampowered.com/steamcommunity/public/images/apps/%s/%s.jpg"
)

// OwnedGame はSteam APIが返す所有ゲーム1件を表す。
type OwnedGame struct {
	AppID           string
	Name            string
	LogoFragment    string
	PlaytimeMinutes int
}

// LogoURL はロゴフラグメントからロゴ画像URLを導出する。
// フラグメントがない場合は空文字列を返す。
func (g OwnedGame) LogoURL() string {
	if g.LogoFragment == "" {
		return ""
	}
	return fmt.Sprintf(logoURLFormat, g.AppID, g.LogoFragment)
}

// Profile はSteamの公開プロフィールを表す。
type Profile struct {
	SteamID     string
	DisplayName string
	AvatarURL   string
}

// Client はSteam Web APIのクライアント。
// レートリミッターで呼び出し頻度を抑制し、レイテンシと
// HTTPステータスをメトリクスへ記録する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	collector  metrics.MetricsCollector
	apiKey     string

	// テスト用にエンドポイントを差し替え可能
	ownedGamesEndpoint      string
	playerSummariesEndpoint string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(apiKey string, httpClient *http.Client, limiter *rate.Limiter, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	return &Client{
		httpClient:              httpClient,
		logger:                  logger,
		limiter:                 limiter,
		collector:               collector,
		apiKey:                  apiKey,
		ownedGamesEndpoint:      defaultOwnedGamesEndpoint,
		playerSummariesEndpoint: defaultPlayerSummariesEndpoint,
	}
}

// ownedGamesResponse はGetOwnedGames APIのレスポンス形式。
// gamesフィールドの欠落と空配列を区別するためポインタで受ける。
type ownedGamesResponse struct {
	Response struct {
		GameCount int `json:"game_count"`
		Games     *[]struct {
			AppID           int    `json:"appid"`
			Name            string `json:"name"`
			ImgLogoURL      string `json:"img_logo_url"`
			PlaytimeForever int    `json:"playtime_forever"`
		} `json:"games"`
	} `json:"response"`
}

// GetOwnedGames は指定ユーザーの所有ゲーム一覧を取得する。
// 返却された配列を信頼し、game_countとの件数不一致はログに記録するのみで
// 再試行しない。利用不能な応答形式（game_count > 0なのにgames欠落）は
// UpstreamErrorとして返す。
func (c *Client) GetOwnedGames(ctx context.Context, steamID string) ([]OwnedGame, error) {
	body, err := c.get(ctx, c.ownedGamesEndpoint, url.Values{
		"key":             {c.apiKey},
		"steamid":         {steamID},
		"include_appinfo": {"1"},
		"format":          {"json"},
	})
	if err != nil {
		return nil, err
	}

	var parsed ownedGamesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error("所有ゲームレスポンスのパースに失敗しました",
			slog.String("steam_id", steamID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError("レスポンスJSONのパースに失敗しました")
	}

	if parsed.Response.Games == nil {
		// game_countが0の場合はgames配列が省略される（正常な空ライブラリ）
		if parsed.Response.GameCount == 0 {
			return []OwnedGame{}, nil
		}
		c.logger.Error("所有ゲームレスポンスにgames配列がありません",
			slog.String("steam_id", steamID),
			slog.Int("game_count", parsed.Response.GameCount),
		)
		return nil, model.NewUpstreamError("games配列を含まない応答を受信しました")
	}

	raw := *parsed.Response.Games
	if len(raw) != parsed.Response.GameCount {
		c.logger.Warn("所有ゲームの件数が報告値と一致しません",
			slog.String("steam_id", steamID),
			slog.Int("reported_count", parsed.Response.GameCount),
			slog.Int("returned_count", len(raw)),
		)
	}

	games := make([]OwnedGame, 0, len(raw))
	for _, g := range raw {
		games = append(games, OwnedGame{
			AppID:           strconv.Itoa(g.AppID),
			Name:            g.Name,
			LogoFragment:    g.ImgLogoURL,
			PlaytimeMinutes: g.PlaytimeForever,
		})
	}

	return games, nil
}

// playerSummariesResponse はGetPlayerSummaries APIのレスポンス形式。
type playerSummariesResponse struct {
	Response struct {
		Players []struct {
			SteamID     string `json:"steamid"`
			PersonaName string `json:"personaname"`
			AvatarFull  string `json:"avatarfull"`
		} `json:"players"`
	} `json:"response"`
}

// GetProfile は指定ユーザーの公開プロフィールを取得する。
// プロフィールが存在しない場合はnilを返す。
func (c *Client) GetProfile(ctx context.Context, steamID string) (*Profile, error) {
	body, err := c.get(ctx, c.playerSummariesEndpoint, url.Values{
		"key":      {c.apiKey},
		"steamids": {steamID},
		"format":   {"json"},
	})
	if err != nil {
		return nil, err
	}

	var parsed playerSummariesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error("プロフィールレスポンスのパースに失敗しました",
			slog.String("steam_id", steamID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError("レスポンスJSONのパースに失敗しました")
	}

	if len(parsed.Response.Players) == 0 {
		return nil, nil
	}

	p := parsed.Response.Players[0]
	return &Profile{
		SteamID:     p.SteamID,
		DisplayName: p.PersonaName,
		AvatarURL:   p.AvatarFull,
	}, nil
}

// get はレートリミッターを通してGETリクエストを実行し、ボディを返す。
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", "Gamewatch/1.0 Library Sync")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.collector.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		c.logger.Error("Steam APIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError(err.Error())
	}
	defer resp.Body.Close()

	c.collector.RecordUpstreamStatus(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Steam APIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUpstreamError(fmt.Sprintf("ステータス %d を受信しました", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewUpstreamError("レスポンスボディの読み取りに失敗しました")
	}

	return body, nil
}
