// Package model はドメインモデルを定義する。
package model

import "time"

// Game はカタログ上のゲームを表す。
// 最初のフォロー（明示的または自動）を契機に遅延生成され、
// フォロワーが0人になっても履歴として削除されない。
type Game struct {
	AppID   string
	Name    string
	LogoURL string

	// LastNewsTimestamp は最後に観測したニュースのUnixタイムスタンプ（秒）。
	LastNewsTimestamp int64
	// LastUpdateTimestamp は最後に観測したアップデートのUnixタイムスタンプ（秒）。
	LastUpdateTimestamp int64

	// Followers はこのゲームをフォローするユーザーIDの集合。
	// User.FollowedGames と常に同期して維持される。
	Followers []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFollower は指定ユーザーがフォロワーに含まれるかを返す。
func (g *Game) HasFollower(userID string) bool {
	for _, id := range g.Followers {
		if id == userID {
			return true
		}
	}
	return false
}

// Announcement はフォロワーへ配信するお知らせを表す。
type Announcement struct {
	Title string
	Body  string
	Data  map[string]string
}
