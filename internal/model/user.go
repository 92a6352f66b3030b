// Package model はドメインモデルを定義する。
package model

import "time"

// User はSteamライブラリを追跡するサービス利用ユーザーを表す。
// ゲームコレクション（所有・スナップショット・フォロー・保留）は
// ユーザードキュメントの一部として永続化される。
type User struct {
	ID        string
	SteamID   string
	Username  string
	AvatarURL string

	NotificationSettings NotificationSettings

	// LastChecked は最後に同期が成功した日時。ゼロ値は未同期を表す。
	LastChecked time.Time

	// OwnedGames は観測済みの所有ゲーム台帳。追加のみで削除されない。
	OwnedGames []OwnedGame

	// LastSyncedGames は差分計算の基準となるスナップショット。
	// OwnedGamesと同様に追加のみ。表示名とロゴで補強されている。
	LastSyncedGames []SyncedGame

	// FollowedGames はニュース/アップデート通知の対象ゲーム。
	FollowedGames []FollowedGame

	// PendingNewGames は検出済みだが未確認の新規ゲームキュー。
	// ドレイン操作で全件取得と同時にクリアされる。
	PendingNewGames []PendingGame

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationSettings はユーザーの通知設定を表す。
type NotificationSettings struct {
	Enabled            bool   `json:"enabled"`
	PushToken          string `json:"pushToken"`
	AutoFollowNewGames bool   `json:"autoFollowNewGames"`
}

// OwnedGame は所有ゲーム台帳の1エントリを表す。
type OwnedGame struct {
	AppID   string    `json:"appId"`
	AddedAt time.Time `json:"addedAt"`
}

// SyncedGame はスナップショット内の補強済みゲームレコードを表す。
type SyncedGame struct {
	AppID   string    `json:"appId"`
	Name    string    `json:"name"`
	LogoURL string    `json:"logoUrl,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// FollowedGame はユーザーがフォローするゲームと既読ウォーターマークを表す。
// ウォーターマークはUnixタイムスタンプ（秒）。0は未読扱い。
type FollowedGame struct {
	AppID               string `json:"appId"`
	Name                string `json:"name"`
	LogoURL             string `json:"logoUrl,omitempty"`
	LastNewsTimestamp   int64  `json:"lastNewsTimestamp"`
	LastUpdateTimestamp int64  `json:"lastUpdateTimestamp"`
}

// PendingGame は保留キュー内の新規検出ゲームを表す。
type PendingGame struct {
	AppID      string    `json:"appId"`
	Name       string    `json:"name"`
	LogoURL    string    `json:"logoUrl,omitempty"`
	DetectedAt time.Time `json:"detectedAt"`
}

// IsFollowing は指定appIdのゲームをフォロー中かを返す。
func (u *User) IsFollowing(appID string) bool {
	for _, g := range u.FollowedGames {
		if g.AppID == appID {
			return true
		}
	}
	return false
}
