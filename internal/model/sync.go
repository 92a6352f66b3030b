// Package model はドメインモデルを定義する。
package model

import "time"

// GameUpdateAction は同期結果における更新種別を表す。
type GameUpdateAction string

const (
	// GameUpdateActionAdded はフォローリストへの自動追加を示す。
	GameUpdateActionAdded GameUpdateAction = "added"
	// GameUpdateActionUpdated は既存レコードの補強（ロゴ埋め戻し等）を示す。
	GameUpdateActionUpdated GameUpdateAction = "updated"
)

// NewGame は同期で検出された新規ゲームを表す。
type NewGame struct {
	AppID string
	Name  string
}

// UpdatedGame は同期で更新された既存ゲームを表す。
type UpdatedGame struct {
	AppID  string
	Name   string
	Action GameUpdateAction
}

// SyncResult は1ユーザーの同期サイクルの結果を表す。
// 失敗はErrorフィールドで報告され、この境界を越えてパニックしない。
type SyncResult struct {
	UserID       string
	SteamID      string
	Username     string
	NewGames     []NewGame
	UpdatedGames []UpdatedGame
	Skipped      bool
	Error        error
	LastSyncTime time.Time
}

// GroupStats はユーザーグループ同期パスの集計統計を表す。
type GroupStats struct {
	GroupIndex        int
	TotalGroups       int
	TotalUsers        int
	UsersProcessed    int
	UsersWithNewGames int
	TotalNewGames     int
	Errors            int
}

// CheckResult は新規ゲーム検出パス（所有台帳ベース）の結果を表す。
type CheckResult struct {
	UserID   string
	SteamID  string
	Username string
	NewGames []PendingGame
	Error    error
}
