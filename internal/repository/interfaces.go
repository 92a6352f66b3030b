// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーのゲームコレクションはユーザードキュメントの一部として
// 単一行の原子性の下で読み書きされる（行をまたぐトランザクションは前提としない）。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindBySteamID はSteamIDでユーザーを検索する。見つからない場合はnilを返す。
	FindBySteamID(ctx context.Context, steamID string) (*model.User, error)

	// ListAll は全ユーザーを登録順（created_at, id）で返す。
	// グループ分割の基準となる安定した順序を保証する。
	ListAll(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// Save はユーザーの可変フィールド（プロフィール、通知設定、
	// 各ゲームコレクション、LastChecked）を一括更新する。
	Save(ctx context.Context, user *model.User) error

	// UpdateLastChecked は最終同期日時のみを更新する。
	// 変更なしの同期サイクルでもスロットルゲート精度のために呼ばれる。
	UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error

	// AppendOwnedGames は所有ゲーム台帳へエントリを追記する。
	// 台帳は追加のみで、既存エントリは変更されない。
	AppendOwnedGames(ctx context.Context, id string, games []model.OwnedGame) error

	// AppendPendingGames は保留キューへエントリを追記する。
	// 重複排除は行わない（新規性の判定は呼び出し元の責務）。
	AppendPendingGames(ctx context.Context, id string, games []model.PendingGame) error

	// DrainPending は保留キューの全件を返し、同時に空にする。
	// 取得とクリアは同一トランザクションの行ロック下で行われる。
	DrainPending(ctx context.Context, id string) ([]model.PendingGame, error)
}

// GameRepository はゲームカタログデータの永続化インターフェース。
type GameRepository interface {
	// FindByAppID は指定appIdのゲームを取得する。見つからない場合はnilを返す。
	FindByAppID(ctx context.Context, appID string) (*model.Game, error)

	// Create はゲームを作成する。
	Create(ctx context.Context, game *model.Game) error

	// Update はゲームの名前・ロゴ・ウォーターマークを更新する。
	// フォロワー集合はAddFollower/RemoveFollowerでのみ変更する。
	Update(ctx context.Context, game *model.Game) error

	// AddFollower はフォロワー集合へユーザーを原子的に追加する。
	// 既にフォロワーの場合は何もしない（add-if-absent）。
	AddFollower(ctx context.Context, appID, userID string) error

	// RemoveFollower はフォロワー集合からユーザーを原子的に除去する。
	// フォロワーでない場合は何もしない（remove-if-present）。
	RemoveFollower(ctx context.Context, appID, userID string) error

	// ListWithFollowers はフォロワーが1人以上いるゲームを
	// ニュースチェックが古い順に最大limit件返す。
	ListWithFollowers(ctx context.Context, limit int) ([]*model.Game, error)

	// UpdateNewsTimestamp はニュースウォーターマークを更新する。
	UpdateNewsTimestamp(ctx context.Context, appID string, ts int64) error
}
