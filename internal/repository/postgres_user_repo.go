package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// ゲームコレクションはJSONBカラムとしてユーザー行に格納され、
// 単一行更新の原子性でドキュメント的なupsert/findセマンティクスを提供する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, steam_id, username, avatar_url,
	notifications_enabled, push_token, auto_follow_new_games, last_checked,
	owned_games, last_synced_games, followed_games, pending_new_games,
	created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindBySteamID はSteamIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindBySteamID(ctx context.Context, steamID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE steam_id = $1`, steamID)
	return scanUser(row)
}

// ListAll は全ユーザーを登録順（created_at, id）で返す。
func (r *PostgresUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	owned, synced, followed, pending, err := marshalCollections(user)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, steam_id, username, avatar_url,
			notifications_enabled, push_token, auto_follow_new_games, last_checked,
			owned_games, last_synced_games, followed_games, pending_new_games,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		user.ID, user.SteamID, user.Username, user.AvatarURL,
		user.NotificationSettings.Enabled, user.NotificationSettings.PushToken,
		user.NotificationSettings.AutoFollowNewGames, nullTime(user.LastChecked),
		owned, synced, followed, pending,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Save はユーザーの可変フィールドを一括更新する。
func (r *PostgresUserRepo) Save(ctx context.Context, user *model.User) error {
	owned, synced, followed, pending, err := marshalCollections(user)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			username = $2, avatar_url = $3,
			notifications_enabled = $4, push_token = $5, auto_follow_new_games = $6,
			last_checked = $7,
			owned_games = $8, last_synced_games = $9,
			followed_games = $10, pending_new_games = $11,
			updated_at = now()
		 WHERE id = $1`,
		user.ID, user.Username, user.AvatarURL,
		user.NotificationSettings.Enabled, user.NotificationSettings.PushToken,
		user.NotificationSettings.AutoFollowNewGames, nullTime(user.LastChecked),
		owned, synced, followed, pending,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}

	return nil
}

// UpdateLastChecked は最終同期日時のみを更新する。
func (r *PostgresUserRepo) UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_checked = $2, updated_at = now() WHERE id = $1`,
		id, checkedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update last_checked: %w", err)
	}
	return nil
}

// AppendOwnedGames は所有ゲーム台帳へエントリを追記する。
func (r *PostgresUserRepo) AppendOwnedGames(ctx context.Context, id string, games []model.OwnedGame) error {
	if len(games) == 0 {
		return nil
	}

	data, err := json.Marshal(games)
	if err != nil {
		return fmt.Errorf("failed to marshal owned games: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE users SET owned_games = owned_games || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to append owned games: %w", err)
	}
	return nil
}

// AppendPendingGames は保留キューへエントリを追記する。
func (r *PostgresUserRepo) AppendPendingGames(ctx context.Context, id string, games []model.PendingGame) error {
	if len(games) == 0 {
		return nil
	}

	data, err := json.Marshal(games)
	if err != nil {
		return fmt.Errorf("failed to marshal pending games: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE users SET pending_new_games = pending_new_games || $2::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to append pending games: %w", err)
	}
	return nil
}

// DrainPending は保留キューの全件を返し、同時に空にする。
// 取得とクリアは同一トランザクションの行ロック下で行い、
// 並行するドレインや追記との競合による取りこぼしを防ぐ。
func (r *PostgresUserRepo) DrainPending(ctx context.Context, id string) ([]model.PendingGame, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT pending_new_games FROM users WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending queue: %w", err)
	}

	var pending []model.PendingGame
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending games: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET pending_new_games = '[]'::jsonb, updated_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return nil, fmt.Errorf("failed to clear pending queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return pending, nil
}

// scanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanUser は1行をmodel.Userへ変換する。該当行がない場合はnilを返す。
func scanUser(row scanner) (*model.User, error) {
	user := &model.User{}
	var (
		lastChecked                   sql.NullTime
		owned, synced, followed, pend []byte
	)

	err := row.Scan(
		&user.ID, &user.SteamID, &user.Username, &user.AvatarURL,
		&user.NotificationSettings.Enabled, &user.NotificationSettings.PushToken,
		&user.NotificationSettings.AutoFollowNewGames, &lastChecked,
		&owned, &synced, &followed, &pend,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if lastChecked.Valid {
		user.LastChecked = lastChecked.Time
	}

	if err := json.Unmarshal(owned, &user.OwnedGames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal owned games: %w", err)
	}
	if err := json.Unmarshal(synced, &user.LastSyncedGames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal synced games: %w", err)
	}
	if err := json.Unmarshal(followed, &user.FollowedGames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal followed games: %w", err)
	}
	if err := json.Unmarshal(pend, &user.PendingNewGames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending games: %w", err)
	}

	return user, nil
}

// marshalCollections はユーザーの各ゲームコレクションをJSONBへ変換する。
// nilスライスは空配列として格納する。
func marshalCollections(user *model.User) (owned, synced, followed, pending []byte, err error) {
	owned, err = marshalOrEmpty(user.OwnedGames)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal owned games: %w", err)
	}
	synced, err = marshalOrEmpty(user.LastSyncedGames)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal synced games: %w", err)
	}
	followed, err = marshalOrEmpty(user.FollowedGames)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal followed games: %w", err)
	}
	pending, err = marshalOrEmpty(user.PendingNewGames)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal pending games: %w", err)
	}
	return owned, synced, followed, pending, nil
}

// marshalOrEmpty はnilスライスを'[]'として直列化する。
func marshalOrEmpty[T any](s []T) ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// nullTime はゼロ値をNULLへ変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
