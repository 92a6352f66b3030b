package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/gamewatch/internal/model"
)

// PostgresGameRepo はPostgreSQLを使用したゲームカタログリポジトリ。
// フォロワー集合はTEXT[]カラムとして保持し、単一文のarray_append/array_remove
// で原子的なadd-if-absent/remove-if-presentを実現する。
type PostgresGameRepo struct {
	db *sql.DB
}

// NewPostgresGameRepo はPostgresGameRepoを生成する。
func NewPostgresGameRepo(db *sql.DB) *PostgresGameRepo {
	return &PostgresGameRepo{db: db}
}

const gameColumns = `app_id, name, logo_url, last_news_timestamp, last_update_timestamp,
	followers, created_at, updated_at`

// FindByAppID は指定appIdのゲームを取得する。見つからない場合はnilを返す。
func (r *PostgresGameRepo) FindByAppID(ctx context.Context, appID string) (*model.Game, error) {
	game := &model.Game{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE app_id = $1`, appID,
	).Scan(
		&game.AppID, &game.Name, &game.LogoURL,
		&game.LastNewsTimestamp, &game.LastUpdateTimestamp,
		pq.Array(&game.Followers), &game.CreatedAt, &game.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find game by appId: %w", err)
	}

	return game, nil
}

// Create はゲームを作成する。
func (r *PostgresGameRepo) Create(ctx context.Context, game *model.Game) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO games (app_id, name, logo_url, last_news_timestamp, last_update_timestamp,
			followers, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		game.AppID, game.Name, game.LogoURL,
		game.LastNewsTimestamp, game.LastUpdateTimestamp,
		pq.Array(game.Followers), game.CreatedAt, game.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

// Update はゲームの名前・ロゴ・ウォーターマークを更新する。
// フォロワー集合はこのメソッドでは変更しない。
func (r *PostgresGameRepo) Update(ctx context.Context, game *model.Game) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE games SET
			name = $2, logo_url = $3,
			last_news_timestamp = $4, last_update_timestamp = $5,
			updated_at = now()
		 WHERE app_id = $1`,
		game.AppID, game.Name, game.LogoURL,
		game.LastNewsTimestamp, game.LastUpdateTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("game not found: %s", game.AppID)
	}
	return nil
}

// AddFollower はフォロワー集合へユーザーを原子的に追加する。
// WHERE句の包含チェックにより、並行するフォロー操作が重複エントリを
// 生むことはない。既にフォロワーの場合は何もしない。
func (r *PostgresGameRepo) AddFollower(ctx context.Context, appID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET followers = array_append(followers, $2), updated_at = now()
		 WHERE app_id = $1 AND NOT ($2 = ANY(followers))`,
		appID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}
	return nil
}

// RemoveFollower はフォロワー集合からユーザーを原子的に除去する。
// フォロワーでない場合は何もしない。
func (r *PostgresGameRepo) RemoveFollower(ctx context.Context, appID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET followers = array_remove(followers, $2), updated_at = now()
		 WHERE app_id = $1`,
		appID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}
	return nil
}

// ListWithFollowers はフォロワーが1人以上いるゲームを
// ニュースチェックが古い順に最大limit件返す。
func (r *PostgresGameRepo) ListWithFollowers(ctx context.Context, limit int) ([]*model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games
		 WHERE cardinality(followers) > 0
		 ORDER BY last_news_timestamp, app_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list games with followers: %w", err)
	}
	defer rows.Close()

	var games []*model.Game
	for rows.Next() {
		game := &model.Game{}
		err := rows.Scan(
			&game.AppID, &game.Name, &game.LogoURL,
			&game.LastNewsTimestamp, &game.LastUpdateTimestamp,
			pq.Array(&game.Followers), &game.CreatedAt, &game.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate games: %w", err)
	}

	return games, nil
}

// UpdateNewsTimestamp はニュースウォーターマークを更新する。
func (r *PostgresGameRepo) UpdateNewsTimestamp(ctx context.Context, appID string, ts int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET last_news_timestamp = $2, updated_at = now() WHERE app_id = $1`,
		appID, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to update news timestamp: %w", err)
	}
	return nil
}

// compile-time interface check
var _ GameRepository = (*PostgresGameRepo)(nil)
