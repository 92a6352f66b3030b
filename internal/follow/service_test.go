package follow

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/gamewatch/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findBySteamIDFn func(ctx context.Context, steamID string) (*model.User, error)
	saveFn          func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindBySteamID(ctx context.Context, steamID string) (*model.User, error) {
	return m.findBySteamIDFn(ctx, steamID)
}
func (m *mockUserRepo) ListAll(ctx context.Context) ([]*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}
func (m *mockUserRepo) Save(ctx context.Context, user *model.User) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, user)
	}
	return nil
}
func (m *mockUserRepo) UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time) error {
	return nil
}
func (m *mockUserRepo) AppendOwnedGames(ctx context.Context, id string, games []model.OwnedGame) error {
	return nil
}
func (m *mockUserRepo) AppendPendingGames(ctx context.Context, id string, games []model.PendingGame) error {
	return nil
}
func (m *mockUserRepo) DrainPending(ctx context.Context, id string) ([]model.PendingGame, error) {
	return nil, nil
}

type mockGameRepo struct {
	findByAppIDFn    func(ctx context.Context, appID string) (*model.Game, error)
	createFn         func(ctx context.Context, game *model.Game) error
	addFollowerFn    func(ctx context.Context, appID, userID string) error
	removeFollowerFn func(ctx context.Context, appID, userID string) error
}

func (m *mockGameRepo) FindByAppID(ctx context.Context, appID string) (*model.Game, error) {
	return m.findByAppIDFn(ctx, appID)
}
func (m *mockGameRepo) Create(ctx context.Context, game *model.Game) error {
	if m.createFn != nil {
		return m.createFn(ctx, game)
	}
	return nil
}
func (m *mockGameRepo) Update(ctx context.Context, game *model.Game) error {
	return nil
}
func (m *mockGameRepo) AddFollower(ctx context.Context, appID, userID string) error {
	if m.addFollowerFn != nil {
		return m.addFollowerFn(ctx, appID, userID)
	}
	return nil
}
func (m *mockGameRepo) RemoveFollower(ctx context.Context, appID, userID string) error {
	if m.removeFollowerFn != nil {
		return m.removeFollowerFn(ctx, appID, userID)
	}
	return nil
}
func (m *mockGameRepo) ListWithFollowers(ctx context.Context, limit int) ([]*model.Game, error) {
	return nil, nil
}
func (m *mockGameRepo) UpdateNewsTimestamp(ctx context.Context, appID string, ts int64) error {
	return nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

// --- テスト ---

// TestService_Follow_NewGame_CreatesLazily は未登録ゲームの遅延生成を検証する。
func TestService_Follow_NewGame_CreatesLazily(t *testing.T) {
	user := &model.User{ID: "u-1", SteamID: "76561198000000001"}

	var createdGame *model.Game
	var addedFollower string
	var savedUser *model.User

	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return user, nil
		},
		saveFn: func(ctx context.Context, u *model.User) error {
			savedUser = u
			return nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return nil, nil // 未登録
		},
		createFn: func(ctx context.Context, game *model.Game) error {
			createdGame = game
			return nil
		},
		addFollowerFn: func(ctx context.Context, appID, userID string) error {
			addedFollower = userID
			return nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	err := s.Follow(context.Background(), "76561198000000001", "440", "Team Fortress 2", "https://example.com/logo.jpg")
	if err != nil {
		t.Fatalf("Follow がエラーを返した: %v", err)
	}

	if createdGame == nil {
		t.Fatal("ゲームが遅延生成されていない")
	}
	if createdGame.AppID != "440" || createdGame.Name != "Team Fortress 2" {
		t.Errorf("生成されたゲームが不正: %+v", createdGame)
	}
	if addedFollower != "u-1" {
		t.Errorf("フォロワー = %s, want u-1", addedFollower)
	}

	if savedUser == nil {
		t.Fatal("ユーザーが保存されていない")
	}
	if len(savedUser.FollowedGames) != 1 {
		t.Fatalf("フォロー数 = %d, want 1", len(savedUser.FollowedGames))
	}
	fg := savedUser.FollowedGames[0]
	if fg.AppID != "440" {
		t.Errorf("フォローゲームのAppID = %s, want 440", fg.AppID)
	}
	// ウォーターマークは0で初期化される
	if fg.LastNewsTimestamp != 0 || fg.LastUpdateTimestamp != 0 {
		t.Errorf("ウォーターマークが0で初期化されていない: %+v", fg)
	}
}

// TestService_Follow_ExistingGame_SkipsCreate は登録済みゲームで生成しないことを検証する。
func TestService_Follow_ExistingGame_SkipsCreate(t *testing.T) {
	user := &model.User{ID: "u-1", SteamID: "76561198000000001"}

	created := false
	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return user, nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return &model.Game{AppID: appID, Name: "Dota 2"}, nil
		},
		createFn: func(ctx context.Context, game *model.Game) error {
			created = true
			return nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	if err := s.Follow(context.Background(), "76561198000000001", "570", "Dota 2", ""); err != nil {
		t.Fatalf("Follow がエラーを返した: %v", err)
	}
	if created {
		t.Error("登録済みゲームが再生成された")
	}
}

// TestService_Follow_AlreadyFollowing_ReturnsError はフォロー済みエラーを検証する。
func TestService_Follow_AlreadyFollowing_ReturnsError(t *testing.T) {
	user := &model.User{
		ID:      "u-1",
		SteamID: "76561198000000001",
		FollowedGames: []model.FollowedGame{
			{AppID: "440", Name: "Team Fortress 2"},
		},
	}

	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return user, nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return &model.Game{AppID: appID}, nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	err := s.Follow(context.Background(), "76561198000000001", "440", "Team Fortress 2", "")
	if err == nil {
		t.Fatal("フォロー済みでエラーを返さなかった")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAlreadyFollowing {
		t.Errorf("エラーが不正: %v", err)
	}
}

// TestService_Follow_UserNotFound_ReturnsError は未登録ユーザーのエラーを検証する。
func TestService_Follow_UserNotFound_ReturnsError(t *testing.T) {
	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return nil, nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return nil, nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	err := s.Follow(context.Background(), "76561198999999999", "440", "x", "")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("エラーが不正: %v", err)
	}
}

// TestService_Unfollow_RemovesBothSides はフォロー解除で両面が更新されることを検証する。
func TestService_Unfollow_RemovesBothSides(t *testing.T) {
	user := &model.User{
		ID:      "u-1",
		SteamID: "76561198000000001",
		FollowedGames: []model.FollowedGame{
			{AppID: "440", Name: "Team Fortress 2"},
			{AppID: "570", Name: "Dota 2"},
		},
	}

	var removedFollower string
	var savedUser *model.User

	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return user, nil
		},
		saveFn: func(ctx context.Context, u *model.User) error {
			savedUser = u
			return nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return &model.Game{AppID: appID, Followers: []string{"u-1"}}, nil
		},
		removeFollowerFn: func(ctx context.Context, appID, userID string) error {
			removedFollower = userID
			return nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	if err := s.Unfollow(context.Background(), "76561198000000001", "440"); err != nil {
		t.Fatalf("Unfollow がエラーを返した: %v", err)
	}

	if removedFollower != "u-1" {
		t.Errorf("除去されたフォロワー = %s, want u-1", removedFollower)
	}
	if savedUser == nil {
		t.Fatal("ユーザーが保存されていない")
	}
	if len(savedUser.FollowedGames) != 1 || savedUser.FollowedGames[0].AppID != "570" {
		t.Errorf("フォローリストが不正: %+v", savedUser.FollowedGames)
	}
}

// TestService_Unfollow_NotFollowing_ReturnsError は未フォロー解除のエラーを検証する。
func TestService_Unfollow_NotFollowing_ReturnsError(t *testing.T) {
	user := &model.User{ID: "u-1", SteamID: "76561198000000001"}

	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return user, nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return nil, nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	err := s.Unfollow(context.Background(), "76561198000000001", "440")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotFollowing {
		t.Errorf("エラーが不正: %v", err)
	}
}

// TestService_EnsureGameFollower_CreateConflict_Continues は並行生成との競合でも
// フォロワー追加へ進むことを検証する。
func TestService_EnsureGameFollower_CreateConflict_Continues(t *testing.T) {
	added := false
	userRepo := &mockUserRepo{
		findBySteamIDFn: func(ctx context.Context, steamID string) (*model.User, error) {
			return nil, nil
		},
	}
	gameRepo := &mockGameRepo{
		findByAppIDFn: func(ctx context.Context, appID string) (*model.Game, error) {
			return nil, nil
		},
		createFn: func(ctx context.Context, game *model.Game) error {
			return errors.New("duplicate key value violates unique constraint")
		},
		addFollowerFn: func(ctx context.Context, appID, userID string) error {
			added = true
			return nil
		},
	}

	s := NewService(userRepo, gameRepo, newTestLogger())

	if err := s.EnsureGameFollower(context.Background(), "u-1", "440", "TF2", ""); err != nil {
		t.Fatalf("EnsureGameFollower がエラーを返した: %v", err)
	}
	if !added {
		t.Error("生成競合後にフォロワー追加が行われなかった")
	}
}
