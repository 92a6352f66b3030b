// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元がリトライ判断できるよう原因カテゴリを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, upstream, storage, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUpstreamError    = "UPSTREAM_ERROR"
	ErrCodeStorageError     = "STORAGE_ERROR"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeGameNotFound     = "GAME_NOT_FOUND"
	ErrCodeUserExists       = "USER_ALREADY_EXISTS"
	ErrCodeAlreadyFollowing = "ALREADY_FOLLOWING"
	ErrCodeNotFollowing     = "NOT_FOLLOWING"
	ErrCodeInvalidSteamID   = "INVALID_STEAM_ID"
)

// NewUpstreamError はSteam API呼び出し失敗エラーを生成する。
// フェッチ失敗・利用不能な応答形式の双方で使用され、
// 該当ユーザーのサイクルは中断される（状態は変更されない）。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("Steam APIの呼び出しに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "一時的な障害の可能性があります。しばらく待ってから再試行してください。",
	}
}

// NewStorageError は永続化層の失敗エラーを生成する。
func NewStorageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageError,
		Message:  fmt.Sprintf("データの保存または読み取りに失敗しました: %s", reason),
		Category: "storage",
		Action:   "再試行しても解決しない場合は管理者に連絡してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(steamID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", steamID),
		Category: "validation",
		Action:   "SteamIDを確認するか、先にユーザー登録を行ってください。",
	}
}

// NewGameNotFoundError はゲームが見つからない場合のエラーを生成する。
func NewGameNotFoundError(appID string) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("指定されたゲームが見つかりません: %s", appID),
		Category: "validation",
		Action:   "appIdを確認してください。",
	}
}

// NewUserExistsError は登録済みユーザーの再登録エラーを生成する。
func NewUserExistsError(steamID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  fmt.Sprintf("このSteamIDは既に登録されています: %s", steamID),
		Category: "validation",
		Action:   "既存ユーザーとして操作を続行してください。",
	}
}

// NewAlreadyFollowingError はフォロー済みゲームの再フォローエラーを生成する。
func NewAlreadyFollowingError(appID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyFollowing,
		Message:  fmt.Sprintf("このゲームは既にフォローしています: %s", appID),
		Category: "validation",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewNotFollowingError は未フォローゲームの解除エラーを生成する。
func NewNotFollowingError(appID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFollowing,
		Message:  fmt.Sprintf("このゲームはフォローしていません: %s", appID),
		Category: "validation",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewInvalidSteamIDError は不正なSteamID形式のエラーを生成する。
func NewInvalidSteamIDError(steamID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSteamID,
		Message:  fmt.Sprintf("SteamIDの形式が不正です: %s", steamID),
		Category: "validation",
		Action:   "17桁の数値形式のSteamID64を指定してください。",
	}
}
