// Package sync はSteamライブラリの照合同期エンジンを提供する。
// スロットルゲート、差分照合、グループスケジューラ、新規ゲーム検出パスを含む。
package sync

import "time"

// DefaultCooldown は同一ユーザーの同期間に置く最小間隔。
const DefaultCooldown = 6 * time.Hour

// ShouldSync は前回同期日時とクールダウン窓から同期可否を判定する。
// 壁時計と保存済みタイムスタンプのみに依存する純粋関数。
// lastCheckedがゼロ値（未同期）の場合は常に同期する。
func ShouldSync(lastChecked time.Time, cooldown time.Duration, now time.Time) bool {
	if lastChecked.IsZero() {
		return true
	}
	return now.Sub(lastChecked) >= cooldown
}
