package sync

import (
	"testing"
	"time"
)

// TestShouldSync はスロットルゲートの判定を検証する。
func TestShouldSync(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 6 * time.Hour

	tests := []struct {
		name        string
		lastChecked time.Time
		want        bool
	}{
		{
			name:        "未同期（ゼロ値）は常に同期する",
			lastChecked: time.Time{},
			want:        true,
		},
		{
			name:        "クールダウン経過後は同期する",
			lastChecked: now.Add(-7 * time.Hour),
			want:        true,
		},
		{
			name:        "ちょうどクールダウン経過時は同期する",
			lastChecked: now.Add(-6 * time.Hour),
			want:        true,
		},
		{
			name:        "クールダウン未満はスキップ",
			lastChecked: now.Add(-5 * time.Hour),
			want:        false,
		},
		{
			name:        "直前に同期済みはスキップ",
			lastChecked: now.Add(-time.Minute),
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldSync(tt.lastChecked, cooldown, now)
			if got != tt.want {
				t.Errorf("ShouldSync(%v) = %v, want %v", tt.lastChecked, got, tt.want)
			}
		})
	}
}

// TestShouldSync_CustomCooldown はクールダウン窓の変更が反映されることを検証する。
func TestShouldSync_CustomCooldown(t *testing.T) {
	now := time.Now()

	if !ShouldSync(now.Add(-2*time.Minute), time.Minute, now) {
		t.Error("1分クールダウンで2分前の同期がスキップされた")
	}
	if ShouldSync(now.Add(-30*time.Second), time.Minute, now) {
		t.Error("1分クールダウンで30秒前の同期が許可された")
	}
}
