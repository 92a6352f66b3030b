package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが通過することをテストする。
func TestSanitize_AllowedTags(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "段落タグ",
			input: "<p>パッチノート</p>",
			want:  "<p>パッチノート</p>",
		},
		{
			name:  "強調タグ",
			input: "<strong>重要</strong>な<em>お知らせ</em>",
			want:  "<strong>重要</strong>な<em>お知らせ</em>",
		},
		{
			name:  "リスト",
			input: "<ul><li>バランス調整</li><li>バグ修正</li></ul>",
			want:  "<ul><li>バランス調整</li><li>バグ修正</li></ul>",
		},
		{
			name:  "コードブロック",
			input: "<pre><code>-novid</code></pre>",
			want:  "<pre><code>-novid</code></pre>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_RemovesDangerousTags は危険なタグの除去をテストする。
func TestSanitize_RemovesDangerousTags(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		mustNotHas string
	}{
		{
			name:       "scriptタグ",
			input:      "<p>更新</p><script>alert('xss')</script>",
			mustNotHas: "<script",
		},
		{
			name:       "iframeタグ",
			input:      `<iframe src="https://evil.example.com"></iframe>`,
			mustNotHas: "<iframe",
		},
		{
			name:       "styleタグ",
			input:      "<style>body{display:none}</style><p>本文</p>",
			mustNotHas: "<style",
		},
		{
			name:       "onclickイベント属性",
			input:      `<p onclick="alert('xss')">クリック</p>`,
			mustNotHas: "onclick",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			if strings.Contains(got, tt.mustNotHas) {
				t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, tt.mustNotHas)
			}
		})
	}
}

// TestSanitize_LinkAttributes はaタグへのtarget/rel付与をテストする。
func TestSanitize_LinkAttributes(t *testing.T) {
	s := NewContentSanitizer()

	got := s.Sanitize(`<a href="https://store.steampowered.com/news/app/440">詳細</a>`)

	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("expected target=\"_blank\" to be added: %q", got)
	}
	if !strings.Contains(got, "noopener") || !strings.Contains(got, "noreferrer") {
		t.Errorf("expected rel noopener noreferrer to be added: %q", got)
	}
}

// TestSanitize_EmptyInput は空入力に空出力を返すことをテストする。
func TestSanitize_EmptyInput(t *testing.T) {
	s := NewContentSanitizer()

	if got := s.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want \"\"", got)
	}
}

// TestSanitize_Idempotent は同一入力に対する冪等性をテストする。
func TestSanitize_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p>更新内容</p><script>alert(1)</script><a href="https://example.com">リンク</a>`
	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("Sanitize is not idempotent: first=%q second=%q", first, second)
	}
}

// TestPlainText は全タグの除去をテストする。
func TestPlainText(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "タグを全て除去する",
			input: "<p><strong>バランス調整</strong>とバグ修正</p>",
			want:  "バランス調整とバグ修正",
		},
		{
			name:  "scriptの中身も除去する",
			input: "更新<script>alert('xss')</script>内容",
			want:  "更新内容",
		},
		{
			name:  "前後の空白を整える",
			input: "  <p> パッチノート </p>  ",
			want:  "パッチノート",
		},
		{
			name:  "空入力",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.PlainText(tt.input)
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestContentSanitizerInterface はインターフェース実装を検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
