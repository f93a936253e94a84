package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はHTML断片からタグを取り除き、プレーンテキストに変換する。
// フィードから取り込んだタイトルや本文をチケットに格納する前に使用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はタグを除去して文字参照を展開し、連続する空白を1つにまとめる。
// 段落や改行の区切りは空白として残す。
func (s *TextSanitizer) PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}
	stripped := s.policy.Sanitize(blockBreaks.Replace(strings.ToValidUTF8(fragment, "\uFFFD")))
	return collapseSpace(html.UnescapeString(stripped))
}

// Truncate はsをmaxRunes文字以内に切り詰める。切り詰めた場合は末尾を「…」にする。
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return string(runes[:maxRunes])
	}
	return strings.TrimRightFunc(string(runes[:maxRunes-1]), unicode.IsSpace) + "…"
}

// blockBreaks はタグ除去で単語が連結しないよう、ブロック境界に空白を補う。
var blockBreaks = strings.NewReplacer(
	"<br>", " <br>",
	"<br/>", " <br/>",
	"<br />", " <br />",
	"</p>", "</p> ",
	"</li>", "</li> ",
	"</div>", "</div> ",
)

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
