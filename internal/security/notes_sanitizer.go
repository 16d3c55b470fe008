// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NotesSanitizer はハイクのメモからHTMLマークアップを取り除き、プレーンテキストとして保存する。
// bluemondayのStrictPolicyで全タグを除去した後、エスケープされた文字実体を元に戻す。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNotesLength はメモの最大文字数（rune数）。超過分は切り詰める。
const MaxNotesLength = 4000

// NotesSanitizerService はメモのサニタイズ機能のインターフェース。
type NotesSanitizerService interface {
	// Sanitize はメモからマークアップを除去したプレーンテキストを返す。
	// 前後の空白は取り除き、MaxNotesLengthを超える部分は切り詰める。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// notesSanitizer はNotesSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type notesSanitizer struct {
	policy *bluemonday.Policy
}

// NewNotesSanitizer はNotesSanitizerServiceの新しいインスタンスを生成する。
func NewNotesSanitizer() *notesSanitizer {
	return &notesSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はメモをプレーンテキストにする。
func (s *notesSanitizer) Sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > MaxNotesLength {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:MaxNotesLength]))
	}
	return text
}

var _ NotesSanitizerService = (*notesSanitizer)(nil)
