// Package notify はストア操作の結果をユーザーへ伝える通知先を提供する。
// 通知は投げっぱなしで、配送の成否はストアの動作に影響しない。
package notify

import (
	"fmt"
	"io"
	"log/slog"
)

// Notifier はユーザー向けの成功・失敗メッセージの通知先。
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Nop は何もしないNotifier。
type Nop struct{}

// Success は何もしない。
func (Nop) Success(string) {}

// Error は何もしない。
func (Nop) Error(string) {}

// Log はslogに通知内容を記録するNotifier。
// HTTP経由の利用ではメッセージはレスポンスで返るため、記録のみを行う。
type Log struct {
	logger *slog.Logger
}

// NewLog はLogを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Success は成功メッセージを記録する。
func (n *Log) Success(message string) {
	n.logger.Info("notification", slog.String("kind", "success"), slog.String("message", message))
}

// Error は失敗メッセージを記録する。
func (n *Log) Error(message string) {
	n.logger.Warn("notification", slog.String("kind", "error"), slog.String("message", message))
}

// Writer はメッセージを1行ずつwriterに書き出すNotifier。CLIで使用する。
type Writer struct {
	w io.Writer
}

// NewWriter はWriterを生成する。
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Success は成功メッセージを書き出す。
func (n *Writer) Success(message string) {
	fmt.Fprintf(n.w, "✓ %s\n", message)
}

// Error は失敗メッセージを書き出す。
func (n *Writer) Error(message string) {
	fmt.Fprintf(n.w, "✗ %s\n", message)
}
