package app

import "fmt"

// Command はサーバー系の起動モード。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

// CommandInfo は起動モードとその説明。
type CommandInfo struct {
	Command Command
	Summary string
}

var commands = []CommandInfo{
	{CommandServe, "HTTP APIサーバーを起動する"},
	{CommandWorker, "保持期間切れワークスペースの削除ジョブを起動する"},
	{CommandMigrate, "データベースのスキーマを作成・更新する"},
	// distrolessイメージのHEALTHCHECKから呼ばれる
	{CommandHealthcheck, "起動中のサーバーのヘルスチェックを行う"},
}

// Commands は起動モードを表示順に返す。
func Commands() []CommandInfo {
	return append([]CommandInfo(nil), commands...)
}

// ParseCommand はargsの先頭から起動モードを決める。
// 引数がなければserveとし、未知のモードはエラーとする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if string(c.Command) == args[0] {
			return c.Command, nil
		}
	}
	return "", fmt.Errorf("unknown command %q", args[0])
}
